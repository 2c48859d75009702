package movement

import (
	"errors"
	"testing"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func straightPath(n int) []vec.Vec3 {
	path := make([]vec.Vec3, 0, n+1)
	for i := 0; i <= n; i++ {
		path = append(path, vec.New(int32(i), 64, 0))
	}
	return path
}

func TestPartition_BoundariesAtFirstOverflow(t *testing.T) {
	costs := []int{10, 25, 10, 60, 10, 10, 25, 25, 60, 10}
	path := straightPath(len(costs))
	costOf := func(to vec.Vec3) (int, error) { return costs[to.X-1], nil }
	const limit = 70

	batches, err := Partition(path, costOf, limit)
	require.NoError(t, err)
	require.NotEmpty(t, batches)

	total := 0
	for i, b := range batches {
		assert.LessOrEqual(t, b.MoveUnits, limit, "партия %d превышает лимит", i)
		total += len(b.Steps)

		if i+1 < len(batches) {
			next, _ := costOf(batches[i+1].Steps[0])
			assert.Greater(t, b.MoveUnits+next, limit, "граница партии %d должна быть на первом переполнении", i)
		}
	}
	assert.Equal(t, len(costs), total, "все шаги должны попасть в партии")
	assert.Equal(t, path[1], batches[0].Steps[0], "стартовая позиция не входит в партию")
	assert.Equal(t, path[len(path)-1], batches[len(batches)-1].Last())
}

func TestPartition_Trivial(t *testing.T) {
	batches, err := Partition([]vec.Vec3{vec.New(0, 0, 0)}, func(vec.Vec3) (int, error) { return 10, nil }, 500)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestPartition_StepExceedsCap(t *testing.T) {
	_, err := Partition(straightPath(3), func(vec.Vec3) (int, error) { return 600, nil }, 500)
	assert.True(t, errors.Is(err, ErrStepExceedsCap))
}

func TestPartition_CostError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Partition(straightPath(3), func(vec.Vec3) (int, error) { return 0, boom }, 500)
	assert.True(t, errors.Is(err, boom))
}
