package physics

import (
	"context"
	"errors"
	"testing"

	"github.com/annel0/voxel-agent/internal/chunkcache"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(w world.World) *CostModel {
	return NewCostModel(chunkcache.New(w), block.NewDefaultTable(), DefaultParams())
}

func standing(pos vec.Vec3) Node {
	return Node{Pos: pos}
}

func TestEvaluate_TooFar(t *testing.T) {
	m := newModel(world.NewFlatWorld(63))
	tr := m.Evaluate(context.Background(), standing(vec.New(0, 64, 0)), vec.New(2, 64, 0), vec.New(10, 64, 0))
	assert.Equal(t, Rejected, tr.Outcome)
	assert.Equal(t, TooFar, tr.Reason)
}

func TestEvaluate_NonPassable(t *testing.T) {
	w := world.NewFlatWorld(63)
	w.Set(vec.New(1, 65, 0), block.Stone)
	m := newModel(w)
	ctx := context.Background()
	target := vec.New(10, 64, 0)

	tr := m.Evaluate(ctx, standing(vec.New(0, 64, 0)), vec.New(1, 63, 0), target)
	assert.Equal(t, NonPassableBlock, tr.Reason, "ноги в камне")

	tr = m.Evaluate(ctx, standing(vec.New(0, 64, 0)), vec.New(1, 64, 0), target)
	assert.Equal(t, NonPassableBlock, tr.Reason, "голова в камне")
}

func TestEvaluate_FourthClimbRejected(t *testing.T) {
	m := newModel(world.NewFlatWorld(63))
	ctx := context.Background()
	target := vec.New(0, 80, 0)

	node := standing(vec.New(0, 64, 0))
	for i := 1; i <= 3; i++ {
		to := node.Pos.Up(1)
		tr := m.Evaluate(ctx, node, to, target)
		require.True(t, tr.Ok(), "подъём %d должен быть разрешён", i)
		assert.Equal(t, i, tr.Next.Jumps)
		assert.True(t, tr.Next.HasGravity)
		node = Node{Pos: to, State: tr.Next}
	}

	tr := m.Evaluate(ctx, node, node.Pos.Up(1), target)
	assert.Equal(t, Rejected, tr.Outcome)
	assert.Equal(t, TooManyJumps, tr.Reason)
}

func TestEvaluate_LandingResetsCounters(t *testing.T) {
	w := world.NewFlatWorld(63)
	w.Set(vec.New(1, 65, 0), block.Stone)
	m := newModel(w)

	from := Node{Pos: vec.New(0, 66, 0), State: State{Jumps: 2, Glides: 1, HasGravity: true}}
	tr := m.Evaluate(context.Background(), from, vec.New(1, 66, 0), vec.New(10, 66, 0))
	require.True(t, tr.Ok())
	assert.Equal(t, State{}, tr.Next)
}

func TestEvaluate_Glides(t *testing.T) {
	sky := world.NewGridWorld(func(vec.Vec3) block.ObjectType { return block.Air })
	m := newModel(sky)
	ctx := context.Background()
	target := vec.New(50, 100, 0)

	from := Node{Pos: vec.New(0, 100, 0), State: State{Glides: 9, HasGravity: true}}
	tr := m.Evaluate(ctx, from, vec.New(1, 100, 0), target)
	require.True(t, tr.Ok())
	assert.Equal(t, 10, tr.Next.Glides)

	from.State.Glides = 10
	tr = m.Evaluate(ctx, from, vec.New(1, 100, 0), target)
	assert.Equal(t, TooManyGlides, tr.Reason)

	// Шаг вниз в воздухе считается падением и обнуляет скольжение
	tr = m.Evaluate(ctx, from, vec.New(1, 99, 0), target)
	require.True(t, tr.Ok())
	assert.Equal(t, 0, tr.Next.Glides)
	assert.Equal(t, 1, tr.Next.FallHeight)
}

func TestEvaluate_UnsafeFall(t *testing.T) {
	m := newModel(world.NewFlatWorld(63))
	ctx := context.Background()
	target := vec.New(10, 64, 0)

	// Падение в воздухе без приземления разрешено при любой высоте
	tr := m.Evaluate(ctx, Node{Pos: vec.New(0, 68, 0), State: State{FallHeight: 3, HasGravity: true}}, vec.New(0, 67, 0), target)
	require.True(t, tr.Ok())
	assert.Equal(t, 4, tr.Next.FallHeight)

	tr = m.Evaluate(ctx, Node{Pos: vec.New(0, 65, 0), State: State{FallHeight: 3, HasGravity: true}}, vec.New(0, 64, 0), target)
	assert.Equal(t, UnsafeFall, tr.Reason)

	tr = m.Evaluate(ctx, Node{Pos: vec.New(0, 65, 0), State: State{FallHeight: 2, HasGravity: true}}, vec.New(0, 64, 0), target)
	require.True(t, tr.Ok())
	assert.Equal(t, State{}, tr.Next)
	assert.InDelta(t, 1+1.5*3, tr.Cost, 1e-9, "штраф за падение считается до сброса")
}

func TestEvaluate_TerrainCosts(t *testing.T) {
	w := world.NewFlatWorld(63)
	w.Set(vec.New(0, 64, 1), block.Water)
	w.Set(vec.New(0, 64, -1), block.Lava)
	m := newModel(w)
	ctx := context.Background()
	from := standing(vec.New(0, 64, 0))
	target := vec.New(20, 64, 0)

	tr := m.Evaluate(ctx, from, vec.New(1, 64, 0), target)
	require.True(t, tr.Ok())
	assert.Equal(t, 10, tr.MoveUnits)
	assert.InDelta(t, 1-100, tr.Cost, 1e-9)

	tr = m.Evaluate(ctx, from, vec.New(0, 64, 1), target)
	require.True(t, tr.Ok())
	assert.Equal(t, TerrainWater, tr.Terrain)
	assert.Equal(t, 25, tr.MoveUnits)
	assert.InDelta(t, 1+5, tr.Cost, 1e-9)
	assert.False(t, tr.Next.HasGravity, "в жидкости гравитация не действует")

	tr = m.Evaluate(ctx, from, vec.New(0, 64, -1), target)
	require.True(t, tr.Ok())
	assert.Equal(t, 60, tr.MoveUnits)
	assert.InDelta(t, 1+50, tr.Cost, 1e-9)
}

func TestEvaluate_HighAltitudeAndTarget(t *testing.T) {
	m := newModel(world.NewFlatWorld(250))
	ctx := context.Background()
	from := standing(vec.New(0, 251, 0))

	tr := m.Evaluate(ctx, from, vec.New(1, 251, 0), vec.New(0, 251, 10))
	require.True(t, tr.Ok())
	assert.InDelta(t, 1+2, tr.Cost, 1e-9)

	tr = m.Evaluate(ctx, from, vec.New(1, 251, 0), vec.New(1, 251, 0))
	require.True(t, tr.Ok())
	assert.Equal(t, DefaultParams().TargetReached, tr.Cost)
}

func TestDirectionalBias(t *testing.T) {
	m := newModel(world.NewFlatWorld(0))
	origin := vec.New(0, 0, 0)
	target := vec.New(10, 0, 0)

	tests := []struct {
		name string
		to   vec.Vec3
		want float64
	}{
		{"прямо на цель", vec.New(1, 0, 0), -100},
		{"по диагонали к цели", vec.New(1, 0, 1), -10},
		{"поперёк", vec.New(0, 0, 1), 0},
		{"от цели", vec.New(-1, 0, 0), 100},
		{"вертикально", vec.New(0, 1, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.DirectionalBias(origin, tt.to, target))
		})
	}

	assert.Equal(t, 0.0, m.DirectionalBias(origin, vec.New(1, 0, 0), vec.New(0, 30, 0)), "цель строго над агентом")
}

func TestEvaluate_FaultOnUnexploredChunk(t *testing.T) {
	w := world.NewFlatWorld(63)
	w.SetUnexplored(func(chunk vec.Vec3) bool { return chunk.X > 0 })
	m := newModel(w)

	tr := m.Evaluate(context.Background(), standing(vec.New(15, 64, 0)), vec.New(16, 64, 0), vec.New(30, 64, 0))
	assert.Equal(t, Fault, tr.Outcome)
	assert.True(t, errors.Is(tr.Err, chunkcache.ErrChunkUnavailable))
	assert.True(t, errors.Is(tr.Err, world.ErrChunkNotExplored))
}

func TestIsStanding(t *testing.T) {
	w := world.NewFlatWorld(63)
	w.Set(vec.New(2, 65, 2), block.Stone)
	m := newModel(w)
	ctx := context.Background()

	ok, err := m.IsStanding(ctx, vec.New(0, 64, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsStanding(ctx, vec.New(0, 65, 0))
	require.NoError(t, err)
	assert.False(t, ok, "висит в воздухе")

	ok, err = m.IsStanding(ctx, vec.New(2, 64, 2))
	require.NoError(t, err)
	assert.False(t, ok, "голова упирается в блок")
}

func TestBodyCells(t *testing.T) {
	cells := DefaultBody.Cells(vec.New(1, 2, 3))
	assert.Equal(t, []vec.Vec3{vec.New(1, 2, 3), vec.New(1, 3, 3)}, cells)
	assert.Equal(t, vec.New(1, 3, 3), DefaultBody.Head(vec.New(1, 2, 3)))
	assert.Equal(t, vec.New(1, 1, 3), DefaultBody.Support(vec.New(1, 2, 3)))
}
