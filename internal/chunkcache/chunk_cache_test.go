package chunkcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sparseWorld отдаёт только явно заданные блоки; всё остальное отсутствует в выдаче
type sparseWorld struct {
	mu          sync.Mutex
	blocks      map[vec.Vec3]world.BlockSample
	unexplored  map[vec.Vec3]bool
	chunkCalls  int
	sampleCalls int
}

func newSparseWorld() *sparseWorld {
	return &sparseWorld{
		blocks:     make(map[vec.Vec3]world.BlockSample),
		unexplored: make(map[vec.Vec3]bool),
	}
}

func (w *sparseWorld) GetBlockSample(_ context.Context, pos vec.Vec3) (world.BlockSample, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sampleCalls++
	if w.unexplored[pos.ToChunkCoords()] {
		return world.BlockSample{}, world.ErrChunkNotExplored
	}
	if s, ok := w.blocks[pos]; ok {
		return s, nil
	}
	return world.AirSample, nil
}

func (w *sparseWorld) GetChunkBlocks(_ context.Context, chunk vec.Vec3) (world.ChunkBlocks, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunkCalls++
	if w.unexplored[chunk] {
		return nil, world.ErrChunkNotExplored
	}
	out := make(world.ChunkBlocks)
	for pos, s := range w.blocks {
		if pos.ToChunkCoords() == chunk {
			out[pos] = s
		}
	}
	return out, nil
}

func TestChunkCache_HitAfterMiss(t *testing.T) {
	w := newSparseWorld()
	stone := vec.New(1, 2, 3)
	w.blocks[stone] = world.BlockSample{ObjectType: block.Stone}

	c := New(w)
	ctx := context.Background()

	s, err := c.Get(ctx, stone)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, s.ObjectType)

	// Сосед в том же чанке не требует новой загрузки
	s, err = c.Get(ctx, vec.New(2, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, world.AirSample, s, "отсутствующий в чанке блок считается воздухом")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.ChunkFetches)
	assert.Equal(t, 1, w.chunkCalls)
	assert.True(t, c.IsLoaded(vec.New(0, 0, 0)))
}

func TestChunkCache_NegativeCoordinates(t *testing.T) {
	w := newSparseWorld()
	pos := vec.New(-1, -17, -16)
	w.blocks[pos] = world.BlockSample{ObjectType: block.Water}

	c := New(w)
	s, err := c.Get(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, block.Water, s.ObjectType)
	assert.True(t, c.IsLoaded(vec.New(-1, -2, -1)))
}

func TestChunkCache_UnavailableChunk(t *testing.T) {
	w := newSparseWorld()
	w.unexplored[vec.New(5, 0, 5)] = true

	c := New(w)
	_, err := c.Get(context.Background(), vec.New(80, 1, 80))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChunkUnavailable))
	assert.True(t, errors.Is(err, world.ErrChunkNotExplored))
	assert.False(t, c.IsLoaded(vec.New(5, 0, 5)), "неудачная загрузка не помечает чанк загруженным")
}

func TestChunkCache_RefreshAndClear(t *testing.T) {
	w := newSparseWorld()
	pos := vec.New(4, 4, 4)
	c := New(w)
	ctx := context.Background()

	require.NoError(t, c.LoadChunk(ctx, pos.ToChunkCoords()))
	s, err := c.Get(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Air, s.ObjectType)

	// Мир изменился после загрузки
	w.mu.Lock()
	w.blocks[pos] = world.BlockSample{ObjectType: block.Stone}
	w.mu.Unlock()

	s, err = c.Refresh(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, s.ObjectType)

	s, err = c.Get(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, s.ObjectType, "Refresh обновляет загруженный чанк")

	// Refresh в незагруженном чанке не делает его доверенным
	_, err = c.Refresh(ctx, vec.New(100, 0, 0))
	require.NoError(t, err)
	assert.False(t, c.IsLoaded(vec.New(6, 0, 0)))

	c.Clear()
	assert.False(t, c.IsLoaded(pos.ToChunkCoords()))
	assert.Equal(t, 0, c.Stats().CachedSamples)

	// После Clear чанк запрашивается у мира заново
	require.Equal(t, 1, w.chunkCalls)
	s, err = c.Get(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, block.Stone, s.ObjectType)
	assert.Equal(t, 2, w.chunkCalls)
	assert.Equal(t, int64(2), c.Stats().ChunkFetches)
}

func TestChunkCache_ClearForcesFetchNegativeCoords(t *testing.T) {
	w := newSparseWorld()
	pos := vec.New(-5, -30, -17)
	w.blocks[pos] = world.BlockSample{ObjectType: block.Stone}
	c := New(w)
	ctx := context.Background()

	for round := 1; round <= 3; round++ {
		s, err := c.Get(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, block.Stone, s.ObjectType)

		_, err = c.Get(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, round, w.chunkCalls, "повторный Get без Clear обслуживается кешем")
		assert.Equal(t, int64(round), c.Stats().ChunkFetches)
		assert.True(t, c.IsLoaded(vec.New(-1, -2, -2)))

		c.Clear()
	}
}

func TestChunkCache_Prefetch(t *testing.T) {
	w := newSparseWorld()
	w.unexplored[vec.New(9, 0, 0)] = true
	c := New(w, WithPrefetchLimit(2))
	ctx := context.Background()

	chunks := []vec.Vec3{vec.New(0, 0, 0), vec.New(1, 0, 0), vec.New(1, 0, 0), vec.New(2, 0, 0)}
	require.NoError(t, c.Prefetch(ctx, chunks))
	assert.Equal(t, 3, w.chunkCalls, "дубликаты не загружаются повторно")
	for _, ch := range chunks {
		assert.True(t, c.IsLoaded(ch))
	}

	err := c.Prefetch(ctx, []vec.Vec3{vec.New(3, 0, 0), vec.New(9, 0, 0)})
	assert.True(t, errors.Is(err, ErrChunkUnavailable))
	assert.False(t, c.IsLoaded(vec.New(9, 0, 0)))
}

func TestChunkCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	c := New(newSparseWorld(), WithMetrics(m))
	ctx := context.Background()

	_, err := c.Get(ctx, vec.New(0, 0, 0))
	require.NoError(t, err)
	_, err = c.Get(ctx, vec.New(1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChunkCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChunkCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChunkFetches.WithLabelValues("ok")))
}
