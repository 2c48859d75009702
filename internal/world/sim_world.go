package world

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-agent/internal/vec"
)

// SimWorld детерминированный мир на основе WorldGenerator.
// Используется бэкендом "sim" и в тестах; поддерживает ручные правки блоков
// и ограничение исследованной области.
type SimWorld struct {
	generator *WorldGenerator

	// ExploredRadius радиус в чанках (по X/Z) вокруг Center; 0 - без ограничения
	ExploredRadius int32
	Center         vec.Vec3

	mu        sync.RWMutex
	overrides map[vec.Vec3]BlockSample

	chunkFetches  atomic.Int64
	sampleFetches atomic.Int64
}

// NewSimWorld создаёт симулированный мир с указанным сидом
func NewSimWorld(seed int64) *SimWorld {
	return &SimWorld{
		generator: NewWorldGenerator(seed),
		overrides: make(map[vec.Vec3]BlockSample),
	}
}

// Generator возвращает генератор рельефа
func (sw *SimWorld) Generator() *WorldGenerator {
	return sw.generator
}

// SetBlock переопределяет блок в мировой координате
func (sw *SimWorld) SetBlock(pos vec.Vec3, sample BlockSample) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.overrides[pos] = sample
}

// SpawnPoint возвращает стоячую позицию над поверхностью колонки (x,z)
func (sw *SimWorld) SpawnPoint(x, z int32) vec.Vec3 {
	surface := sw.generator.SurfaceHeight(x, z)
	if sea := sw.generator.SeaLevel(); surface < sea {
		surface = sea
	}
	return vec.New(x, surface+1, z)
}

// Explored проверяет, исследован ли чанк
func (sw *SimWorld) Explored(chunk vec.Vec3) bool {
	if sw.ExploredRadius <= 0 {
		return true
	}
	center := sw.Center.ToChunkCoords()
	dx := chunk.X - center.X
	dz := chunk.Z - center.Z
	return max(abs(dx), abs(dz)) <= sw.ExploredRadius
}

// GetBlockSample реализует World
func (sw *SimWorld) GetBlockSample(ctx context.Context, pos vec.Vec3) (BlockSample, error) {
	if err := ctx.Err(); err != nil {
		return BlockSample{}, err
	}
	sw.sampleFetches.Add(1)

	if !sw.Explored(pos.ToChunkCoords()) {
		return BlockSample{}, fmt.Errorf("block %v: %w", pos, ErrChunkNotExplored)
	}

	sw.mu.RLock()
	sample, ok := sw.overrides[pos]
	sw.mu.RUnlock()
	if ok {
		return sample, nil
	}
	return sw.generator.Sample(pos), nil
}

// GetChunkBlocks реализует World
func (sw *SimWorld) GetChunkBlocks(ctx context.Context, chunk vec.Vec3) (ChunkBlocks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sw.chunkFetches.Add(1)

	if !sw.Explored(chunk) {
		return nil, fmt.Errorf("chunk %v: %w", chunk, ErrChunkNotExplored)
	}

	blocks := sw.generator.GenerateChunk(chunk)

	sw.mu.RLock()
	for pos, sample := range sw.overrides {
		if pos.ToChunkCoords() == chunk {
			blocks[pos] = sample
		}
	}
	sw.mu.RUnlock()

	return blocks, nil
}

// ChunkFetches количество запросов чанков
func (sw *SimWorld) ChunkFetches() int64 {
	return sw.chunkFetches.Load()
}

// SampleFetches количество точечных запросов
func (sw *SimWorld) SampleFetches() int64 {
	return sw.sampleFetches.Load()
}

func abs(a int32) int32 {
	if a < 0 {
		return -a
	}
	return a
}
