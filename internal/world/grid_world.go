package world

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world/block"
)

// GridWorld мир, заданный функцией от координаты и точечными правками.
// Используется для плоских полигонов (agentctl plan --flat) и в тестах.
type GridWorld struct {
	base func(pos vec.Vec3) block.ObjectType

	mu         sync.RWMutex
	overrides  map[vec.Vec3]block.ObjectType
	unexplored func(chunk vec.Vec3) bool

	chunkFetches atomic.Int64
}

// NewGridWorld создаёт мир по функции базового рельефа
func NewGridWorld(base func(pos vec.Vec3) block.ObjectType) *GridWorld {
	return &GridWorld{
		base:      base,
		overrides: make(map[vec.Vec3]block.ObjectType),
	}
}

// NewFlatWorld плоский мир: камень на высоте floorY и ниже, воздух выше
func NewFlatWorld(floorY int32) *GridWorld {
	return NewGridWorld(func(pos vec.Vec3) block.ObjectType {
		if pos.Y <= floorY {
			return block.Stone
		}
		return block.Air
	})
}

// Set задаёт тип объекта в клетке
func (g *GridWorld) Set(pos vec.Vec3, t block.ObjectType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides[pos] = t
}

// Fill заполняет параллелепипед [lo, hi] включительно
func (g *GridWorld) Fill(lo, hi vec.Vec3, t block.ObjectType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				g.overrides[vec.New(x, y, z)] = t
			}
		}
	}
}

// SetUnexplored задаёт предикат неисследованных чанков
func (g *GridWorld) SetUnexplored(fn func(chunk vec.Vec3) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unexplored = fn
}

func (g *GridWorld) objectAt(pos vec.Vec3) block.ObjectType {
	if t, ok := g.overrides[pos]; ok {
		return t
	}
	return g.base(pos)
}

func (g *GridWorld) explored(chunk vec.Vec3) bool {
	return g.unexplored == nil || !g.unexplored(chunk)
}

// GetBlockSample реализует World
func (g *GridWorld) GetBlockSample(ctx context.Context, pos vec.Vec3) (BlockSample, error) {
	if err := ctx.Err(); err != nil {
		return BlockSample{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.explored(pos.ToChunkCoords()) {
		return BlockSample{}, fmt.Errorf("block %v: %w", pos, ErrChunkNotExplored)
	}
	return BlockSample{ObjectType: g.objectAt(pos)}, nil
}

// GetChunkBlocks реализует World
func (g *GridWorld) GetChunkBlocks(ctx context.Context, chunk vec.Vec3) (ChunkBlocks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.chunkFetches.Add(1)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.explored(chunk) {
		return nil, fmt.Errorf("chunk %v: %w", chunk, ErrChunkNotExplored)
	}

	blocks := make(ChunkBlocks, vec.ChunkSize*vec.ChunkSize*vec.ChunkSize)
	for _, pos := range ChunkPositions(chunk) {
		blocks[pos] = BlockSample{ObjectType: g.objectAt(pos)}
	}
	return blocks, nil
}

// ChunkFetches количество запросов чанков
func (g *GridWorld) ChunkFetches() int64 {
	return g.chunkFetches.Load()
}
