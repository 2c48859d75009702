package world

import (
	"context"
	"errors"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world/block"
)

// ErrChunkNotExplored чанк ещё не исследован и не может быть выдан миром
var ErrChunkNotExplored = errors.New("chunk not explored")

// BlockSample содержимое одного вокселя
type BlockSample struct {
	ObjectType block.ObjectType `json:"object_type"`
	Biome      uint8            `json:"biome"`
}

// AirSample пустой воксель; используется для координат, отсутствующих в выдаче чанка
var AirSample = BlockSample{ObjectType: block.Air}

// ChunkBlocks содержимое одного чанка: мировая координата -> образец
type ChunkBlocks map[vec.Vec3]BlockSample

// World внешний источник данных о мире (RPC к контракту, симулятор, кеш).
//
// GetChunkBlocks принимает координаты чанка (не мировые) и возвращает
// образцы всех известных блоков чанка. Оба метода возвращают ошибку,
// обёрнутую вокруг ErrChunkNotExplored, если данные недоступны.
type World interface {
	GetBlockSample(ctx context.Context, pos vec.Vec3) (BlockSample, error)
	GetChunkBlocks(ctx context.Context, chunk vec.Vec3) (ChunkBlocks, error)
}

// ChunkPositions перечисляет мировые координаты всех блоков чанка в порядке LocalIndex
func ChunkPositions(chunk vec.Vec3) []vec.Vec3 {
	origin := chunk.ChunkOrigin()
	out := make([]vec.Vec3, 0, vec.ChunkSize*vec.ChunkSize*vec.ChunkSize)
	for y := int32(0); y < vec.ChunkSize; y++ {
		for z := int32(0); z < vec.ChunkSize; z++ {
			for x := int32(0); x < vec.ChunkSize; x++ {
				out = append(out, origin.Add(vec.New(x, y, z)))
			}
		}
	}
	return out
}
