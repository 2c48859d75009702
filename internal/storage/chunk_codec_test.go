package storage

import (
	"testing"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCodec_PreservesNonAirCells(t *testing.T) {
	codec, err := NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	chunk := vec.New(-2, 3, 5)
	origin := chunk.ChunkOrigin()
	blocks := world.ChunkBlocks{
		origin:                          {ObjectType: block.Stone, Biome: 2},
		origin.Add(vec.New(15, 15, 15)): {ObjectType: block.Water},
		origin.Add(vec.New(3, 9, 11)):   {ObjectType: block.Lava, Biome: 7},
		origin.Add(vec.New(1, 1, 1)):    world.AirSample,
		vec.New(1000, 1000, 1000):       {ObjectType: block.Stone}, // чужой чанк
	}

	blob := codec.Encode(chunk, blocks)
	assert.Less(t, len(blob), rawSize/4, "почти пустой чанк должен хорошо сжиматься")

	decoded, err := codec.Decode(chunk, blob)
	require.NoError(t, err)
	assert.Len(t, decoded, 3)
	assert.Equal(t, blocks[origin], decoded[origin])
	assert.Equal(t, block.Lava, decoded[origin.Add(vec.New(3, 9, 11))].ObjectType)
	assert.Equal(t, uint8(7), decoded[origin.Add(vec.New(3, 9, 11))].Biome)
	assert.NotContains(t, decoded, vec.New(1000, 1000, 1000))
}

func TestChunkCodec_RejectsWrongChunkAndGarbage(t *testing.T) {
	codec, err := NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	blob := codec.Encode(vec.New(0, 0, 0), world.ChunkBlocks{})

	_, err = codec.Decode(vec.New(0, 1, 0), blob)
	assert.ErrorIs(t, err, ErrChunkMismatch)

	_, err = codec.Decode(vec.New(0, 0, 0), []byte("not a zstd frame"))
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "chunk:-1:4:0", ChunkKey(vec.New(-1, 4, 0)))
}
