// Package storage хранит исследованные чанки: бинарный кодек и локальный
// архив на BadgerDB.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/klauspost/compress/zstd"
)

// Формат блоба (до сжатия):
//
//	[0]      версия формата
//	[1:13]   координаты чанка, 3 x int32 LE
//	[13:]    4096 ячеек по 3 байта: object type u16 LE, biome u8
const (
	codecVersion = 1
	headerSize   = 13
	cellSize     = 3
	chunkCells   = vec.ChunkSize * vec.ChunkSize * vec.ChunkSize
	rawSize      = headerSize + chunkCells*cellSize
)

var (
	// ErrCorruptBlob блоб не удалось разобрать
	ErrCorruptBlob = errors.New("corrupt chunk blob")
	// ErrChunkMismatch блоб принадлежит другому чанку
	ErrChunkMismatch = errors.New("chunk blob mismatch")
)

// ChunkCodec сжимает содержимое чанка в компактный блоб (zstd).
// Encoder и Decoder потокобезопасны в режиме EncodeAll/DecodeAll.
type ChunkCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewChunkCodec создаёт кодек
func NewChunkCodec() (*ChunkCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(4*rawSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ChunkCodec{enc: enc, dec: dec}, nil
}

// Encode упаковывает блоки чанка. Блоки чужих чанков игнорируются,
// отсутствующие ячейки записываются как воздух.
func (c *ChunkCodec) Encode(chunk vec.Vec3, blocks world.ChunkBlocks) []byte {
	raw := make([]byte, rawSize)
	raw[0] = codecVersion
	binary.LittleEndian.PutUint32(raw[1:], uint32(chunk.X))
	binary.LittleEndian.PutUint32(raw[5:], uint32(chunk.Y))
	binary.LittleEndian.PutUint32(raw[9:], uint32(chunk.Z))

	for pos, s := range blocks {
		if pos.ToChunkCoords() != chunk {
			continue
		}
		off := headerSize + pos.LocalIndex()*cellSize
		binary.LittleEndian.PutUint16(raw[off:], uint16(s.ObjectType))
		raw[off+2] = s.Biome
	}

	return c.enc.EncodeAll(raw, make([]byte, 0, 512))
}

// Decode распаковывает блоб и проверяет, что он относится к chunk.
// В результат попадают только непустые ячейки: отсутствие ячейки означает воздух.
func (c *ChunkCodec) Decode(chunk vec.Vec3, blob []byte) (world.ChunkBlocks, error) {
	raw, err := c.dec.DecodeAll(blob, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	if len(raw) != rawSize || raw[0] != codecVersion {
		return nil, fmt.Errorf("%w: size %d, version %d", ErrCorruptBlob, len(raw), raw[0])
	}

	stored := vec.New(
		int32(binary.LittleEndian.Uint32(raw[1:])),
		int32(binary.LittleEndian.Uint32(raw[5:])),
		int32(binary.LittleEndian.Uint32(raw[9:])),
	)
	if stored != chunk {
		return nil, fmt.Errorf("%w: want %v, got %v", ErrChunkMismatch, chunk, stored)
	}

	origin := chunk.ChunkOrigin()
	blocks := make(world.ChunkBlocks)
	for i := 0; i < chunkCells; i++ {
		off := headerSize + i*cellSize
		s := world.BlockSample{
			ObjectType: block.ObjectType(binary.LittleEndian.Uint16(raw[off:])),
			Biome:      raw[off+2],
		}
		if s == world.AirSample {
			continue
		}
		local := vec.New(int32(i&0xF), int32(i>>8), int32((i>>4)&0xF))
		blocks[origin.Add(local)] = s
	}
	return blocks, nil
}

// Close освобождает ресурсы zstd
func (c *ChunkCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// ChunkKey ключ чанка в кешах и архиве
func ChunkKey(chunk vec.Vec3) string {
	return fmt.Sprintf("chunk:%d:%d:%d", chunk.X, chunk.Y, chunk.Z)
}
