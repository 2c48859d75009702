package world

import (
	"math"

	"github.com/annel0/voxel-agent/internal/util"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world/block"
)

// BiomeType представляет тип биома
type BiomeType uint8

const (
	BiomePlains BiomeType = iota
	BiomeDesert
	BiomeForest
	BiomeMountains
	BiomeWater
	BiomeDeepWater
)

// Константы высот для генерации (доля от амплитуды рельефа)
const (
	DeepWaterMax    = 0.20 // Ниже - глубинная вода
	ShallowWaterMax = 0.30 // Ниже - мелководье
	MountainStart   = 0.80 // Выше - горы
)

// WorldGenerator генерирует ландшафт мира по колонкам (x,z)
type WorldGenerator struct {
	Seed       int64   // Сид для генерации шума
	NoiseScale float64 // Масштаб основного шума (высота)
	BiomeScale float64 // Масштаб шума биомов
	BaseHeight int32   // Высота самой низкой точки рельефа
	Amplitude  int32   // Перепад высот
	LavaChance float64 // Порог появления лавы в глубине (0..1, больше - реже)
	FlowerRate float64 // Доля колонок с цветами/травой на поверхности

	height *util.Noise
	biome  *util.Noise
	caves  *util.Noise
}

// NewWorldGenerator создаёт новый генератор мира
func NewWorldGenerator(seed int64) *WorldGenerator {
	return &WorldGenerator{
		Seed:       seed,
		NoiseScale: 0.02, // Настройка сглаженности ландшафта
		BiomeScale: 0.01, // Настройка размера биомов
		BaseHeight: 48,
		Amplitude:  32,
		LavaChance: 0.82,
		FlowerRate: 0.08,
		height:     util.NewNoise(seed),
		biome:      util.NewNoise(seed + 42),
		caves:      util.NewNoise(seed + 7),
	}
}

// SeaLevel высота уровня воды
func (wg *WorldGenerator) SeaLevel() int32 {
	return wg.BaseHeight + int32(float64(wg.Amplitude)*ShallowWaterMax)
}

// SurfaceHeight возвращает высоту верхнего твёрдого блока колонки
func (wg *WorldGenerator) SurfaceHeight(x, z int32) int32 {
	h := wg.height.Noise2D(float64(x)*wg.NoiseScale, float64(z)*wg.NoiseScale)
	return wg.BaseHeight + int32(math.Round(h*float64(wg.Amplitude)))
}

// Biome определяет биом колонки
func (wg *WorldGenerator) Biome(x, z int32) BiomeType {
	h := float64(wg.SurfaceHeight(x, z)-wg.BaseHeight) / float64(wg.Amplitude)
	b := wg.biome.Noise2D(float64(x)*wg.BiomeScale, float64(z)*wg.BiomeScale)
	return biomeFor(h, b)
}

// Sample возвращает образец блока в мировой координате
func (wg *WorldGenerator) Sample(pos vec.Vec3) BlockSample {
	surface := wg.SurfaceHeight(pos.X, pos.Z)
	biome := wg.Biome(pos.X, pos.Z)
	return BlockSample{ObjectType: wg.objectAt(pos, surface, biome), Biome: uint8(biome)}
}

// GenerateChunk генерирует все блоки чанка по его координатам
func (wg *WorldGenerator) GenerateChunk(chunk vec.Vec3) ChunkBlocks {
	origin := chunk.ChunkOrigin()
	blocks := make(ChunkBlocks, vec.ChunkSize*vec.ChunkSize*vec.ChunkSize)

	// Высота и биом считаются один раз на колонку
	for z := int32(0); z < vec.ChunkSize; z++ {
		for x := int32(0); x < vec.ChunkSize; x++ {
			gx, gz := origin.X+x, origin.Z+z
			surface := wg.SurfaceHeight(gx, gz)
			biome := wg.Biome(gx, gz)

			for y := int32(0); y < vec.ChunkSize; y++ {
				pos := vec.New(gx, origin.Y+y, gz)
				blocks[pos] = BlockSample{ObjectType: wg.objectAt(pos, surface, biome), Biome: uint8(biome)}
			}
		}
	}

	return blocks
}

// objectAt выбирает тип объекта в точке колонки
func (wg *WorldGenerator) objectAt(pos vec.Vec3, surface int32, biome BiomeType) block.ObjectType {
	switch {
	case pos.Y > surface:
		if pos.Y <= wg.SeaLevel() {
			return block.Water
		}
		if pos.Y == surface+1 && biome != BiomeDesert && wg.decorated(pos.X, pos.Z) {
			if (pos.X+pos.Z)%3 == 0 {
				return block.Flower
			}
			return block.TallGrass
		}
		return block.Air

	case pos.Y == surface:
		return wg.getSurfaceBlockForBiome(biome)

	case pos.Y > surface-4:
		if biome == BiomeDesert {
			return block.Sand
		}
		return block.Dirt

	default:
		// Лавовые карманы только в глубине
		if pos.Y < surface-8 && wg.caves.Noise3D(float64(pos.X)*0.1, float64(pos.Y)*0.1, float64(pos.Z)*0.1) > wg.LavaChance {
			return block.Lava
		}
		return block.Stone
	}
}

// decorated детерминированно решает, есть ли растительность на колонке
func (wg *WorldGenerator) decorated(x, z int32) bool {
	h := uint64(int64(x)*73856093) ^ uint64(int64(z)*19349663) ^ uint64(wg.Seed)
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return float64(h%1000)/1000.0 < wg.FlowerRate
}

// getSurfaceBlockForBiome возвращает верхний блок для указанного биома
func (wg *WorldGenerator) getSurfaceBlockForBiome(biome BiomeType) block.ObjectType {
	switch biome {
	case BiomeDesert, BiomeWater, BiomeDeepWater:
		return block.Sand
	case BiomeMountains:
		return block.Stone
	default:
		return block.Grass
	}
}

// biomeFor определяет тип биома на основе значений шума
func biomeFor(height, biomeValue float64) BiomeType {
	// Водные биомы в низинах
	if height < DeepWaterMax {
		return BiomeDeepWater
	}
	if height < ShallowWaterMax {
		return BiomeWater
	}

	// Горные биомы на возвышенностях
	if height > MountainStart {
		return BiomeMountains
	}

	// Для средних высот выбираем биом на основе biomeValue
	if biomeValue < 0.35 {
		return BiomeDesert
	} else if biomeValue > 0.65 {
		return BiomeForest
	}

	return BiomePlains
}
