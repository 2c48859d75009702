package vec

import (
	"fmt"
	"math"
)

// ChunkSize длина ребра чанка в блоках (по всем трём осям)
const ChunkSize = 16

// chunkShift log2(ChunkSize); арифметический сдвиг даёт деление с округлением вниз
const chunkShift = 4

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Y - вертикальная ось.
type Vec3 struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// New создаёт Vec3 из целых чисел
func New(x, y, z int32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// ToChunkCoords преобразует глобальные координаты в координаты чанка.
// Отрицательные координаты попадают в свой чанк: -1 >> 4 == -1.
func (v Vec3) ToChunkCoords() Vec3 {
	return Vec3{X: v.X >> chunkShift, Y: v.Y >> chunkShift, Z: v.Z >> chunkShift}
}

// ChunkOrigin возвращает мировые координаты нулевого блока чанка
func (v Vec3) ChunkOrigin() Vec3 {
	return Vec3{X: v.X << chunkShift, Y: v.Y << chunkShift, Z: v.Z << chunkShift}
}

// LocalInChunk возвращает локальные координаты внутри чанка (0..15)
func (v Vec3) LocalInChunk() Vec3 {
	return Vec3{X: v.X & 0xF, Y: v.Y & 0xF, Z: v.Z & 0xF}
}

// LocalIndex возвращает индекс блока внутри чанка: x | z<<4 | y<<8
func (v Vec3) LocalIndex() int {
	l := v.LocalInChunk()
	return int(l.X) | int(l.Z)<<chunkShift | int(l.Y)<<(2*chunkShift)
}

// DistanceTo возвращает квадрат евклидова расстояния до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	dz := float64(v.Z - other.Z)
	return dx*dx + dy*dy + dz*dz
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}

// Euclidean возвращает евклидово расстояние
func (v Vec3) Euclidean(other Vec3) float64 {
	return math.Sqrt(v.DistanceTo(other))
}

// Chebyshev возвращает max(|dx|,|dy|,|dz|)
func (v Vec3) Chebyshev(other Vec3) int32 {
	return max(abs32(v.X-other.X), abs32(v.Y-other.Y), abs32(v.Z-other.Z))
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Up возвращает блок выше на n
func (v Vec3) Up(n int32) Vec3 {
	return Vec3{X: v.X, Y: v.Y + n, Z: v.Z}
}

// Down возвращает блок ниже на n
func (v Vec3) Down(n int32) Vec3 {
	return Vec3{X: v.X, Y: v.Y - n, Z: v.Z}
}

// Horizontal возвращает горизонтальную проекцию (X,Z) как Vec2Float
func (v Vec3) Horizontal() Vec2Float {
	return Vec2Float{X: float64(v.X), Y: float64(v.Z)}
}

func abs32(a int32) int32 {
	if a < 0 {
		return -a
	}
	return a
}
