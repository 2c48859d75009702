package physics

import (
	"github.com/annel0/voxel-agent/internal/vec"
)

// Body описывает тело агента в блоках: колонка шириной 1 и высотой Height.
// Нижняя клетка - ноги, верхняя - голова.
type Body struct {
	Height int32
}

// DefaultBody стандартное тело: ноги + голова
var DefaultBody = Body{Height: 2}

// Cells возвращает клетки, занимаемые телом, стоящим ногами в feet (снизу вверх)
func (b Body) Cells(feet vec.Vec3) []vec.Vec3 {
	h := b.Height
	if h < 1 {
		h = 1
	}
	cells := make([]vec.Vec3, 0, h)
	for i := int32(0); i < h; i++ {
		cells = append(cells, feet.Up(i))
	}
	return cells
}

// Head возвращает клетку головы
func (b Body) Head(feet vec.Vec3) vec.Vec3 {
	if b.Height < 2 {
		return feet
	}
	return feet.Up(b.Height - 1)
}

// Support возвращает опорную клетку под ногами
func (b Body) Support(feet vec.Vec3) vec.Vec3 {
	return feet.Down(1)
}
