package movement

import (
	"fmt"

	"github.com/annel0/voxel-agent/internal/vec"
)

// Batch последовательность шагов одной транзакции
type Batch struct {
	Steps     []vec.Vec3 `json:"steps"`
	MoveUnits int        `json:"move_units"`
}

// Last последний шаг партии
func (b Batch) Last() vec.Vec3 {
	return b.Steps[len(b.Steps)-1]
}

// StepCost стоимость шага в клетку в единицах движения
type StepCost func(to vec.Vec3) (int, error)

// Partition делит путь (первая точка - текущая позиция) на партии с суммой
// единиц движения не больше limit. Новая партия начинается на первом шаге,
// который переполнил бы текущую.
func Partition(path []vec.Vec3, cost StepCost, limit int) ([]Batch, error) {
	if len(path) < 2 {
		return nil, nil
	}

	var (
		batches []Batch
		cur     Batch
	)
	for _, step := range path[1:] {
		c, err := cost(step)
		if err != nil {
			return nil, fmt.Errorf("step %v: %w", step, err)
		}
		if c > limit {
			return nil, fmt.Errorf("step %v costs %d > %d: %w", step, c, limit, ErrStepExceedsCap)
		}
		if len(cur.Steps) > 0 && cur.MoveUnits+c > limit {
			batches = append(batches, cur)
			cur = Batch{}
		}
		cur.Steps = append(cur.Steps, step)
		cur.MoveUnits += c
	}
	if len(cur.Steps) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}
