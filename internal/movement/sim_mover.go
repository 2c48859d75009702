package movement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-agent/internal/physics"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/google/uuid"
)

// SimMover исполнитель перемещений поверх world.World.
// Транзакция атомарна: при ошибке позиция не меняется. После применения шагов
// агент падает, пока под ногами пусто, как это делает игра.
type SimMover struct {
	world  world.World
	table  *block.Table
	params physics.Params

	// MoveUnitCap лимит единиц движения на транзакцию; 0 - без лимита
	MoveUnitCap int
	// MaxFall ограничивает падение после транзакции
	MaxFall int32

	mu        sync.Mutex
	pos       vec.Vec3
	failNext  int
	failErr   error
	submitted int
	history   []vec.Vec3
}

// NewSimMover создаёт исполнитель в позиции start
func NewSimMover(w world.World, start vec.Vec3) *SimMover {
	return &SimMover{
		world:       w,
		table:       block.Default,
		params:      physics.DefaultParams(),
		MoveUnitCap: DefaultOptions().MoveUnitCap,
		MaxFall:     64,
		pos:         start,
	}
}

// WithTable задаёт таблицу свойств объектов
func (m *SimMover) WithTable(t *block.Table) *SimMover {
	m.table = t
	return m
}

// FailNext заставляет следующие n транзакций завершиться ошибкой
func (m *SimMover) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Teleport переносит агента без транзакции
func (m *SimMover) Teleport(pos vec.Vec3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
}

// Submitted количество принятых транзакций
func (m *SimMover) Submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted
}

// History все позиции, через которые прошёл агент
func (m *SimMover) History() []vec.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vec.Vec3(nil), m.history...)
}

// CurrentPosition реализует Mover
func (m *SimMover) CurrentPosition(ctx context.Context) (vec.Vec3, error) {
	if err := ctx.Err(); err != nil {
		return vec.Vec3{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

// SubmitMoveBatch реализует Mover
func (m *SimMover) SubmitMoveBatch(ctx context.Context, steps []vec.Vec3) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		if err == nil {
			err = errors.New("injected failure")
		}
		return Confirmation{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	pos := m.pos
	units := 0
	for i, step := range steps {
		if pos.Chebyshev(step) > m.params.MaxStep {
			return Confirmation{}, fmt.Errorf("step %d %v -> %v: not adjacent: %w", i, pos, step, ErrTransactionFailed)
		}
		for _, cell := range physics.DefaultBody.Cells(step) {
			s, err := m.world.GetBlockSample(ctx, cell)
			if err != nil {
				return Confirmation{}, fmt.Errorf("step %d: %w: %w", i, ErrTransactionFailed, err)
			}
			if !m.table.IsPassable(s.ObjectType) {
				return Confirmation{}, fmt.Errorf("step %d %v blocked by %s: %w", i, step, m.table.Name(s.ObjectType), ErrTransactionFailed)
			}
		}
		feet, err := m.world.GetBlockSample(ctx, step)
		if err != nil {
			return Confirmation{}, fmt.Errorf("step %d: %w: %w", i, ErrTransactionFailed, err)
		}
		units += m.unitsFor(feet.ObjectType)
		pos = step
	}
	if m.MoveUnitCap > 0 && units > m.MoveUnitCap {
		return Confirmation{}, fmt.Errorf("batch costs %d > %d move units: %w", units, m.MoveUnitCap, ErrTransactionFailed)
	}

	pos, err := m.settle(ctx, pos)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	m.history = append(m.history, steps...)
	if len(steps) > 0 && pos != steps[len(steps)-1] {
		m.history = append(m.history, pos)
	}
	m.pos = pos
	m.submitted++

	return Confirmation{
		TxID:      uuid.NewString(),
		Position:  pos,
		Steps:     len(steps),
		MoveUnits: units,
	}, nil
}

func (m *SimMover) unitsFor(t block.ObjectType) int {
	switch m.table.Fluid(t) {
	case block.FluidLava:
		return m.params.LavaMoveUnits
	case block.FluidWater:
		return m.params.WaterMoveUnits
	default:
		return m.params.NormalMoveUnits
	}
}

// settle опускает агента, пока под ногами проходимый блок и он не в жидкости
func (m *SimMover) settle(ctx context.Context, pos vec.Vec3) (vec.Vec3, error) {
	for fall := int32(0); fall < m.MaxFall; fall++ {
		feet, err := m.world.GetBlockSample(ctx, pos)
		if err != nil {
			return pos, err
		}
		if m.table.Fluid(feet.ObjectType) != block.FluidNone {
			return pos, nil
		}
		below, err := m.world.GetBlockSample(ctx, pos.Down(1))
		if err != nil {
			return pos, err
		}
		if !m.table.IsPassable(below.ObjectType) {
			return pos, nil
		}
		pos = pos.Down(1)
	}
	return pos, nil
}
