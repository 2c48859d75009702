// Package physics проверяет ходы агента по правилам движения игры
// (прыжки, скольжение, падение) и считает их стоимость.
package physics

import (
	"context"

	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
)

// BlockSource источник образцов блоков (обычно chunkcache.ChunkCache)
type BlockSource interface {
	Get(ctx context.Context, pos vec.Vec3) (world.BlockSample, error)
}

// CostModel валидатор переходов и функция стоимости
type CostModel struct {
	blocks BlockSource
	table  *block.Table
	params Params
	body   Body
}

// NewCostModel создаёт модель поверх источника блоков.
// nil table означает block.Default.
func NewCostModel(src BlockSource, table *block.Table, params Params) *CostModel {
	if table == nil {
		table = block.Default
	}
	return &CostModel{
		blocks: src,
		table:  table,
		params: params,
		body:   DefaultBody,
	}
}

// Params возвращает текущие константы
func (m *CostModel) Params() Params {
	return m.params
}

// Body возвращает тело агента
func (m *CostModel) Body() Body {
	return m.body
}

func (m *CostModel) sample(ctx context.Context, pos vec.Vec3) (world.BlockSample, error) {
	return m.blocks.Get(ctx, pos)
}

// Passable проверяет проходимость клетки
func (m *CostModel) Passable(ctx context.Context, pos vec.Vec3) (bool, error) {
	s, err := m.sample(ctx, pos)
	if err != nil {
		return false, err
	}
	return m.table.IsPassable(s.ObjectType), nil
}

// HasGravity гравитация действует, если под клеткой пусто и сама клетка не жидкость
func (m *CostModel) HasGravity(ctx context.Context, pos vec.Vec3) (bool, error) {
	below, err := m.Passable(ctx, m.body.Support(pos))
	if err != nil || !below {
		return false, err
	}
	s, err := m.sample(ctx, pos)
	if err != nil {
		return false, err
	}
	return m.table.Fluid(s.ObjectType) == block.FluidNone, nil
}

// IsStanding тело помещается в клетке и под ногами твёрдый блок
func (m *CostModel) IsStanding(ctx context.Context, pos vec.Vec3) (bool, error) {
	for _, cell := range m.body.Cells(pos) {
		ok, err := m.Passable(ctx, cell)
		if err != nil || !ok {
			return false, err
		}
	}
	below, err := m.Passable(ctx, m.body.Support(pos))
	if err != nil {
		return false, err
	}
	return !below, nil
}

// Terrain тип местности в клетке ног
func (m *CostModel) Terrain(ctx context.Context, pos vec.Vec3) (TerrainKind, error) {
	s, err := m.sample(ctx, pos)
	if err != nil {
		return TerrainNormal, err
	}
	switch m.table.Fluid(s.ObjectType) {
	case block.FluidLava:
		return TerrainLava, nil
	case block.FluidWater:
		return TerrainWater, nil
	default:
		return TerrainNormal, nil
	}
}

// MoveUnits стоимость шага в единицах движения для типа местности
func (m *CostModel) MoveUnits(kind TerrainKind) int {
	switch kind {
	case TerrainLava:
		return m.params.LavaMoveUnits
	case TerrainWater:
		return m.params.WaterMoveUnits
	default:
		return m.params.NormalMoveUnits
	}
}

// StepMoveUnits единицы движения шага в клетку pos
func (m *CostModel) StepMoveUnits(ctx context.Context, pos vec.Vec3) (int, error) {
	kind, err := m.Terrain(ctx, pos)
	if err != nil {
		return 0, err
	}
	return m.MoveUnits(kind), nil
}

// InitialState состояние агента, находящегося в pos без истории движения
func (m *CostModel) InitialState(ctx context.Context, pos vec.Vec3) (State, error) {
	gravity, err := m.HasGravity(ctx, pos)
	if err != nil {
		return State{}, err
	}
	return State{HasGravity: gravity}, nil
}

// Evaluate проверяет ход from -> to и считает его стоимость.
// Порядок проверок: дальность, проходимость тела, гравитация и счётчики.
func (m *CostModel) Evaluate(ctx context.Context, from Node, to, target vec.Vec3) Transition {
	if from.Pos.Chebyshev(to) > m.params.MaxStep {
		return rejected(TooFar)
	}

	for _, cell := range m.body.Cells(to) {
		ok, err := m.Passable(ctx, cell)
		if err != nil {
			return fault(err)
		}
		if !ok {
			return rejected(NonPassableBlock)
		}
	}

	gravity, err := m.HasGravity(ctx, to)
	if err != nil {
		return fault(err)
	}

	next := from.State
	next.HasGravity = gravity
	dy := to.Y - from.Pos.Y

	switch {
	case dy < 0 && from.State.HasGravity:
		// Падение
		next.FallHeight++
		next.Glides = 0
		if !gravity && next.FallHeight > m.params.SafeFallHeight {
			return rejected(UnsafeFall)
		}
	case dy > 0:
		// Подъём
		next.Jumps++
		if next.Jumps > m.params.MaxJumps {
			return rejected(TooManyJumps)
		}
	case gravity:
		// Скольжение
		next.Glides++
		if next.Glides > m.params.MaxGlides {
			return rejected(TooManyGlides)
		}
	}

	// Штрафы считаются до сброса счётчиков приземлением
	penalty := m.params.JumpPenalty*float64(next.Jumps*next.Jumps) +
		m.params.FallPenalty*float64(next.FallHeight)

	if !gravity {
		next = next.Landed()
	}

	terrain, err := m.Terrain(ctx, to)
	if err != nil {
		return fault(err)
	}
	units := m.MoveUnits(terrain)

	if to == target {
		return accepted(next, m.params.TargetReached, units, terrain)
	}

	cost := from.Pos.Euclidean(to) + penalty + m.terrainPenalty(to, terrain) + m.DirectionalBias(from.Pos, to, target)
	return accepted(next, cost, units, terrain)
}

func (m *CostModel) terrainPenalty(pos vec.Vec3, terrain TerrainKind) float64 {
	var p float64
	switch terrain {
	case TerrainWater:
		p += m.params.WaterPenalty
	case TerrainLava:
		p += m.params.LavaPenalty
	}
	if pos.Y > m.params.HighAltitudeY {
		p += m.params.HighAltitudePenalty
	}
	return p
}

// DirectionalBias бонус/штраф за согласованность горизонтальной проекции хода
// с направлением на цель. Вертикальные ходы и цель строго над/под агентом дают 0.
func (m *CostModel) DirectionalBias(from, to, target vec.Vec3) float64 {
	step := to.Sub(from).Horizontal()
	want := target.Sub(from).Horizontal()
	if step.Length() == 0 || want.Length() == 0 {
		return 0
	}

	dot := step.Normalized().Dot(want.Normalized())
	switch {
	case dot > m.params.AlignedDot:
		return m.params.AlignedBonus
	case dot > m.params.TowardDot:
		return m.params.TowardBonus
	case dot < 0:
		return m.params.AwayPenalty
	default:
		return 0
	}
}
