package physics

import (
	"fmt"

	"github.com/annel0/voxel-agent/internal/vec"
)

// State счётчики физики, изменяемые только через CostModel
type State struct {
	Jumps      int  `json:"jumps"`
	Glides     int  `json:"glides"`
	FallHeight int  `json:"fall_height"`
	HasGravity bool `json:"has_gravity"` // Гравитация действует в текущей клетке
}

// Node позиция вместе с физическим состоянием
type Node struct {
	Pos   vec.Vec3 `json:"pos"`
	State State    `json:"state"`
}

// Landed сбрасывает счётчики при приземлении
func (s State) Landed() State {
	return State{}
}

func (s State) String() string {
	return fmt.Sprintf("jumps=%d glides=%d fall=%d gravity=%t", s.Jumps, s.Glides, s.FallHeight, s.HasGravity)
}

// TerrainKind тип местности для расчёта единиц движения
type TerrainKind uint8

const (
	TerrainNormal TerrainKind = iota
	TerrainWater
	TerrainLava
)

func (k TerrainKind) String() string {
	switch k {
	case TerrainWater:
		return "water"
	case TerrainLava:
		return "lava"
	default:
		return "normal"
	}
}

// Outcome вид результата перехода
type Outcome uint8

const (
	Accepted Outcome = iota
	Rejected
	Fault
)

// RejectReason причина отклонения хода
type RejectReason uint8

const (
	ReasonNone RejectReason = iota
	TooFar
	NonPassableBlock
	TooManyJumps
	TooManyGlides
	UnsafeFall
)

func (r RejectReason) String() string {
	switch r {
	case TooFar:
		return "too_far"
	case NonPassableBlock:
		return "non_passable_block"
	case TooManyJumps:
		return "too_many_jumps"
	case TooManyGlides:
		return "too_many_glides"
	case UnsafeFall:
		return "unsafe_fall"
	default:
		return "none"
	}
}

// Transition результат проверки хода from -> to.
// Rejected отсекает кандидата, Fault несёт ошибку ввода-вывода.
type Transition struct {
	Outcome   Outcome
	Reason    RejectReason
	Err       error
	Next      State
	Cost      float64
	MoveUnits int
	Terrain   TerrainKind
}

// Ok проверяет, принят ли ход
func (t Transition) Ok() bool {
	return t.Outcome == Accepted
}

func accepted(next State, cost float64, units int, terrain TerrainKind) Transition {
	return Transition{Outcome: Accepted, Next: next, Cost: cost, MoveUnits: units, Terrain: terrain}
}

func rejected(reason RejectReason) Transition {
	return Transition{Outcome: Rejected, Reason: reason}
}

func fault(err error) Transition {
	return Transition{Outcome: Fault, Err: err}
}
