package block

import (
	"fmt"
	"sync"
)

// ObjectType идентификатор типа объекта в вокселе (u16 из on-chain таблицы)
type ObjectType uint16

// FluidKind тип жидкости в блоке
type FluidKind uint8

const (
	FluidNone FluidKind = iota
	FluidWater
	FluidLava
)

// String возвращает строковое представление жидкости
func (f FluidKind) String() string {
	switch f {
	case FluidNone:
		return "none"
	case FluidWater:
		return "water"
	case FluidLava:
		return "lava"
	default:
		return "unknown"
	}
}

// Константы ID базовых объектов
const (
	Air   ObjectType = iota // 0
	Stone                   // 1
	Grass                   // 2
	Water                   // 3
	Sand                    // 4
	Dirt                    // 5
	Lava                    // 6

	// Декоративные (начиная с 100)
	Flower    ObjectType = 100
	TallGrass ObjectType = 101
	Log       ObjectType = 102
	Leaves    ObjectType = 103
)

// Properties статические свойства типа объекта
type Properties struct {
	Name     string    `json:"name"`
	Passable bool      `json:"passable"`
	Fluid    FluidKind `json:"fluid"`
}

// Table таблица свойств типов объектов.
// Неизвестный тип считается непроходимым.
type Table struct {
	mu      sync.RWMutex
	entries map[ObjectType]Properties
}

// NewTable создаёт пустую таблицу
func NewTable() *Table {
	return &Table{entries: make(map[ObjectType]Properties)}
}

// Register добавляет или заменяет свойства типа
func (t *Table) Register(id ObjectType, props Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = props
}

// Get возвращает свойства для указанного типа
func (t *Table) Get(id ObjectType) (Properties, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	props, ok := t.entries[id]
	return props, ok
}

// IsPassable проверяет, можно ли находиться в блоке данного типа
func (t *Table) IsPassable(id ObjectType) bool {
	props, ok := t.Get(id)
	return ok && props.Passable
}

// Fluid возвращает тип жидкости
func (t *Table) Fluid(id ObjectType) FluidKind {
	props, _ := t.Get(id)
	return props.Fluid
}

// Len количество зарегистрированных типов
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Name возвращает имя типа или числовое представление
func (t *Table) Name(id ObjectType) string {
	if props, ok := t.Get(id); ok && props.Name != "" {
		return props.Name
	}
	return fmt.Sprintf("object#%d", id)
}

// NewDefaultTable возвращает таблицу с базовыми типами объектов
func NewDefaultTable() *Table {
	t := NewTable()
	t.Register(Air, Properties{Name: "Air", Passable: true})
	t.Register(Stone, Properties{Name: "Stone"})
	t.Register(Grass, Properties{Name: "Grass"})
	t.Register(Water, Properties{Name: "Water", Passable: true, Fluid: FluidWater})
	t.Register(Sand, Properties{Name: "Sand"})
	t.Register(Dirt, Properties{Name: "Dirt"})
	t.Register(Lava, Properties{Name: "Lava", Passable: true, Fluid: FluidLava})
	t.Register(Flower, Properties{Name: "Flower", Passable: true})
	t.Register(TallGrass, Properties{Name: "TallGrass", Passable: true})
	t.Register(Log, Properties{Name: "Log"})
	t.Register(Leaves, Properties{Name: "Leaves"})
	return t
}

// Default глобальная таблица, используемая по умолчанию
var Default = NewDefaultTable()
