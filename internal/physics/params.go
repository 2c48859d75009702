package physics

// Params именованные константы физики и стоимости хода.
// Значения подобраны эмпирически; все переопределяемы через конфигурацию.
type Params struct {
	// Ограничения движения
	MaxStep        int32 `yaml:"max_step"`         // Максимальный шаг (Chebyshev)
	MaxJumps       int   `yaml:"max_jumps"`        // Подряд идущих подъёмов без приземления
	MaxGlides      int   `yaml:"max_glides"`       // Шагов в воздухе без подъёма
	SafeFallHeight int   `yaml:"safe_fall_height"` // Высота падения без урона

	// Единицы движения (move units) за шаг по типу местности
	NormalMoveUnits int `yaml:"normal_move_units"`
	WaterMoveUnits  int `yaml:"water_move_units"`
	LavaMoveUnits   int `yaml:"lava_move_units"`

	// Штрафы
	JumpPenalty         float64 `yaml:"jump_penalty"`  // Множитель jumps²
	FallPenalty         float64 `yaml:"fall_penalty"`  // Множитель fallHeight
	WaterPenalty        float64 `yaml:"water_penalty"` // Надбавка за воду
	LavaPenalty         float64 `yaml:"lava_penalty"`  // Надбавка за лаву
	HighAltitudeY       int32   `yaml:"high_altitude_y"`
	HighAltitudePenalty float64 `yaml:"high_altitude_penalty"`

	// Направленный бонус по горизонтальной проекции хода
	AlignedDot    float64 `yaml:"aligned_dot"`
	AlignedBonus  float64 `yaml:"aligned_bonus"`
	TowardDot     float64 `yaml:"toward_dot"`
	TowardBonus   float64 `yaml:"toward_bonus"`
	AwayPenalty   float64 `yaml:"away_penalty"`
	TargetReached float64 `yaml:"target_reached"` // Заменяет стоимость хода в точную цель
}

// DefaultParams возвращает значения по умолчанию
func DefaultParams() Params {
	return Params{
		MaxStep:        1,
		MaxJumps:       3,
		MaxGlides:      10,
		SafeFallHeight: 3,

		NormalMoveUnits: 10,
		WaterMoveUnits:  25,
		LavaMoveUnits:   60,

		JumpPenalty:         2.0,
		FallPenalty:         1.5,
		WaterPenalty:        5,
		LavaPenalty:         50,
		HighAltitudeY:       200,
		HighAltitudePenalty: 2,

		AlignedDot:    0.99,
		AlignedBonus:  -100,
		TowardDot:     0.7,
		TowardBonus:   -10,
		AwayPenalty:   100,
		TargetReached: -10000,
	}
}
