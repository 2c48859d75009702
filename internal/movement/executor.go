package movement

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/physics"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExecStatus итог исполнения пути
type ExecStatus uint8

const (
	StatusSuccess ExecStatus = iota
	StatusReplanRequired
)

func (s ExecStatus) String() string {
	if s == StatusReplanRequired {
		return "replan_required"
	}
	return "success"
}

// MarshalText для JSON
func (s ExecStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Причины перепланирования
const (
	ReasonDrift        = "drift"
	ReasonRevalidation = "revalidation"
	ReasonMoveUnits    = "move_units" // Партия после обновления местности дороже лимита
)

// ExecResult результат ExecutePath
type ExecResult struct {
	Status        ExecStatus `json:"status"`
	Position      vec.Vec3   `json:"position"` // Последняя известная фактическая позиция
	BatchesSent   int        `json:"batches_sent"`
	StepsExecuted int        `json:"steps_executed"`
	MoveUnits     int        `json:"move_units"`
	Drift         int32      `json:"drift"`
	Reason        string     `json:"reason,omitempty"`
}

// BatchReport сведения о подтверждённой партии
type BatchReport struct {
	Index        int
	Batch        Batch
	Confirmation Confirmation
	Actual       vec.Vec3
	Drift        int32
}

// Refresher точечно перечитывает блоки после расхождения позиции
type Refresher interface {
	Refresh(ctx context.Context, pos vec.Vec3) (world.BlockSample, error)
}

// Options параметры исполнителя
type Options struct {
	MoveUnitCap    int   `yaml:"move_unit_cap"`
	DriftTolerance int32 `yaml:"drift_tolerance"`
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		MoveUnitCap:    500,
		DriftTolerance: 2,
	}
}

// Executor исполняет путь партиями через Mover
type Executor struct {
	mover   Mover
	model   *physics.CostModel
	refresh Refresher
	opts    Options

	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
	onBatch func(BatchReport)
}

// Option настройка Executor
type Option func(*Executor)

// WithLogger задаёт логгер
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer задаёт трейсер
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithMetrics подключает метрики
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithRefresher задаёт источник точечного обновления блоков
func WithRefresher(r Refresher) Option {
	return func(e *Executor) { e.refresh = r }
}

// WithBatchHook вызывается после каждой подтверждённой партии
func WithBatchHook(fn func(BatchReport)) Option {
	return func(e *Executor) { e.onBatch = fn }
}

// NewExecutor создаёт исполнитель
func NewExecutor(mover Mover, model *physics.CostModel, opts Options, options ...Option) *Executor {
	e := &Executor{
		mover:  mover,
		model:  model,
		opts:   opts,
		logger: logging.Default(),
		tracer: observability.Tracer(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Partition делит путь по лимиту транзакции с учётом местности
func (e *Executor) Partition(ctx context.Context, path []vec.Vec3) ([]Batch, error) {
	return Partition(path, func(to vec.Vec3) (int, error) {
		return e.model.StepMoveUnits(ctx, to)
	}, e.opts.MoveUnitCap)
}

// ExecutePath исполняет путь. StatusReplanRequired означает, что план устарел;
// ошибка означает сбой транзакции или загрузки данных.
func (e *Executor) ExecutePath(ctx context.Context, path []vec.Vec3) (ExecResult, error) {
	ctx, span := e.tracer.Start(ctx, "movement.ExecutePath", trace.WithAttributes(
		attribute.Int("path_len", len(path)),
	))
	defer span.End()

	res, err := e.execute(ctx, path, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("status", res.Status.String()),
		attribute.Int("batches", res.BatchesSent),
	)
	if res.Status == StatusReplanRequired {
		e.metrics.ReplanRequested(res.Reason)
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, path []vec.Vec3, span trace.Span) (ExecResult, error) {
	actual, err := e.mover.CurrentPosition(ctx)
	if err != nil {
		return ExecResult{}, fmt.Errorf("current position: %w", err)
	}
	res := ExecResult{Position: actual}

	if len(path) == 0 {
		return res, nil
	}

	if drift := actual.Chebyshev(path[0]); drift > e.opts.DriftTolerance {
		e.logger.Warn("старт пути %v, агент в %v: расхождение %d", path[0], actual, drift)
		res.Status = StatusReplanRequired
		res.Reason = ReasonDrift
		res.Drift = drift
		return res, nil
	}

	batches, err := e.Partition(ctx, path)
	if err != nil {
		return res, fmt.Errorf("partition: %w", err)
	}

	state, err := e.stateAt(ctx, actual, physics.State{})
	if err != nil {
		return res, err
	}
	target := path[len(path)-1]

	for i, batch := range batches {
		// Повторная проверка от фактической позиции
		simulated, units, tr := e.revalidate(ctx, physics.Node{Pos: actual, State: state}, batch, target)
		if tr.Outcome == physics.Fault {
			return res, fmt.Errorf("revalidate batch %d: %w", i, tr.Err)
		}
		if tr.Outcome == physics.Rejected {
			e.logger.Warn("партия %d не прошла проверку от %v: %s", i, actual, tr.Reason)
			span.AddEvent("revalidation_failed", trace.WithAttributes(
				attribute.Int("batch", i),
				attribute.String("reason", tr.Reason.String()),
			))
			res.Status = StatusReplanRequired
			res.Reason = ReasonRevalidation + ":" + tr.Reason.String()
			return res, nil
		}
		if units > e.opts.MoveUnitCap {
			e.logger.Warn("партия %d стоит %d ед. при лимите %d", i, units, e.opts.MoveUnitCap)
			span.AddEvent("revalidation_failed", trace.WithAttributes(
				attribute.Int("batch", i),
				attribute.String("reason", ReasonMoveUnits),
				attribute.Int("move_units", units),
			))
			res.Status = StatusReplanRequired
			res.Reason = ReasonRevalidation + ":" + ReasonMoveUnits
			return res, nil
		}

		conf, err := e.mover.SubmitMoveBatch(ctx, batch.Steps)
		if err != nil {
			if !errors.Is(err, ErrTransactionFailed) {
				err = fmt.Errorf("%w: %w", ErrTransactionFailed, err)
			}
			return res, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		e.metrics.BatchSubmitted(units)
		res.BatchesSent++
		res.StepsExecuted += len(batch.Steps)
		res.MoveUnits += units

		actual, err = e.mover.CurrentPosition(ctx)
		if err != nil {
			return res, fmt.Errorf("position after batch %d: %w", i+1, err)
		}
		res.Position = actual

		intended := batch.Last()
		drift := actual.Chebyshev(intended)
		e.metrics.DriftObserved(drift)
		if e.onBatch != nil {
			e.onBatch(BatchReport{Index: i, Batch: batch, Confirmation: conf, Actual: actual, Drift: drift})
		}
		e.logger.Debug("партия %d/%d подтверждена (%s): %d шагов, %d ед., позиция %v", i+1, len(batches), conf.TxID, len(batch.Steps), units, actual)

		if drift > 0 {
			res.Drift = drift
			span.AddEvent("drift", trace.WithAttributes(
				attribute.String("intended", intended.String()),
				attribute.String("actual", actual.String()),
				attribute.Int("blocks", int(drift)),
			))
			if err := e.refreshAround(ctx, actual); err != nil {
				return res, err
			}
		}
		if drift > e.opts.DriftTolerance {
			e.logger.Warn("расхождение %d после партии %d: ожидалось %v, фактически %v", drift, i+1, intended, actual)
			res.Status = StatusReplanRequired
			res.Reason = ReasonDrift
			return res, nil
		}

		if actual == intended {
			state = simulated
		} else {
			state, err = e.stateAt(ctx, actual, simulated)
			if err != nil {
				return res, err
			}
		}
	}

	res.Status = StatusSuccess
	return res, nil
}

// revalidate прогоняет партию через CostModel от узла from
func (e *Executor) revalidate(ctx context.Context, from physics.Node, batch Batch, target vec.Vec3) (physics.State, int, physics.Transition) {
	var (
		units int
		last  physics.Transition
	)
	node := from
	for _, step := range batch.Steps {
		last = e.model.Evaluate(ctx, node, step, target)
		if !last.Ok() {
			return node.State, units, last
		}
		units += last.MoveUnits
		node = physics.Node{Pos: step, State: last.Next}
	}
	return node.State, units, last
}

// stateAt состояние в фактической позиции: стоя - счётчики сброшены,
// в воздухе - переносятся из симуляции
func (e *Executor) stateAt(ctx context.Context, pos vec.Vec3, carried physics.State) (physics.State, error) {
	standing, err := e.model.IsStanding(ctx, pos)
	if err != nil {
		return physics.State{}, fmt.Errorf("state at %v: %w", pos, err)
	}
	if standing {
		return physics.State{}, nil
	}
	st, err := e.model.InitialState(ctx, pos)
	if err != nil {
		return physics.State{}, fmt.Errorf("state at %v: %w", pos, err)
	}
	if !st.HasGravity {
		return st, nil
	}
	carried.HasGravity = true
	return carried, nil
}

// refreshAround перечитывает клетки тела и опору в фактической позиции
func (e *Executor) refreshAround(ctx context.Context, pos vec.Vec3) error {
	if e.refresh == nil {
		return nil
	}
	body := e.model.Body()
	cells := append(body.Cells(pos), body.Support(pos))
	for _, c := range cells {
		if _, err := e.refresh.Refresh(ctx, c); err != nil {
			return fmt.Errorf("refresh %v: %w", c, err)
		}
	}
	return nil
}
