// Package agent связывает планировщик и исполнитель в цикл навигации:
// очистка кеша, чтение позиции, планирование, исполнение, повтор.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-agent/internal/chunkcache"
	"github.com/annel0/voxel-agent/internal/eventbus"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/pathfind"
	"github.com/annel0/voxel-agent/internal/physics"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy навигация уже выполняется
var ErrBusy = errors.New("navigation already in progress")

// stallLimit циклов подряд без смены позиции, после которых навигация прекращается
const stallLimit = 2

// Options параметры навигатора
type Options struct {
	Name      string
	MaxCycles int
	Physics   physics.Params
	Planner   pathfind.Options
	Executor  movement.Options
	Table     *block.Table
	// PrefetchRadius радиус (в чанках) окрестности старта, загружаемой параллельно; 0 - без предзагрузки
	PrefetchRadius int32
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		Name:      "agent",
		MaxCycles: 8,
		Physics:   physics.DefaultParams(),
		Planner:   pathfind.DefaultOptions(),
		Executor:  movement.DefaultOptions(),
		Table:     block.Default,

		PrefetchRadius: 1,
	}
}

// Report итог навигации
type Report struct {
	SessionID  string              `json:"session_id"`
	Target     vec.Vec3            `json:"target"`
	Resolved   vec.Vec3            `json:"resolved_target"`
	Reached    bool                `json:"reached"`
	Position   vec.Vec3            `json:"position"`
	Cycles     int                 `json:"cycles"`
	Batches    int                 `json:"batches"`
	MoveUnits  int                 `json:"move_units"`
	LastPlan   pathfind.Status     `json:"last_plan"`
	LastExec   movement.ExecStatus `json:"last_exec"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Snapshot состояние навигатора для операторского API
type Snapshot struct {
	Running   bool     `json:"running"`
	SessionID string   `json:"session_id,omitempty"`
	Target    vec.Vec3 `json:"target"`
	Cycle     int      `json:"cycle"`
	Last      *Report  `json:"last,omitempty"`
}

// Navigator выполняет навигацию к цели. Одновременно выполняется одна навигация.
type Navigator struct {
	opts     Options
	cache    *chunkcache.ChunkCache
	planner  *pathfind.Planner
	executor *movement.Executor
	mover    movement.Mover

	bus     eventbus.EventBus
	logger  *logging.Logger
	plogger *logging.Logger // Планировщик
	elogger *logging.Logger // Исполнитель
	tracer  trace.Tracer
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	session string
	target  vec.Vec3
	cycle   int
	cancel  context.CancelFunc
	last    *Report
}

// Option настройка Navigator
type Option func(*Navigator)

// WithEventBus публикует события навигации в шину
func WithEventBus(bus eventbus.EventBus) Option {
	return func(n *Navigator) { n.bus = bus }
}

// WithLogger задаёт логгер
func WithLogger(l *logging.Logger) Option {
	return func(n *Navigator) { n.logger = l }
}

// WithComponentLoggers отдельные логгеры планировщика и исполнителя
func WithComponentLoggers(planner, executor *logging.Logger) Option {
	return func(n *Navigator) {
		n.plogger = planner
		n.elogger = executor
	}
}

// WithTracer задаёт трейсер
func WithTracer(t trace.Tracer) Option {
	return func(n *Navigator) { n.tracer = t }
}

// WithMetrics подключает метрики
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Navigator) { n.metrics = m }
}

// NewNavigator собирает кеш, модель физики, планировщик и исполнитель
func NewNavigator(w world.World, mover movement.Mover, opts Options, options ...Option) *Navigator {
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = DefaultOptions().MaxCycles
	}
	if opts.Name == "" {
		opts.Name = DefaultOptions().Name
	}
	if opts.Table == nil {
		opts.Table = block.Default
	}

	n := &Navigator{
		opts:   opts,
		mover:  mover,
		logger: logging.Default(),
		tracer: observability.Tracer(),
	}
	for _, o := range options {
		o(n)
	}
	if n.plogger == nil {
		n.plogger = n.logger
	}
	if n.elogger == nil {
		n.elogger = n.logger
	}

	n.cache = chunkcache.New(w, chunkcache.WithMetrics(n.metrics))
	model := physics.NewCostModel(n.cache, opts.Table, opts.Physics)
	n.planner = pathfind.NewPlanner(n.cache, model, opts.Planner,
		pathfind.WithLogger(n.plogger),
		pathfind.WithTracer(n.tracer),
		pathfind.WithMetrics(n.metrics),
	)
	n.executor = movement.NewExecutor(mover, model, opts.Executor,
		movement.WithLogger(n.elogger),
		movement.WithTracer(n.tracer),
		movement.WithMetrics(n.metrics),
		movement.WithRefresher(n.cache),
		movement.WithBatchHook(n.onBatch),
	)
	return n
}

// Planner возвращает планировщик (для офлайн-планирования)
func (n *Navigator) Planner() *pathfind.Planner {
	return n.planner
}

// Executor возвращает исполнитель (разбиение пути на партии)
func (n *Navigator) Executor() *movement.Executor {
	return n.executor
}

// Navigate ведёт агента к target. Отсутствие пути не является ошибкой:
// итог описывает Report. Ошибка означает сбой ввода-вывода или отмену ctx.
func (n *Navigator) Navigate(ctx context.Context, target vec.Vec3) (Report, error) {
	ctx, session, err := n.begin(ctx, target)
	if err != nil {
		return Report{}, err
	}
	return n.run(ctx, session, target)
}

// Start запускает навигацию в фоне и возвращает ID сессии
func (n *Navigator) Start(target vec.Vec3) (string, error) {
	ctx, session, err := n.begin(context.Background(), target)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := n.run(ctx, session, target); err != nil {
			n.logger.Warn("навигация %s завершилась ошибкой: %v", session, err)
		}
	}()
	return session, nil
}

// Cancel прерывает текущую навигацию; false если навигации нет
func (n *Navigator) Cancel() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running || n.cancel == nil {
		return false
	}
	n.cancel()
	return true
}

// Snapshot текущее состояние
func (n *Navigator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Snapshot{Running: n.running, SessionID: n.session, Target: n.target, Cycle: n.cycle}
	if n.last != nil {
		last := *n.last
		s.Last = &last
	}
	return s
}

// Position текущая позиция агента
func (n *Navigator) Position(ctx context.Context) (vec.Vec3, error) {
	return n.mover.CurrentPosition(ctx)
}

// CacheStats счётчики кеша чанков
func (n *Navigator) CacheStats() (chunkcache.Stats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return chunkcache.Stats{}, ErrBusy
	}
	return n.cache.Stats(), nil
}

// ClearCache сбрасывает кеш чанков между навигациями
func (n *Navigator) ClearCache() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrBusy
	}
	n.cache.Clear()
	return nil
}

func (n *Navigator) begin(ctx context.Context, target vec.Vec3) (context.Context, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil, "", ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	n.running = true
	n.session = uuid.NewString()
	n.target = target
	n.cycle = 0
	n.cancel = cancel
	return ctx, n.session, nil
}

func (n *Navigator) finish(report *Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	n.running = false
	n.cancel = nil
	last := *report
	n.last = &last
}

func (n *Navigator) setCycle(c int) {
	n.mu.Lock()
	n.cycle = c
	n.mu.Unlock()
}

func (n *Navigator) run(ctx context.Context, session string, target vec.Vec3) (report Report, err error) {
	ctx, span := n.tracer.Start(ctx, "agent.Navigate", trace.WithAttributes(
		attribute.String("session", session),
		attribute.String("target", target.String()),
	))
	defer span.End()

	report = Report{SessionID: session, Target: target, Resolved: target, StartedAt: time.Now()}
	defer func() {
		report.FinishedAt = time.Now()
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("reached", report.Reached), attribute.Int("cycles", report.Cycles))
		n.metrics.NavigationFinished(report.Reached)
		n.publish(context.WithoutCancel(ctx), session, eventbus.TypeNavigationFinished, eventbus.NavigationFinished{
			Target:   target,
			Reached:  report.Reached,
			Position: report.Position,
			Cycles:   report.Cycles,
			Batches:  report.Batches,
			Error:    report.Error,
		})
		n.finish(&report)
		n.logger.Info("🏁 навигация %s: достигнута=%t, позиция %v, циклов %d, партий %d", session, report.Reached, report.Position, report.Cycles, report.Batches)
	}()

	n.logger.Info("🧭 навигация %s к %v", session, target)

	stalled := 0
	for cycle := 1; cycle <= n.opts.MaxCycles; cycle++ {
		report.Cycles = cycle
		n.setCycle(cycle)

		// Каждый цикл планирует по свежим данным мира
		n.cache.Clear()

		pos, err := n.mover.CurrentPosition(ctx)
		if err != nil {
			return report, fmt.Errorf("cycle %d: current position: %w", cycle, err)
		}
		report.Position = pos

		if err := n.cache.Prefetch(ctx, neighbourhood(pos, n.opts.PrefetchRadius)); err != nil {
			// Недоступный чанк планировщик встретит сам и обработает как сбой поиска
			n.logger.Debug("предзагрузка окрестности %v: %v", pos, err)
		}

		plan, err := n.planner.PlanPath(ctx, pos, target)
		if err != nil {
			return report, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		report.LastPlan = plan.Status
		report.Resolved = plan.Target
		n.publish(ctx, session, eventbus.TypePathPlanned, eventbus.PathPlanned{
			Cycle:      cycle,
			Start:      pos,
			Target:     plan.Target,
			Status:     plan.Status.String(),
			PathLength: len(plan.Path),
			Iterations: plan.Iterations,
		})

		if !plan.HasPath() {
			return report, nil
		}
		if pos == plan.Target {
			report.Reached = true
			return report, nil
		}

		exec, err := n.executor.ExecutePath(ctx, plan.Path)
		report.Batches += exec.BatchesSent
		report.MoveUnits += exec.MoveUnits
		report.LastExec = exec.Status
		if err == nil || exec.BatchesSent > 0 {
			report.Position = exec.Position
		}
		if err != nil {
			return report, fmt.Errorf("cycle %d: %w", cycle, err)
		}

		if exec.Status == movement.StatusReplanRequired {
			n.publish(ctx, session, eventbus.TypeReplanRequired, eventbus.ReplanRequired{
				Cycle:    cycle,
				Reason:   exec.Reason,
				Position: exec.Position,
			})
		} else if exec.Position == plan.Target {
			report.Reached = true
			return report, nil
		}

		if exec.Position == pos {
			stalled++
			if stalled >= stallLimit {
				n.logger.Warn("навигация %s: нет продвижения %d циклов подряд", session, stalled)
				return report, nil
			}
		} else {
			stalled = 0
		}
	}

	return report, nil
}

func (n *Navigator) onBatch(r movement.BatchReport) {
	n.mu.Lock()
	session, cycle := n.session, n.cycle
	n.mu.Unlock()

	n.publish(context.Background(), session, eventbus.TypeBatchConfirmed, eventbus.BatchConfirmed{
		Cycle:     cycle,
		Index:     r.Index,
		TxID:      r.Confirmation.TxID,
		Steps:     len(r.Batch.Steps),
		MoveUnits: r.Batch.MoveUnits,
		Actual:    r.Actual,
		Drift:     r.Drift,
	})
}

// publish отправляет событие; ошибки шины только логируются
func (n *Navigator) publish(ctx context.Context, session, eventType string, payload interface{}) {
	if n.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, n.opts.Name, session, payload)
	if err != nil {
		n.logger.Warn("событие %s: %v", eventType, err)
		return
	}
	if eventType == eventbus.TypeNavigationFinished {
		ev.Priority = 9
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.logger.Warn("публикация %s: %v", eventType, err)
	}
}

// neighbourhood чанки в кубе радиуса r вокруг чанка позиции
func neighbourhood(pos vec.Vec3, r int32) []vec.Vec3 {
	if r <= 0 {
		return nil
	}
	center := pos.ToChunkCoords()
	out := make([]vec.Vec3, 0, (2*r+1)*(2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				out = append(out, center.Add(vec.New(dx, dy, dz)))
			}
		}
	}
	return out
}
