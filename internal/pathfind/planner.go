// Package pathfind ищет путь агента взвешенным A* по воксельной сетке,
// подгружая чанки по мере необходимости.
package pathfind

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/physics"
	"github.com/annel0/voxel-agent/internal/vec"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status итог поиска
type Status uint8

const (
	StatusFound Status = iota
	StatusPartial
	StatusNoPath
	StatusTargetUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusPartial:
		return "partial"
	case StatusNoPath:
		return "no_path"
	case StatusTargetUnreachable:
		return "target_unreachable"
	default:
		return "unknown"
	}
}

// MarshalText для JSON-ответов API и событий
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WeightBand вес эвристики для расстояний меньше Below
type WeightBand struct {
	Below  int32   `yaml:"below"`
	Weight float64 `yaml:"weight"`
}

// DefaultWeightBands <50 -> 1.75, 50..200 -> 2.5, >200 -> 5.0
var DefaultWeightBands = []WeightBand{
	{Below: 50, Weight: 1.75},
	{Below: 201, Weight: 2.5},
	{Below: math.MaxInt32, Weight: 5.0},
}

// HeuristicWeight подбирает вес эвристики по расстоянию до цели.
// Если ни одна полоса не подошла, используется вес последней.
func HeuristicWeight(distance int32, bands []WeightBand) float64 {
	if len(bands) == 0 {
		bands = DefaultWeightBands
	}
	for _, b := range bands {
		if distance < b.Below {
			return b.Weight
		}
	}
	return bands[len(bands)-1].Weight
}

// BlockCache кеш чанков, через который планировщик подгружает соседей
type BlockCache interface {
	IsLoaded(chunk vec.Vec3) bool
	LoadChunk(ctx context.Context, chunk vec.Vec3) error
}

// Options параметры поиска
type Options struct {
	MinIterations      int          `yaml:"min_iterations"`
	IterationsPerBlock int          `yaml:"iterations_per_block"`
	PartialProgress    float64      `yaml:"partial_progress"` // Доля исходного расстояния, ниже которой частичный путь принимается
	ResolveRadius      int32        `yaml:"resolve_radius"`
	WeightBands        []WeightBand `yaml:"weight_bands"`
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		MinIterations:      10000,
		IterationsPerBlock: 100,
		PartialProgress:    0.8,
		ResolveRadius:      10,
		WeightBands:        DefaultWeightBands,
	}
}

// Result результат планирования
type Result struct {
	Status          Status     `json:"status"`
	Path            []vec.Vec3 `json:"path,omitempty"`
	Target          vec.Vec3   `json:"target"` // Цель после коррекции TargetResolver
	Iterations      int        `json:"iterations"`
	Weight          float64    `json:"weight"`
	StartDistance   int32      `json:"start_distance"`
	ClosestDistance int32      `json:"closest_distance"`
	Rejections      [6]int     `json:"-"` // Счётчики отклонённых ходов по physics.RejectReason
}

// HasPath путь пригоден к исполнению
func (r Result) HasPath() bool {
	return (r.Status == StatusFound || r.Status == StatusPartial) && len(r.Path) > 0
}

// Planner взвешенный A*
type Planner struct {
	cache   BlockCache
	model   *physics.CostModel
	opts    Options
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics
}

// Option настройка Planner
type Option func(*Planner)

// WithLogger задаёт логгер
func WithLogger(l *logging.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithTracer задаёт трейсер
func WithTracer(t trace.Tracer) Option {
	return func(p *Planner) { p.tracer = t }
}

// WithMetrics подключает метрики
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// NewPlanner создаёт планировщик. model должен читать блоки через тот же cache.
func NewPlanner(cache BlockCache, model *physics.CostModel, opts Options, options ...Option) *Planner {
	if len(opts.WeightBands) == 0 {
		opts.WeightBands = DefaultWeightBands
	}
	p := &Planner{
		cache:  cache,
		model:  model,
		opts:   opts,
		logger: logging.Default(),
		tracer: observability.Tracer(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Options возвращает параметры поиска
func (p *Planner) Options() Options {
	return p.opts
}

// neighborOffsets 8 горизонтальных направлений x 3 уровня плюс чисто вертикальные ходы
var neighborOffsets = func() []vec.Vec3 {
	out := make([]vec.Vec3, 0, 26)
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, vec.New(dx, dy, dz))
			}
		}
	}
	return out
}()

// PlanPath ищет путь от start к target.
// Отсутствие пути возвращается статусом; ошибка означает сбой загрузки данных или отмену ctx.
func (p *Planner) PlanPath(ctx context.Context, start, target vec.Vec3) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pathfind.PlanPath", trace.WithAttributes(
		attribute.String("start", start.String()),
		attribute.String("target", target.String()),
	))
	defer span.End()

	began := time.Now()
	res, err := p.plan(ctx, start, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("планирование %v -> %v прервано: %v", start, target, err)
		return res, err
	}

	span.SetAttributes(
		attribute.String("status", res.Status.String()),
		attribute.Int("iterations", res.Iterations),
		attribute.Int("path_len", len(res.Path)),
		attribute.Float64("weight", res.Weight),
	)
	p.metrics.PlanFinished(res.Status.String(), res.Iterations, time.Since(began))
	p.logger.Info("путь %v -> %v: %s, узлов %d, итераций %d", start, res.Target, res.Status, len(res.Path), res.Iterations)
	return res, nil
}

func (p *Planner) plan(ctx context.Context, start, target vec.Vec3) (Result, error) {
	resolved, err := p.ResolveTarget(ctx, target)
	if errors.Is(err, ErrTargetUnreachable) {
		return Result{Status: StatusTargetUnreachable, Target: target}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve target %v: %w", target, err)
	}

	distance := start.Chebyshev(resolved)
	res := Result{
		Target:          resolved,
		StartDistance:   distance,
		ClosestDistance: distance,
		Weight:          HeuristicWeight(distance, p.opts.WeightBands),
	}

	if start == resolved {
		res.Status = StatusFound
		res.Path = []vec.Vec3{start}
		return res, nil
	}

	initial, err := p.model.InitialState(ctx, start)
	if err != nil {
		return Result{}, fmt.Errorf("initial state at %v: %w", start, err)
	}

	budget := max(p.opts.MinIterations, int(distance)*p.opts.IterationsPerBlock)

	a := newArena(1024)
	open := newOpenSet(a)
	h := res.Weight * float64(distance)
	startIdx := a.add(searchNode{pos: start, h: h, f: h, parent: noParent, state: initial})
	open.push(startIdx)

	closest := startIdx

	for open.Len() > 0 && res.Iterations < budget {
		if res.Iterations%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		cur := open.pop()
		a.nodes[cur].closed = true
		res.Iterations++

		node := a.nodes[cur]
		if node.pos == resolved {
			res.Status = StatusFound
			res.Path = a.path(cur)
			res.ClosestDistance = 0
			return res, nil
		}

		for _, off := range neighborOffsets {
			nb := node.pos.Add(off)

			idx, seen := a.lookup(nb)
			if seen && a.nodes[idx].closed {
				continue
			}

			if chunk := nb.ToChunkCoords(); !p.cache.IsLoaded(chunk) {
				if err := p.cache.LoadChunk(ctx, chunk); err != nil {
					return Result{}, fmt.Errorf("expand %v: %w", node.pos, err)
				}
			}

			tr := p.model.Evaluate(ctx, physics.Node{Pos: node.pos, State: node.state}, nb, resolved)
			switch tr.Outcome {
			case physics.Fault:
				return Result{}, fmt.Errorf("evaluate %v -> %v: %w", node.pos, nb, tr.Err)
			case physics.Rejected:
				res.Rejections[tr.Reason]++
				continue
			}

			g := node.g + tr.Cost
			if seen {
				n := &a.nodes[idx]
				if g >= n.g {
					continue
				}
				n.g = g
				n.f = g + n.h
				n.parent = cur
				n.state = tr.Next
				n.moveUnits = node.moveUnits + tr.MoveUnits
				open.fix(idx)
				continue
			}

			d := nb.Chebyshev(resolved)
			nh := res.Weight * float64(d)
			idx = a.add(searchNode{
				pos:          nb,
				g:            g,
				h:            nh,
				f:            g + nh,
				parent:       cur,
				state:        tr.Next,
				moveUnits:    node.moveUnits + tr.MoveUnits,
				discoveredAt: res.Iterations,
			})
			open.push(idx)

			if p.closer(a, idx, closest, resolved) {
				closest = idx
			}
		}
	}

	res.ClosestDistance = a.nodes[closest].pos.Chebyshev(resolved)
	if float64(res.ClosestDistance) < p.opts.PartialProgress*float64(distance) {
		res.Status = StatusPartial
		res.Path = a.path(closest)
		trace.SpanFromContext(ctx).AddEvent("partial_fallback", trace.WithAttributes(
			attribute.String("closest", a.nodes[closest].pos.String()),
			attribute.Int("closest_distance", int(res.ClosestDistance)),
		))
		return res, nil
	}

	res.Status = StatusNoPath
	return res, nil
}

// closer сравнивает кандидата с текущей точкой наибольшего приближения.
// При равном расстоянии предпочитается узел без действующей гравитации.
func (p *Planner) closer(a *arena, candidate, best int, target vec.Vec3) bool {
	dc := a.nodes[candidate].pos.Chebyshev(target)
	db := a.nodes[best].pos.Chebyshev(target)
	if dc != db {
		return dc < db
	}
	return a.nodes[best].state.HasGravity && !a.nodes[candidate].state.HasGravity
}
