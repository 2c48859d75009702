package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics набор Prometheus-метрик планировщика и исполнителя.
// Все методы безопасны для nil-получателя: компоненты без метрик просто не пишут их.
type Metrics struct {
	ChunkCacheLookups  *prometheus.CounterVec
	ChunkFetches       *prometheus.CounterVec
	ChunkFetchDuration prometheus.Histogram

	SearchIterations prometheus.Histogram
	PlanOutcomes     *prometheus.CounterVec
	PlanDuration     prometheus.Histogram

	BatchesSubmitted   prometheus.Counter
	MoveUnitsSubmitted prometheus.Counter
	Replans            *prometheus.CounterVec
	DriftDistance      prometheus.Histogram

	Navigations *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// Тесты передают prometheus.NewRegistry(), процесс - prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunkCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "chunk_cache",
			Name:      "lookups_total",
			Help:      "Обращения к кешу чанков по результату (hit/miss).",
		}, []string{"result"}),
		ChunkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "chunk_cache",
			Name:      "fetches_total",
			Help:      "Загрузки чанков из мира по результату (ok/error).",
		}, []string{"result"}),
		ChunkFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "chunk_cache",
			Name:      "fetch_duration_seconds",
			Help:      "Длительность загрузки одного чанка.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		SearchIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "planner",
			Name:      "search_iterations",
			Help:      "Число итераций A* на один запрос планирования.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		PlanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Результаты планирования по статусу.",
		}, []string{"status"}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "planner",
			Name:      "plan_duration_seconds",
			Help:      "Длительность планирования пути.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "batches_submitted_total",
			Help:      "Отправленные транзакции перемещения.",
		}),
		MoveUnitsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "move_units_submitted_total",
			Help:      "Суммарные единицы движения в отправленных транзакциях.",
		}),
		Replans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "replans_total",
			Help:      "Запросы перепланирования по причине.",
		}, []string{"reason"}),
		DriftDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "drift_blocks",
			Help:      "Расхождение фактической и ожидаемой позиции (Chebyshev).",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 16},
		}),
		Navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent",
			Name:      "navigations_total",
			Help:      "Завершённые навигации по результату.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ChunkCacheLookups, m.ChunkFetches, m.ChunkFetchDuration,
		m.SearchIterations, m.PlanOutcomes, m.PlanDuration,
		m.BatchesSubmitted, m.MoveUnitsSubmitted, m.Replans, m.DriftDistance,
		m.Navigations,
	)
	return m
}

// ChunkCacheHit учитывает попадание в кеш чанков
func (m *Metrics) ChunkCacheHit() {
	if m == nil {
		return
	}
	m.ChunkCacheLookups.WithLabelValues("hit").Inc()
}

// ChunkCacheMiss учитывает промах кеша чанков
func (m *Metrics) ChunkCacheMiss() {
	if m == nil {
		return
	}
	m.ChunkCacheLookups.WithLabelValues("miss").Inc()
}

// ChunkFetched учитывает загрузку чанка из мира
func (m *Metrics) ChunkFetched(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ChunkFetches.WithLabelValues(result).Inc()
	m.ChunkFetchDuration.Observe(d.Seconds())
}

// PlanFinished учитывает завершённый запрос планирования
func (m *Metrics) PlanFinished(status string, iterations int, d time.Duration) {
	if m == nil {
		return
	}
	m.PlanOutcomes.WithLabelValues(status).Inc()
	m.SearchIterations.Observe(float64(iterations))
	m.PlanDuration.Observe(d.Seconds())
}

// BatchSubmitted учитывает отправленную транзакцию
func (m *Metrics) BatchSubmitted(moveUnits int) {
	if m == nil {
		return
	}
	m.BatchesSubmitted.Inc()
	m.MoveUnitsSubmitted.Add(float64(moveUnits))
}

// ReplanRequested учитывает запрос перепланирования
func (m *Metrics) ReplanRequested(reason string) {
	if m == nil {
		return
	}
	m.Replans.WithLabelValues(reason).Inc()
}

// DriftObserved учитывает расхождение позиций
func (m *Metrics) DriftObserved(blocks int32) {
	if m == nil {
		return
	}
	m.DriftDistance.Observe(float64(blocks))
}

// NavigationFinished учитывает завершённую навигацию
func (m *Metrics) NavigationFinished(reached bool) {
	if m == nil {
		return
	}
	result := "partial"
	if reached {
		result = "reached"
	}
	m.Navigations.WithLabelValues(result).Inc()
}
