package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-agent/internal/eventbus"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/pathfind"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logging.Logger {
	return logging.NewWriterLogger("agent", io.Discard, logging.ERROR)
}

// knockbackMover отбрасывает агента на 3 блока после первой транзакции
type knockbackMover struct {
	*movement.SimMover
	once sync.Once
}

func (m *knockbackMover) SubmitMoveBatch(ctx context.Context, steps []vec.Vec3) (movement.Confirmation, error) {
	conf, err := m.SimMover.SubmitMoveBatch(ctx, steps)
	if err != nil {
		return conf, err
	}
	m.once.Do(func() {
		pos, _ := m.SimMover.CurrentPosition(ctx)
		m.SimMover.Teleport(pos.Add(vec.New(0, 0, 3)))
	})
	return conf, nil
}

// blockingMover ждёт разрешения на каждую транзакцию
type blockingMover struct {
	*movement.SimMover
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMover) SubmitMoveBatch(ctx context.Context, steps []vec.Vec3) (movement.Confirmation, error) {
	select {
	case m.entered <- struct{}{}:
	default:
	}
	select {
	case <-m.release:
	case <-ctx.Done():
		return movement.Confirmation{}, ctx.Err()
	}
	return m.SimMover.SubmitMoveBatch(ctx, steps)
}

func TestNavigate_ReachesTarget(t *testing.T) {
	w := world.NewFlatWorld(63)
	mover := movement.NewSimMover(w, vec.New(0, 64, 0))
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()), WithMetrics(metrics))

	target := vec.New(20, 64, 7)
	report, err := nav.Navigate(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, report.Reached)
	assert.Equal(t, target, report.Position)
	assert.Equal(t, 1, report.Cycles)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, pathfind.StatusFound, report.LastPlan)
	assert.NotEmpty(t, report.SessionID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Navigations.WithLabelValues("reached")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BatchesSubmitted))

	snap := nav.Snapshot()
	assert.False(t, snap.Running)
	require.NotNil(t, snap.Last)
	assert.True(t, snap.Last.Reached)
}

func TestNavigate_ReplansAfterDrift(t *testing.T) {
	w := world.NewFlatWorld(63)
	mover := &knockbackMover{SimMover: movement.NewSimMover(w, vec.New(0, 64, 0))}
	bus := eventbus.NewMemoryBus(64)

	var (
		mu    sync.Mutex
		types []string
	)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		types = append(types, ev.EventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()), WithEventBus(bus))

	target := vec.New(20, 64, 0)
	report, err := nav.Navigate(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, report.Reached)
	assert.Equal(t, 2, report.Cycles, "отбрасывание на 3 блока требует перепланирования")
	assert.Equal(t, target, report.Position)

	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, eventbus.TypePathPlanned)
	assert.Contains(t, types, eventbus.TypeBatchConfirmed)
	assert.Contains(t, types, eventbus.TypeReplanRequired)
	assert.Contains(t, types, eventbus.TypeNavigationFinished)
}

func TestNavigate_SealedTargetStopsWithoutError(t *testing.T) {
	w := world.NewFlatWorld(63)
	target := vec.New(30, 64, 0)
	w.Fill(vec.New(29, 64, -1), vec.New(31, 66, 1), block.Stone)
	w.Set(target, block.Air)
	w.Set(target.Up(1), block.Air)

	opts := DefaultOptions()
	opts.Planner.MinIterations = 2000
	opts.Planner.IterationsPerBlock = 10
	mover := movement.NewSimMover(w, vec.New(0, 64, 0))
	nav := NewNavigator(w, mover, opts, WithLogger(quietLogger()))

	report, err := nav.Navigate(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, report.Reached)
	assert.LessOrEqual(t, report.Cycles, opts.MaxCycles)
	assert.LessOrEqual(t, report.Position.Chebyshev(target), int32(3), "агент подходит к цели вплотную")
	assert.Greater(t, report.Batches, 0)
}

func TestNavigate_Busy(t *testing.T) {
	w := world.NewFlatWorld(63)
	mover := &blockingMover{
		SimMover: movement.NewSimMover(w, vec.New(0, 64, 0)),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()))

	done := make(chan Report, 1)
	go func() {
		report, err := nav.Navigate(context.Background(), vec.New(5, 64, 0))
		assert.NoError(t, err)
		done <- report
	}()

	select {
	case <-mover.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("навигация не дошла до отправки транзакции")
	}

	_, err := nav.Navigate(context.Background(), vec.New(1, 64, 0))
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, nav.ClearCache(), ErrBusy)
	_, err = nav.Start(vec.New(1, 64, 0))
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, nav.Snapshot().Running)

	close(mover.release)
	select {
	case report := <-done:
		assert.True(t, report.Reached)
	case <-time.After(5 * time.Second):
		t.Fatal("навигация не завершилась")
	}
	assert.NoError(t, nav.ClearCache())
}

func TestNavigate_Cancel(t *testing.T) {
	w := world.NewFlatWorld(63)
	mover := &blockingMover{
		SimMover: movement.NewSimMover(w, vec.New(0, 64, 0)),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()))

	errs := make(chan error, 1)
	go func() {
		_, err := nav.Navigate(context.Background(), vec.New(5, 64, 0))
		errs <- err
	}()

	<-mover.entered
	assert.True(t, nav.Cancel())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("отмена не сработала")
	}
	assert.False(t, nav.Cancel(), "нечего отменять")
}

func TestNavigate_TransactionFailure(t *testing.T) {
	w := world.NewFlatWorld(63)
	mover := movement.NewSimMover(w, vec.New(0, 64, 0))
	mover.FailNext(1, errors.New("tx reverted"))
	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()))

	report, err := nav.Navigate(context.Background(), vec.New(5, 64, 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, movement.ErrTransactionFailed))
	assert.False(t, report.Reached)
	require.NotNil(t, nav.Snapshot().Last)
	assert.NotEmpty(t, nav.Snapshot().Last.Error)
}

func TestNavigate_AlreadyAtTarget(t *testing.T) {
	w := world.NewFlatWorld(63)
	start := vec.New(3, 64, 3)
	mover := movement.NewSimMover(w, start)
	nav := NewNavigator(w, mover, DefaultOptions(), WithLogger(quietLogger()))

	report, err := nav.Navigate(context.Background(), start)
	require.NoError(t, err)
	assert.True(t, report.Reached)
	assert.Equal(t, 0, report.Batches)
	assert.Equal(t, 0, mover.Submitted())
}

func TestNavigate_PrefetchesStartNeighbourhood(t *testing.T) {
	target := vec.New(3, 64, 0)

	run := func(radius int32) int {
		w := world.NewFlatWorld(63)
		opts := DefaultOptions()
		opts.PrefetchRadius = radius
		nav := NewNavigator(w, movement.NewSimMover(w, vec.New(0, 64, 0)), opts, WithLogger(quietLogger()))

		report, err := nav.Navigate(context.Background(), target)
		require.NoError(t, err)
		require.True(t, report.Reached)

		stats, err := nav.CacheStats()
		require.NoError(t, err)
		return stats.LoadedChunks
	}

	assert.GreaterOrEqual(t, run(1), 27, "вся окрестность 3x3x3 загружена")
	assert.Less(t, run(0), 27, "без предзагрузки грузятся только нужные поиску чанки")
}

func TestNeighbourhood(t *testing.T) {
	assert.Nil(t, neighbourhood(vec.New(0, 0, 0), 0))

	chunks := neighbourhood(vec.New(-1, 64, 17), 1)
	require.Len(t, chunks, 27)
	assert.Contains(t, chunks, vec.New(-1, 4, 1), "центр - чанк самой позиции")
	assert.Contains(t, chunks, vec.New(-2, 3, 0))
	assert.Contains(t, chunks, vec.New(0, 5, 2))
}
