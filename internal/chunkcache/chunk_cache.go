// Package chunkcache хранит образцы блоков, загруженные чанками, на время
// одной сессии планирования.
//
// Образцу блока можно доверять только если его чанк целиком загружен.
// Кеш не потокобезопасен: им владеет одна сессия (single writer).
package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-agent/internal/observability"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrChunkUnavailable мир не смог выдать чанк
var ErrChunkUnavailable = errors.New("chunk unavailable")

// Stats диагностические счётчики кеша
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	ChunkFetches  int64 `json:"chunk_fetches"`
	LoadedChunks  int   `json:"loaded_chunks"`
	CachedSamples int   `json:"cached_samples"`
}

// ChunkCache мемоизированный доступ к вокселям поверх world.World
type ChunkCache struct {
	world   world.World
	metrics *observability.Metrics

	samples map[vec.Vec3]world.BlockSample
	loaded  map[vec.Vec3]struct{}

	// Параллелизм предзагрузки непересекающихся чанков
	prefetchLimit int

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// Option настройка ChunkCache
type Option func(*ChunkCache)

// WithMetrics подключает Prometheus-метрики
func WithMetrics(m *observability.Metrics) Option {
	return func(c *ChunkCache) { c.metrics = m }
}

// WithPrefetchLimit ограничивает число одновременных загрузок в Prefetch
func WithPrefetchLimit(n int) Option {
	return func(c *ChunkCache) {
		if n > 0 {
			c.prefetchLimit = n
		}
	}
}

// New создаёт пустой кеш поверх мира
func New(w world.World, opts ...Option) *ChunkCache {
	c := &ChunkCache{
		world:         w,
		samples:       make(map[vec.Vec3]world.BlockSample),
		loaded:        make(map[vec.Vec3]struct{}),
		prefetchLimit: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get возвращает образец блока, загружая его чанк при промахе.
// Координаты, отсутствующие в выдаче загруженного чанка, считаются воздухом.
func (c *ChunkCache) Get(ctx context.Context, pos vec.Vec3) (world.BlockSample, error) {
	chunk := pos.ToChunkCoords()
	if _, ok := c.loaded[chunk]; ok {
		c.hits.Add(1)
		c.metrics.ChunkCacheHit()
		return c.sample(pos), nil
	}

	c.misses.Add(1)
	c.metrics.ChunkCacheMiss()

	if err := c.LoadChunk(ctx, chunk); err != nil {
		return world.BlockSample{}, err
	}
	return c.sample(pos), nil
}

func (c *ChunkCache) sample(pos vec.Vec3) world.BlockSample {
	if s, ok := c.samples[pos]; ok {
		return s
	}
	return world.AirSample
}

// LoadChunk загружает чанк целиком; повторный вызов для загруженного чанка ничего не делает
func (c *ChunkCache) LoadChunk(ctx context.Context, chunk vec.Vec3) error {
	if _, ok := c.loaded[chunk]; ok {
		return nil
	}

	blocks, err := c.fetch(ctx, chunk)
	if err != nil {
		return err
	}
	c.store(chunk, blocks)
	return nil
}

// fetch запрашивает чанк у мира без изменения состояния кеша
func (c *ChunkCache) fetch(ctx context.Context, chunk vec.Vec3) (world.ChunkBlocks, error) {
	start := time.Now()
	c.fetches.Add(1)

	blocks, err := c.world.GetChunkBlocks(ctx, chunk)
	c.metrics.ChunkFetched(time.Since(start), err)
	if err != nil {
		trace.SpanFromContext(ctx).AddEvent("chunk.unavailable", trace.WithAttributes(
			attribute.String("chunk", chunkKey(chunk)),
			attribute.String("error", err.Error()),
		))
		return nil, fmt.Errorf("chunk %v: %w: %w", chunk, ErrChunkUnavailable, err)
	}

	trace.SpanFromContext(ctx).AddEvent("chunk.loaded", trace.WithAttributes(
		attribute.String("chunk", chunkKey(chunk)),
		attribute.Int("blocks", len(blocks)),
	))
	return blocks, nil
}

func (c *ChunkCache) store(chunk vec.Vec3, blocks world.ChunkBlocks) {
	for pos, s := range blocks {
		// Мир не должен подсовывать блоки чужих чанков
		if pos.ToChunkCoords() != chunk {
			continue
		}
		c.samples[pos] = s
	}
	c.loaded[chunk] = struct{}{}
}

// Prefetch параллельно загружает ещё не загруженные чанки.
// Данные записываются в кеш только после завершения всех загрузок.
func (c *ChunkCache) Prefetch(ctx context.Context, chunks []vec.Vec3) error {
	pending := make([]vec.Vec3, 0, len(chunks))
	seen := make(map[vec.Vec3]struct{}, len(chunks))
	for _, ch := range chunks {
		if _, ok := c.loaded[ch]; ok {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		pending = append(pending, ch)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make(map[vec.Vec3]world.ChunkBlocks, len(pending))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.prefetchLimit)
	for _, ch := range pending {
		ch := ch
		g.Go(func() error {
			blocks, err := c.fetch(gctx, ch)
			if err != nil {
				return err
			}
			mu.Lock()
			results[ch] = blocks
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	// Успешно загруженные чанки сохраняем даже при частичной ошибке
	for ch, blocks := range results {
		c.store(ch, blocks)
	}
	return err
}

// Refresh перечитывает один блок из мира точечным запросом.
// Значение попадает в кеш только если чанк уже загружен.
func (c *ChunkCache) Refresh(ctx context.Context, pos vec.Vec3) (world.BlockSample, error) {
	s, err := c.world.GetBlockSample(ctx, pos)
	if err != nil {
		return world.BlockSample{}, fmt.Errorf("block %v: %w: %w", pos, ErrChunkUnavailable, err)
	}
	if _, ok := c.loaded[pos.ToChunkCoords()]; ok {
		c.samples[pos] = s
	}
	return s, nil
}

// IsLoaded проверяет, загружен ли чанк
func (c *ChunkCache) IsLoaded(chunk vec.Vec3) bool {
	_, ok := c.loaded[chunk]
	return ok
}

// Clear сбрасывает все образцы и множество загруженных чанков
func (c *ChunkCache) Clear() {
	c.samples = make(map[vec.Vec3]world.BlockSample)
	c.loaded = make(map[vec.Vec3]struct{})
}

// Stats возвращает диагностические счётчики
func (c *ChunkCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		ChunkFetches:  c.fetches.Load(),
		LoadedChunks:  len(c.loaded),
		CachedSamples: len(c.samples),
	}
}

func chunkKey(chunk vec.Vec3) string {
	return fmt.Sprintf("%d:%d:%d", chunk.X, chunk.Y, chunk.Z)
}
