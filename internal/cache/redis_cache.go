package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache горячий уровень в Redis, общий для нескольких агентов.
// При промахе читает холодное хранилище (Read-Through), запись в холодное
// хранилище выполняется фоново пачками (Write-Behind).
type RedisCache struct {
	client      *redis.Client
	config      Config
	coldStorage ColdStorage
	invalidator CacheInvalidator

	writeBehindQueue chan writeItem
	writeBehindStop  chan struct{}
	writeBehindWg    sync.WaitGroup

	stats counters

	closeOnce sync.Once
}

// writeItem элемент очереди Write-Behind
type writeItem struct {
	key   string
	value []byte
}

// NewRedisCache подключается к Redis. coldStorage и invalidator опциональны.
func NewRedisCache(config Config, coldStorage ColdStorage, invalidator CacheInvalidator) (*RedisCache, error) {
	config = config.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
	}

	if config.WriteBehindEnabled && coldStorage != nil {
		c.writeBehindQueue = make(chan writeItem, config.WriteBehindBatchSize*2)
		c.writeBehindStop = make(chan struct{})
		c.startWriteBehind()
	}

	logging.Info("Redis cache initialized: %s (Write-Behind: %v)", config.RedisURL, config.WriteBehindEnabled)
	return c, nil
}

// Get читает Redis, при промахе холодное хранилище
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.stats.recordLatency(start)
	r.stats.requests.Add(1)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		r.stats.hits.Add(1)
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		r.stats.misses.Add(1)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	if r.coldStorage != nil {
		val, err := r.coldStorage.Load(ctx, key)
		if err == nil {
			r.stats.coldHits.Add(1)
			// Поднимаем значение в горячий уровень без повторной записи в холодный
			if err := r.client.Set(ctx, key, val, r.config.DefaultTTL).Err(); err != nil {
				logging.Warn("Redis warm-up failed for %s: %v", key, err)
			}
			return val, nil
		}
		logging.Debug("Cold storage miss for key %s: %v", key, err)
	}

	r.stats.misses.Add(1)
	return nil, ErrCacheMiss
}

// Set пишет в Redis и ставит значение в очередь Write-Behind
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer r.stats.recordLatency(start)

	if err := r.client.Set(ctx, key, value, r.config.clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	r.enqueueWriteBehind(ctx, key, value)
	return nil
}

func (r *RedisCache) enqueueWriteBehind(ctx context.Context, key string, value []byte) {
	if r.coldStorage == nil {
		return
	}
	if r.writeBehindQueue == nil {
		if err := r.coldStorage.Store(ctx, key, value); err != nil {
			logging.Warn("Cold storage write failed for %s: %v", key, err)
		}
		return
	}

	select {
	case r.writeBehindQueue <- writeItem{key: key, value: value}:
	default:
		// Очередь полна, пишем синхронно
		logging.Warn("Write-behind queue full, writing synchronously: %s", key)
		if err := r.coldStorage.Store(ctx, key, value); err != nil {
			logging.Error("Failed to write to cold storage: %v", err)
		}
	}
}

// Delete удаляет ключ из Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Invalidate удаляет ключ и уведомляет остальные узлы
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Delete(ctx, key); err != nil {
		return err
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			return fmt.Errorf("publish invalidation %s: %w", key, err)
		}
	}
	return nil
}

// BatchGet читает несколько ключей одним pipeline; отсутствующие пропускаются
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	defer r.stats.recordLatency(start)

	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	r.stats.requests.Add(int64(len(keys)))

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis batch get: %w", err)
	}

	for key, cmd := range cmds {
		val, err := cmd.Bytes()
		if err == nil {
			result[key] = val
			r.stats.hits.Add(1)
			continue
		}
		r.stats.misses.Add(1)
	}
	return result, nil
}

// Close останавливает Write-Behind (с досбросом очереди) и закрывает соединение
func (r *RedisCache) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.writeBehindStop != nil {
			close(r.writeBehindStop)
			r.writeBehindWg.Wait()
		}
		err = r.client.Close()
		logging.Info("Redis cache closed")
	})
	return err
}

// GetMetrics снимок метрик
func (r *RedisCache) GetMetrics() *CacheMetrics {
	m := r.stats.snapshot()
	if r.writeBehindQueue != nil {
		m.PendingWrites = int64(len(r.writeBehindQueue))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := r.client.DBSize(ctx).Result(); err == nil {
		m.TotalKeys = n
	}
	return m
}

// startWriteBehind фоновая запись в холодное хранилище
func (r *RedisCache) startWriteBehind() {
	r.writeBehindWg.Add(1)
	go func() {
		defer r.writeBehindWg.Done()

		ticker := time.NewTicker(r.config.WriteBehindInterval)
		defer ticker.Stop()

		batch := make(map[string][]byte)
		for {
			select {
			case item := <-r.writeBehindQueue:
				batch[item.key] = item.value
				if len(batch) >= r.config.WriteBehindBatchSize {
					r.flushWriteBehindBatch(batch)
					batch = make(map[string][]byte)
				}

			case <-ticker.C:
				if len(batch) > 0 {
					r.flushWriteBehindBatch(batch)
					batch = make(map[string][]byte)
				}

			case <-r.writeBehindStop:
				// Досбрасываем всё, что осталось в очереди
				for {
					select {
					case item := <-r.writeBehindQueue:
						batch[item.key] = item.value
						continue
					default:
					}
					break
				}
				r.flushWriteBehindBatch(batch)
				return
			}
		}
	}()

	logging.Info("Write-Behind started (interval: %v, batch size: %d)",
		r.config.WriteBehindInterval, r.config.WriteBehindBatchSize)
}

func (r *RedisCache) flushWriteBehindBatch(batch map[string][]byte) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.coldStorage.BatchStore(ctx, batch); err != nil {
		logging.Error("Write-Behind batch store failed (%d items): %v", len(batch), err)
		return
	}
	logging.Debug("Write-Behind batch stored: %d items in %v", len(batch), time.Since(start))
}
