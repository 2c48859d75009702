// Package cache общий горячий кеш закодированных чанков ландшафта.
//
// Горячий уровень (Redis или память процесса) хранит блобы storage.ChunkCodec
// по ключу chunk:x:y:z, холодный уровень (архив BadgerDB) переживает рестарт.
// Инвалидации рассылаются между агентами через NATS.
package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo хранилище блобов с TTL.
//
//	repo := NewMemoryCache(cfg, archive, nil)
//	blob, err := repo.Get(ctx, "chunk:0:4:0")
//	err = repo.Set(ctx, "chunk:0:4:0", blob, time.Minute)
type CacheRepo interface {
	// Get возвращает ErrCacheMiss если ключа нет ни в горячем, ни в холодном уровне
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение; TTL = 0 означает DefaultTTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ только локально
	Delete(ctx context.Context, key string) error

	// Invalidate удаляет ключ и рассылает уведомление другим агентам
	Invalidate(ctx context.Context, key string) error

	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	Close() error

	GetMetrics() *CacheMetrics
}

// ColdStorage постоянное хранилище, к которому кеш обращается при промахе.
// Реализуется storage.ChunkArchive.
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchStore(ctx context.Context, items map[string][]byte) error
	Close() error
}

// CacheInvalidator рассылка инвалидаций через Pub/Sub
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации ключа
type InvalidationHandler func(key string) error

// CacheMetrics метрики кеша
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	ColdHits      int64   `json:"cold_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys     int64 `json:"total_keys"`
	PendingWrites int64 `json:"pending_writes"`

	LastUpdate time.Time `json:"last_update"`
}

// Config конфигурация горячего уровня
type Config struct {
	// RedisURL адрес Redis (host:port); пустой адрес означает кеш в памяти
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	// Write-Behind в холодное хранилище
	WriteBehindEnabled   bool          `yaml:"write_behind_enabled"`
	WriteBehindInterval  time.Duration `yaml:"write_behind_interval"`
	WriteBehindBatchSize int           `yaml:"write_behind_batch_size"`

	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// withDefaults заполняет незаданные поля
func (c Config) withDefaults() Config {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = time.Hour
	}
	if c.WriteBehindInterval == 0 {
		c.WriteBehindInterval = 5 * time.Second
	}
	if c.WriteBehindBatchSize == 0 {
		c.WriteBehindBatchSize = 100
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.PoolTimeout == 0 {
		c.PoolTimeout = 30 * time.Second
	}
	return c
}

// clampTTL приводит TTL к допустимому диапазону
func (c Config) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.DefaultTTL
	}
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	return ttl
}

// Ошибки кеша
var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrCacheClosed = errors.New("cache closed")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
