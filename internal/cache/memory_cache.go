package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
)

// MemoryCache горячий уровень в памяти процесса для одиночного агента.
// Запись в холодное хранилище синхронная (write-through).
type MemoryCache struct {
	config      Config
	coldStorage ColdStorage
	invalidator CacheInvalidator
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool

	stats counters
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache создаёт кеш в памяти; coldStorage и invalidator опциональны
func NewMemoryCache(config Config, coldStorage ColdStorage, invalidator CacheInvalidator) *MemoryCache {
	return &MemoryCache{
		config:      config.withDefaults(),
		coldStorage: coldStorage,
		invalidator: invalidator,
		now:         time.Now,
		entries:     make(map[string]memoryEntry),
	}
}

// Get возвращает значение, при промахе читает холодное хранилище
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer m.stats.recordLatency(start)
	m.stats.requests.Add(1)

	if val, ok, err := m.lookup(key); err != nil {
		return nil, err
	} else if ok {
		m.stats.hits.Add(1)
		return val, nil
	}

	if m.coldStorage != nil {
		val, err := m.coldStorage.Load(ctx, key)
		if err == nil {
			m.stats.coldHits.Add(1)
			m.put(key, val, m.config.DefaultTTL)
			return val, nil
		}
		logging.Debug("Cold storage miss for key %s: %v", key, err)
	}

	m.stats.misses.Add(1)
	return nil, ErrCacheMiss
}

func (m *MemoryCache) lookup(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrCacheClosed
	}
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) put(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(m.config.clampTTL(ttl))}
}

// Set сохраняет значение и синхронно пишет его в холодное хранилище
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrCacheClosed
	}

	m.put(key, value, ttl)
	if m.coldStorage != nil {
		if err := m.coldStorage.Store(ctx, key, value); err != nil {
			logging.Warn("Cold storage write failed for %s: %v", key, err)
		}
	}
	return nil
}

// Delete удаляет ключ локально
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Invalidate удаляет ключ и уведомляет остальных агентов
func (m *MemoryCache) Invalidate(ctx context.Context, key string) error {
	_ = m.Delete(ctx, key)
	if m.invalidator != nil {
		return m.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// BatchGet читает несколько ключей горячего уровня
func (m *MemoryCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		m.stats.requests.Add(1)
		val, ok, err := m.lookup(key)
		if err != nil {
			return nil, err
		}
		if ok {
			m.stats.hits.Add(1)
			result[key] = val
		} else {
			m.stats.misses.Add(1)
		}
	}
	return result, nil
}

// Purge удаляет истёкшие записи; возвращает число удалённых
func (m *MemoryCache) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}

// Close очищает кеш; холодное хранилище закрывает его владелец
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = make(map[string]memoryEntry)
	return nil
}

// GetMetrics снимок метрик
func (m *MemoryCache) GetMetrics() *CacheMetrics {
	s := m.stats.snapshot()
	m.mu.RLock()
	s.TotalKeys = int64(len(m.entries))
	m.mu.RUnlock()
	return s
}
