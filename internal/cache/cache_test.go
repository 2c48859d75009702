package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/annel0/voxel-agent/internal/storage"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/annel0/voxel-agent/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockColdStorage реализует ColdStorage для тестов
type mockColdStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockColdStorage() *mockColdStorage {
	return &mockColdStorage{data: make(map[string][]byte)}
}

func (m *mockColdStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return val, nil
}

func (m *mockColdStorage) Store(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockColdStorage) BatchStore(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		_ = m.Store(ctx, k, v)
	}
	return nil
}

func (m *mockColdStorage) Close() error { return nil }

func (m *mockColdStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// mockInvalidator записывает опубликованные ключи
type mockInvalidator struct {
	mu        sync.Mutex
	published []string
	handler   InvalidationHandler
}

func (m *mockInvalidator) PublishInvalidation(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, key)
	return nil
}

func (m *mockInvalidator) SubscribeInvalidations(_ context.Context, h InvalidationHandler) error {
	m.handler = h
	return nil
}

func (m *mockInvalidator) Close() error { return nil }

func TestMemoryCache_TTLAndColdStorage(t *testing.T) {
	cold := newMockColdStorage()
	c := NewMemoryCache(Config{DefaultTTL: time.Minute}, cold, nil)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.True(t, cold.has("k"), "запись должна дойти до холодного хранилища")

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Истекает в горячем уровне, но поднимается из холодного
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Purge())
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = c.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	m := c.GetMetrics()
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.ColdHits)
	assert.Equal(t, int64(1), m.CacheMisses)
}

func TestMemoryCache_InvalidatePublishes(t *testing.T) {
	inv := &mockInvalidator{}
	c := NewMemoryCache(Config{}, nil, inv)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "chunk:0:0:0", []byte("x"), time.Second))
	require.NoError(t, c.Invalidate(ctx, "chunk:0:0:0"))

	_, err := c.Get(ctx, "chunk:0:0:0")
	assert.True(t, IsCacheMiss(err))
	assert.Equal(t, []string{"chunk:0:0:0"}, inv.published)
}

func TestMemoryCache_Closed(t *testing.T) {
	c := NewMemoryCache(Config{}, nil, nil)
	require.NoError(t, c.Close())
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Set(context.Background(), "k", nil, 0), ErrCacheClosed)
}

func TestCachedWorld_ServesRepeatedChunksFromCache(t *testing.T) {
	inner := world.NewFlatWorld(63)
	codec, err := storage.NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	repo := NewMemoryCache(Config{}, nil, nil)
	cw := NewCachedWorld(inner, repo, codec, 0)
	ctx := context.Background()
	chunk := vec.New(0, 3, 0) // y 48..63: пол на y=63

	first, err := cw.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)
	second, err := cw.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.ChunkFetches(), "второй запрос обслуживается кешем")
	top := vec.New(5, 63, 5)
	assert.Equal(t, block.Stone, first[top].ObjectType)
	assert.Equal(t, first[top], second[top])
}

func TestCachedWorld_ArchiveSurvivesHotLoss(t *testing.T) {
	inner := world.NewFlatWorld(63)
	archive, err := storage.OpenChunkArchive("")
	require.NoError(t, err)
	defer archive.Close()

	ctx := context.Background()
	chunk := vec.New(1, 3, 1)

	warm := NewCachedWorld(inner, NewMemoryCache(Config{}, archive, nil), archive.Codec(), 0)
	_, err = warm.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)

	// Новый горячий уровень (рестарт агента) поверх того же архива
	cold := NewCachedWorld(inner, NewMemoryCache(Config{}, archive, nil), archive.Codec(), 0)
	blocks, err := cold.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.ChunkFetches())
	assert.Equal(t, block.Stone, blocks[vec.New(20, 63, 20)].ObjectType)
}

func TestCachedWorld_CorruptBlobRefetched(t *testing.T) {
	inner := world.NewFlatWorld(63)
	codec, err := storage.NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	repo := NewMemoryCache(Config{}, nil, nil)
	ctx := context.Background()
	chunk := vec.New(0, 3, 0)
	require.NoError(t, repo.Set(ctx, storage.ChunkKey(chunk), []byte("garbage"), 0))

	cw := NewCachedWorld(inner, repo, codec, 0)
	blocks, err := cw.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.ChunkFetches())
	assert.Equal(t, block.Stone, blocks[vec.New(0, 63, 0)].ObjectType)
}

func TestCachedWorld_RemoteInvalidation(t *testing.T) {
	inner := world.NewFlatWorld(63)
	codec, err := storage.NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	inv := &mockInvalidator{}
	cw := NewCachedWorld(inner, NewMemoryCache(Config{}, nil, inv), codec, 0)
	ctx := context.Background()
	chunk := vec.New(0, 3, 0)
	require.NoError(t, cw.ListenInvalidations(ctx, inv))

	_, err = cw.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)

	// Другой агент изменил чанк
	inner.Set(vec.New(0, 63, 0), block.Water)
	require.NoError(t, inv.handler(storage.ChunkKey(chunk)))

	blocks, err := cw.GetChunkBlocks(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.ChunkFetches())
	assert.Equal(t, block.Water, blocks[vec.New(0, 63, 0)].ObjectType)
}

func TestCachedWorld_InnerErrorPropagates(t *testing.T) {
	inner := world.NewFlatWorld(63)
	inner.SetUnexplored(func(chunk vec.Vec3) bool { return chunk.X > 0 })
	codec, err := storage.NewChunkCodec()
	require.NoError(t, err)
	defer codec.Close()

	cw := NewCachedWorld(inner, NewMemoryCache(Config{}, nil, nil), codec, 0)
	_, err = cw.GetChunkBlocks(context.Background(), vec.New(1, 3, 0))
	assert.ErrorIs(t, err, world.ErrChunkNotExplored)
}

func TestRedisCache_BasicOperations(t *testing.T) {
	// Пропускаем если Redis недоступен
	c, err := NewRedisCache(Config{RedisURL: "localhost:6379", DefaultTTL: 10 * time.Second}, nil, nil)
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	key := "test:voxel-agent:" + time.Now().Format("150405.000000")

	require.NoError(t, c.Set(ctx, key, []byte("blob"), 5*time.Second))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	batch, err := c.BatchGet(ctx, []string{key, key + ":missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCache_WriteBehindFlushesOnClose(t *testing.T) {
	cold := newMockColdStorage()
	c, err := NewRedisCache(Config{
		RedisURL:            "localhost:6379",
		WriteBehindEnabled:  true,
		WriteBehindInterval: time.Hour,
	}, cold, nil)
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}

	key := "test:voxel-agent:wb:" + time.Now().Format("150405.000000")
	require.NoError(t, c.Set(context.Background(), key, []byte("v"), time.Second))
	require.NoError(t, c.Close())
	assert.True(t, cold.has(key), "Close должен досбросить очередь Write-Behind")
}

func TestNATSInvalidator_PubSub(t *testing.T) {
	// Пропускаем если NATS недоступен
	cfg := InvalidatorConfig{NATSURL: "nats://localhost:4222", Subject: "test.terrain.invalidation"}

	a, err := NewNATSInvalidator(cfg, "agent-a")
	if err != nil {
		t.Skipf("NATS not available, skipping test: %v", err)
	}
	defer a.Close()
	b, err := NewNATSInvalidator(cfg, "agent-b")
	require.NoError(t, err)
	defer b.Close()

	received := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.SubscribeInvalidations(ctx, func(key string) error {
		received <- key
		return nil
	}))
	assert.ErrorIs(t, b.SubscribeInvalidations(ctx, nil), ErrAlreadySubscribed)

	require.NoError(t, a.PublishInvalidation(ctx, "chunk:1:2:3"))
	select {
	case key := <-received:
		assert.Equal(t, "chunk:1:2:3", key)
	case <-time.After(3 * time.Second):
		t.Fatal("инвалидация не получена")
	}
}
