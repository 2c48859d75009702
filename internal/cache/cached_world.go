package cache

import (
	"context"
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/storage"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
)

// CachedWorld декоратор world.World с общим кешем закодированных чанков.
// Точечные запросы блоков всегда идут во внутренний мир.
type CachedWorld struct {
	inner world.World
	repo  CacheRepo
	codec *storage.ChunkCodec
	ttl   time.Duration
}

// NewCachedWorld оборачивает мир; ttl = 0 означает TTL кеша по умолчанию
func NewCachedWorld(inner world.World, repo CacheRepo, codec *storage.ChunkCodec, ttl time.Duration) *CachedWorld {
	return &CachedWorld{inner: inner, repo: repo, codec: codec, ttl: ttl}
}

// GetBlockSample реализует world.World
func (cw *CachedWorld) GetBlockSample(ctx context.Context, pos vec.Vec3) (world.BlockSample, error) {
	return cw.inner.GetBlockSample(ctx, pos)
}

// GetChunkBlocks реализует world.World: кеш, затем внутренний мир
func (cw *CachedWorld) GetChunkBlocks(ctx context.Context, chunk vec.Vec3) (world.ChunkBlocks, error) {
	key := storage.ChunkKey(chunk)

	blob, err := cw.repo.Get(ctx, key)
	switch {
	case err == nil:
		blocks, derr := cw.codec.Decode(chunk, blob)
		if derr == nil {
			return blocks, nil
		}
		logging.Warn("повреждённый блоб %s удалён: %v", key, derr)
		_ = cw.repo.Delete(ctx, key)
	case !IsCacheMiss(err):
		// Недоступный кеш не должен ломать планирование
		logging.Warn("кеш ландшафта недоступен для %s: %v", key, err)
	}

	blocks, err := cw.inner.GetChunkBlocks(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if err := cw.repo.Set(ctx, key, cw.codec.Encode(chunk, blocks), cw.ttl); err != nil {
		logging.Warn("не удалось сохранить %s в кеш: %v", key, err)
	}
	return blocks, nil
}

// Invalidate сбрасывает чанк у себя и у остальных агентов
func (cw *CachedWorld) Invalidate(ctx context.Context, chunk vec.Vec3) error {
	return cw.repo.Invalidate(ctx, storage.ChunkKey(chunk))
}

// ListenInvalidations удаляет из кеша чанки, инвалидированные другими агентами
func (cw *CachedWorld) ListenInvalidations(ctx context.Context, inv CacheInvalidator) error {
	return inv.SubscribeInvalidations(ctx, func(key string) error {
		return cw.repo.Delete(context.Background(), key)
	})
}
