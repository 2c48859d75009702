package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/dgraph-io/badger/v3"
)

var (
	// ErrNotFound ключа нет в архиве
	ErrNotFound = errors.New("not found in archive")
	// ErrArchiveClosed архив закрыт
	ErrArchiveClosed = errors.New("archive closed")
)

// ChunkArchive локальное холодное хранилище исследованных чанков.
// Используется как ColdStorage для кеша ландшафта: переживает рестарт агента.
type ChunkArchive struct {
	db    *badger.DB
	codec *ChunkCodec

	mu     sync.RWMutex
	closed bool
}

// OpenChunkArchive открывает архив в каталоге path.
// Пустой path открывает архив в памяти (тесты, офлайн-режим).
func OpenChunkArchive(path string) (*ChunkArchive, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	codec, err := NewChunkCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if path != "" {
		logging.Info("📦 архив чанков открыт: %s", path)
	}
	return &ChunkArchive{db: db, codec: codec}, nil
}

// Codec кодек блобов архива
func (a *ChunkArchive) Codec() *ChunkCodec {
	return a.codec
}

// Load читает значение по ключу
func (a *ChunkArchive) Load(ctx context.Context, key string) ([]byte, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}
	defer a.mu.RUnlock()

	var out []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

// Store записывает значение
func (a *ChunkArchive) Store(ctx context.Context, key string, value []byte) error {
	return a.BatchStore(ctx, map[string][]byte{key: value})
}

// BatchLoad читает несколько ключей; отсутствующие ключи пропускаются
func (a *ChunkArchive) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}
	defer a.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	err := a.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger batch get: %w", err)
	}
	return out, nil
}

// BatchStore записывает несколько значений одной пачкой
func (a *ChunkArchive) BatchStore(ctx context.Context, items map[string][]byte) error {
	if err := a.ready(ctx); err != nil {
		return err
	}
	defer a.mu.RUnlock()

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for key, value := range items {
		if err := wb.Set([]byte(key), value); err != nil {
			return fmt.Errorf("badger set %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger flush: %w", err)
	}
	return nil
}

// SaveChunk кодирует и сохраняет чанк
func (a *ChunkArchive) SaveChunk(ctx context.Context, chunk vec.Vec3, blocks world.ChunkBlocks) error {
	return a.Store(ctx, ChunkKey(chunk), a.codec.Encode(chunk, blocks))
}

// LoadChunk читает и декодирует чанк; ErrNotFound если чанк не архивирован
func (a *ChunkArchive) LoadChunk(ctx context.Context, chunk vec.Vec3) (world.ChunkBlocks, error) {
	blob, err := a.Load(ctx, ChunkKey(chunk))
	if err != nil {
		return nil, err
	}
	return a.codec.Decode(chunk, blob)
}

// Count количество архивированных чанков
func (a *ChunkArchive) Count() (int, error) {
	if err := a.ready(context.Background()); err != nil {
		return 0, err
	}
	defer a.mu.RUnlock()

	n := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("chunk:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close закрывает архив; повторный вызов безопасен
func (a *ChunkArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.codec.Close()
	return a.db.Close()
}

// ready захватывает RLock; при успехе вызывающий обязан освободить его
func (a *ChunkArchive) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrArchiveClosed
	}
	return nil
}
