package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// Memory is an in-process StorageAdapter. It backs the default print
// store and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[core.StorageKey][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[core.StorageKey][]byte)}
}

func (m *Memory) Put(ctx context.Context, key core.StorageKey, r io.Reader, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.put", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.put", err)
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "memory.get", err)
	}
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.CategoryStorage, "memory.get",
			fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, key.Bucket, key.Path))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "memory.delete", err)
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "memory.exists", err)
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) List(ctx context.Context, bucket string) ([]core.StorageKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "memory.list", err)
	}
	m.mu.RLock()
	keys := make([]core.StorageKey, 0, len(m.objects))
	for k := range m.objects {
		if k.Bucket == bucket {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path < keys[j].Path })
	return keys, nil
}
