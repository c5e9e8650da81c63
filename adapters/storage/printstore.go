package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

const printSuffix = ".json"

// PrintStoreOptions tunes a PrintStore.
type PrintStoreOptions struct {
	// Capacity bounds the number of stored prints; 0 means unlimited.
	Capacity   int
	MaxRetries int
	RetryDelay time.Duration
}

// PrintStore keeps serialized prints in one bucket of a StorageAdapter.
// Failures map onto device error codes: a missing print is DATA_NOT_FOUND
// and a full store is DATA_FULL. Transient adapter errors are retried.
type PrintStore struct {
	store  core.StorageAdapter
	bucket string
	opts   PrintStoreOptions

	// serializes the capacity check with the write
	mu sync.Mutex
}

func NewPrintStore(store core.StorageAdapter, bucket string, opts PrintStoreOptions) *PrintStore {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &PrintStore{store: store, bucket: bucket, opts: opts}
}

func (s *PrintStore) key(id string) core.StorageKey {
	return core.StorageKey{Bucket: s.bucket, Path: id + printSuffix}
}

// Save stores p under its ID, replacing an earlier version.
func (s *PrintStore) Save(ctx context.Context, p *core.Print) error {
	if p == nil || p.ID == "" {
		return apperrors.ErrDataInvalid
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Capacity > 0 {
		var exists bool
		err := s.retry(ctx, func() error {
			var err error
			exists, err = s.store.Exists(ctx, s.key(p.ID))
			return err
		})
		if err != nil {
			return err
		}
		if !exists {
			n, err := s.count(ctx)
			if err != nil {
				return err
			}
			if n >= s.opts.Capacity {
				return apperrors.ErrDataFull
			}
		}
	}

	return s.retry(ctx, func() error {
		return s.store.Put(ctx, s.key(p.ID), bytes.NewReader(data), map[string]string{
			"driver":    p.Driver,
			"device_id": p.DeviceID,
		})
	})
}

// Load returns the print stored under id.
func (s *PrintStore) Load(ctx context.Context, id string) (*core.Print, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		rc, err := s.store.Get(ctx, s.key(id))
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrDataNotFound
		}
		return nil, err
	}
	return core.UnmarshalPrint(data)
}

// Delete removes the print stored under id.
func (s *PrintStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.retry(ctx, func() error {
		var err error
		exists, err = s.store.Exists(ctx, s.key(id))
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrDataNotFound
	}
	return s.retry(ctx, func() error { return s.store.Delete(ctx, s.key(id)) })
}

// List loads every stored print in key order.
func (s *PrintStore) List(ctx context.Context) ([]*core.Print, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	prints := make([]*core.Print, 0, len(keys))
	for _, k := range keys {
		p, err := s.Load(ctx, strings.TrimSuffix(k.Path, printSuffix))
		if err != nil {
			if errors.Is(err, apperrors.ErrDataNotFound) {
				continue // deleted concurrently
			}
			return nil, err
		}
		prints = append(prints, p)
	}
	return prints, nil
}

// Count returns the number of stored prints.
func (s *PrintStore) Count(ctx context.Context) (int, error) {
	return s.count(ctx)
}

func (s *PrintStore) count(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	return len(keys), err
}

func (s *PrintStore) keys(ctx context.Context) ([]core.StorageKey, error) {
	var all []core.StorageKey
	err := s.retry(ctx, func() error {
		var err error
		all, err = s.store.List(ctx, s.bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	keys := all[:0:0]
	for _, k := range all {
		if strings.HasSuffix(k.Path, printSuffix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// retry runs fn until it succeeds, fails permanently or the retry budget
// is spent. The delay grows linearly with each attempt.
func (s *PrintStore) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !apperrors.IsRetryable(err) || attempt >= s.opts.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return apperrors.Cancelled("print_store", ctx.Err())
		case <-time.After(s.opts.RetryDelay * time.Duration(attempt+1)):
		}
	}
}
