package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/fprint/adapters/storage"
	"github.com/Skryldev/fprint/config"
	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// fakeS3 is an in-memory S3Client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, bucket, key string, body io.Reader, _ map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[bucket+"|"+key] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"|"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeS3) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	delete(f.objects, bucket+"|"+key)
	f.mu.Unlock()
	return nil
}

func (f *fakeS3) HeadObject(_ context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"|"+key]
	return ok, nil
}

func (f *fakeS3) ListObjects(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		b, key, _ := strings.Cut(k, "|")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func adapters(t *testing.T) map[string]core.StorageAdapter {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	s3, err := storage.NewS3(newFakeS3(), "prints")
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	return map[string]core.StorageAdapter{
		"memory": storage.NewMemory(),
		"local":  local,
		"s3":     s3,
	}
}

func TestAdapters(t *testing.T) {
	ctx := context.Background()
	for name, st := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			a := core.StorageKey{Bucket: "dev-1", Path: "a.json"}
			b := core.StorageKey{Bucket: "dev-1", Path: "b.json"}
			other := core.StorageKey{Bucket: "dev-2", Path: "c.json"}

			for _, k := range []core.StorageKey{b, a, other} {
				if err := st.Put(ctx, k, strings.NewReader(k.Path), map[string]string{"k": "v"}); err != nil {
					t.Fatalf("Put %v: %v", k, err)
				}
			}

			rc, err := st.Get(ctx, a)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			got, _ := io.ReadAll(rc)
			rc.Close()
			if string(got) != "a.json" {
				t.Errorf("Get: got %q", got)
			}

			keys, err := st.List(ctx, "dev-1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(keys) != 2 || keys[0] != a || keys[1] != b {
				t.Errorf("List: got %v", keys)
			}

			if err := st.Delete(ctx, a); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if ok, err := st.Exists(ctx, a); err != nil || ok {
				t.Errorf("Exists after delete: ok=%v err=%v", ok, err)
			}
			if _, err := st.Get(ctx, a); !errors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("Get missing: got %v", err)
			}
			if keys, _ := st.List(ctx, "empty"); len(keys) != 0 {
				t.Errorf("List empty bucket: got %v", keys)
			}
		})
	}
}

// flaky fails the first n calls of every method with a transient error.
type flaky struct {
	core.StorageAdapter
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flaky) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return apperrors.Transient(op, apperrors.ErrStorageUnavailable)
	}
	return nil
}

func (f *flaky) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := f.fail("put"); err != nil {
		return err
	}
	return f.StorageAdapter.Put(ctx, key, r, meta)
}

func TestPrintStore(t *testing.T) {
	ctx := context.Background()
	ps := storage.NewPrintStore(storage.NewMemory(), "dev-1", storage.PrintStoreOptions{Capacity: 2})
	info := core.DeviceInfo{Driver: "virtual_device_storage", DeviceID: "dev-1"}

	first, second, third := core.NewPrint(info), core.NewPrint(info), core.NewPrint(info)
	first.Type, first.Data = core.PrintRaw, []byte("one")
	second.Type, second.Data = core.PrintRaw, []byte("two")
	third.Type, third.Data = core.PrintRaw, []byte("three")

	for _, p := range []*core.Print{first, second} {
		if err := ps.Save(ctx, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := ps.Save(ctx, third); !errors.Is(err, apperrors.ErrDataFull) {
		t.Fatalf("Save beyond capacity: got %v, want DATA_FULL", err)
	}
	if err := ps.Save(ctx, first); err != nil {
		t.Fatalf("overwriting at capacity should succeed: %v", err)
	}

	got, err := ps.Load(ctx, second.ID)
	if err != nil || !got.Equal(second) {
		t.Fatalf("Load: %v %v", got, err)
	}
	if _, err := ps.Load(ctx, third.ID); !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("Load missing: got %v", err)
	}

	list, err := ps.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("List: %d prints, err %v", len(list), err)
	}

	if err := ps.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ps.Delete(ctx, first.ID); !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Fatalf("Delete twice: got %v", err)
	}
	if n, _ := ps.Count(ctx); n != 1 {
		t.Fatalf("Count: got %d", n)
	}
}

func TestPrintStoreRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	p := core.NewPrint(core.DeviceInfo{Driver: "d", DeviceID: "x"})
	p.Type, p.Data = core.PrintRaw, []byte("raw")

	tests := []struct {
		name    string
		fails   int
		retries int
		wantErr bool
	}{
		{"recovers", 2, 3, false},
		{"budget exhausted", 4, 3, true},
		{"no retries", 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl := &flaky{StorageAdapter: storage.NewMemory(), fails: tt.fails}
			ps := storage.NewPrintStore(fl, "x", storage.PrintStoreOptions{
				MaxRetries: tt.retries,
				RetryDelay: time.Millisecond,
			})
			err := ps.Save(ctx, p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Save: err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsRetryable(err) {
				t.Errorf("exhausted retries should surface the transient error, got %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	st, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := st.(*storage.Memory); !ok {
		t.Errorf("default backend: got %T", st)
	}

	cfg.Storage = config.StorageLocal
	cfg.Local.RootDir = t.TempDir()
	if st, err = storage.Open(context.Background(), cfg); err != nil {
		t.Fatalf("Open local: %v", err)
	}
	if _, ok := st.(*storage.Local); !ok {
		t.Errorf("local backend: got %T", st)
	}

	cfg.Storage = "ftp"
	if _, err := storage.Open(context.Background(), cfg); !errors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("unknown backend: got %v", err)
	}
}
