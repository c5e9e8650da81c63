package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/Skryldev/fprint/config"
	"github.com/Skryldev/fprint/core"
	apperrors "github.com/Skryldev/fprint/errors"
)

// Open builds the StorageAdapter selected by cfg.Storage.
func Open(ctx context.Context, cfg config.Config) (core.StorageAdapter, error) {
	switch cfg.Storage {
	case config.StorageMemory, "":
		return NewMemory(), nil
	case config.StorageLocal:
		return NewLocal(cfg.Local.RootDir, os.FileMode(cfg.Local.Permissions))
	case config.StorageS3:
		client, err := NewAWSClient(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewS3(client, cfg.S3.Bucket)
	}
	return nil, apperrors.New(apperrors.CategoryConfig, "storage.open",
		fmt.Errorf("%w: unknown storage backend %q", apperrors.ErrStorageUnavailable, cfg.Storage))
}

// OpenPrintStore opens the configured adapter and wraps it in a PrintStore
// for bucket, using the configured retry budget and capacity.
func OpenPrintStore(ctx context.Context, cfg config.Config, bucket string) (*PrintStore, error) {
	st, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPrintStore(st, bucket, PrintStoreOptions{
		Capacity:   cfg.Device.MaxStoredPrints,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}), nil
}
