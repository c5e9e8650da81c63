package config

import (
	"errors"
	"time"
)

// StorageBackend selects the storage adapter used for onboard print
// storage emulation.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageLocal  StorageBackend = "local"
	StorageS3     StorageBackend = "s3"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Extraction worker pool.
	WorkerCount int           // default: runtime.NumCPU()
	QueueSize   int           // max queued extractions before backpressure; default: 256
	JobTimeout  time.Duration // 0 = no timeout

	// Retry of transient storage failures.
	MaxRetries int
	RetryDelay time.Duration

	// Image export.
	DefaultQuality int // 1-100; default 90
	DefaultFormat  string

	// Streaming / memory limits for scan decoding.
	MaxImageBytes int64 // 0 = no limit
	ChunkSize     int   // default 32 KiB

	// Storage.
	Storage StorageBackend
	Local   LocalConfig
	S3      S3Config

	Device DeviceConfig

	// Logging.
	LogLevel  string // "debug", "info", "warn", "error"
	LogFormat string // "text" or "json"
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	Permissions uint32 // default 0644
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// DeviceConfig holds defaults for image based devices.
type DeviceConfig struct {
	EnrollStages    int     // captures per enrollment; default 5
	MatchThreshold  int     // minimum matcher score; default 40
	MinMinutiae     int     // scans with fewer points are retried; default 10
	DefaultPPMM     float64 // resolution when a driver reports none; 500 dpi
	MaxStoredPrints int     // onboard capacity for storage devices; 0 = unlimited
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:    0, // resolved at runtime to NumCPU
		QueueSize:      256,
		MaxRetries:     3,
		RetryDelay:     200 * time.Millisecond,
		DefaultQuality: 90,
		DefaultFormat:  "png",
		ChunkSize:      32 * 1024,
		Storage:        StorageMemory,
		Device: DeviceConfig{
			EnrollStages:   5,
			MatchThreshold: 40,
			MinMinutiae:    10,
			DefaultPPMM:    19.685,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Device.EnrollStages < 1 {
		return errors.New("config: Device.EnrollStages must be at least 1")
	}
	if c.Device.MatchThreshold < 0 {
		return errors.New("config: Device.MatchThreshold must not be negative")
	}
	if c.Device.DefaultPPMM <= 0 {
		return errors.New("config: Device.DefaultPPMM must be positive")
	}
	switch c.Storage {
	case StorageMemory, "":
	case StorageLocal:
		if c.Local.RootDir == "" {
			return errors.New("config: Local.RootDir is required for local storage")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3.Bucket is required for s3 storage")
		}
	default:
		return errors.New("config: unknown Storage backend")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return errors.New("config: LogFormat must be text or json")
	}
	return nil
}
