package core

import (
	"context"
	"time"

	apperrors "github.com/Skryldev/fprint/errors"
)

// Format identifies an image codec used to load or export scans.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// DeviceKind tells virtual readers apart from physical ones.
type DeviceKind int

const (
	KindVirtual DeviceKind = iota
	KindUSB
)

func (k DeviceKind) String() string {
	if k == KindUSB {
		return "usb"
	}
	return "virtual"
}

// ScanType is the finger interaction a sensor expects.
type ScanType int

const (
	ScanSwipe ScanType = iota
	ScanPress
)

func (s ScanType) String() string {
	if s == ScanPress {
		return "press"
	}
	return "swipe"
}

// Features is the set of optional capabilities a device declares.
type Features uint8

const (
	FeatureIdentify Features = 1 << iota
	FeatureCapture
	FeatureStorage
)

func (f Features) Has(x Features) bool { return f&x == x }

// DeviceInfo is the static description of a reader.
type DeviceInfo struct {
	Driver       string
	DeviceID     string
	Name         string
	Kind         DeviceKind
	ScanType     ScanType
	EnrollStages int
	Features     Features
}

// Finger identifies which finger a print belongs to.
type Finger int

const (
	FingerUnknown Finger = iota
	FingerLeftThumb
	FingerLeftIndex
	FingerLeftMiddle
	FingerLeftRing
	FingerLeftLittle
	FingerRightThumb
	FingerRightIndex
	FingerRightMiddle
	FingerRightRing
	FingerRightLittle
)

// MinutiaKind distinguishes ridge endings from bifurcations.
type MinutiaKind uint8

const (
	MinutiaEnding MinutiaKind = iota
	MinutiaBifurcation
)

// Minutia is a single feature point. Values are immutable once produced by
// an extractor.
type Minutia struct {
	X           int         `json:"x"`
	Y           int         `json:"y"`
	Direction   int         `json:"t"` // degrees, 0-359
	Reliability float64     `json:"r"`
	Kind        MinutiaKind `json:"k"`
}

// Coords returns the pixel position of the minutia.
func (m Minutia) Coords() (int, int) { return m.X, m.Y }

// EnrollProgress is emitted once per completed (or retried) enroll stage.
type EnrollProgress struct {
	Stage int
	Print *Print
	Retry *apperrors.Retry
}

// ProgressFunc receives enroll progress on the device's control goroutine.
type ProgressFunc func(p EnrollProgress)

// MatchResult is the three-valued outcome a driver reports for verify and
// identify.
type MatchResult int

const (
	MatchError MatchResult = iota
	MatchFail
	MatchSuccess
)

// ExtractInput is handed to a minutiae Extractor.
type ExtractInput struct {
	Data   []byte
	Width  int
	Height int
	PPMM   float64
}

// ExtractOutput is what an Extractor returns. A non-zero Status is a fatal
// failure for the extraction.
type ExtractOutput struct {
	Status    int
	Binarized []byte
	Minutiae  []Minutia
}

// Job encapsulates a single extraction for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Scan   *Scan
	Target *Image
	// Done is called on the worker goroutine with the terminal outcome.
	Done func(err error)
}

// Step is the fundamental pipeline building block. Each Step transforms a
// *Scan and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, s *Scan) (*Scan, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, s *Scan)
	AfterStep(ctx context.Context, stepName string, s *Scan, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored object.
type StorageKey struct {
	Bucket string
	Path   string
}
