package virtual

import (
	"bytes"
	"context"
	"time"

	"github.com/Skryldev/fprint/adapters/storage"
	"github.com/Skryldev/fprint/core"
	"github.com/Skryldev/fprint/device"
	apperrors "github.com/Skryldev/fprint/errors"
)

// StorageDriverName is reported as the driver id of virtual storage
// readers.
const StorageDriverName = "virtual_device_storage"

const storageEnrollStages = 5

type commandKind int

const (
	cmdScan commandKind = iota
	cmdRetry
	cmdError
)

type command struct {
	kind  commandKind
	id    string
	retry apperrors.RetryCode
	code  apperrors.DeviceErrorCode
}

// Storage is a reader with onboard print storage. Instead of a sensor it
// consumes queued commands: Scan presents the finger identified by id,
// Retry and Error report a scan problem or a fatal failure. Prints are raw
// and carry the scanned id as their data.
type Storage struct {
	store    *storage.PrintStore
	commands chan command
}

var (
	_ device.Driver     = (*Storage)(nil)
	_ device.Identifier = (*Storage)(nil)
	_ device.Storage    = (*Storage)(nil)
)

func NewStorage(store *storage.PrintStore) *Storage {
	return &Storage{store: store, commands: make(chan command, 64)}
}

// Info describes the reader. id may be empty to have one generated.
func (s *Storage) Info(id string) core.DeviceInfo {
	return core.DeviceInfo{
		Driver:       StorageDriverName,
		DeviceID:     id,
		Name:         "Virtual device with storage and identification for debugging",
		Kind:         core.KindVirtual,
		ScanType:     core.ScanPress,
		EnrollStages: storageEnrollStages,
		Features:     core.FeatureIdentify | core.FeatureStorage,
	}
}

// Scan presents the finger identified by id.
func (s *Storage) Scan(id string) { s.commands <- command{kind: cmdScan, id: id} }

// Retry reports a recoverable scan problem.
func (s *Storage) Retry(code apperrors.RetryCode) { s.commands <- command{kind: cmdRetry, retry: code} }

// Error fails the running operation with code.
func (s *Storage) Error(code apperrors.DeviceErrorCode) {
	s.commands <- command{kind: cmdError, code: code}
}

func (s *Storage) next(ctx context.Context) (command, error) {
	select {
	case c := <-s.commands:
		return c, nil
	case <-ctx.Done():
		return command{}, ctx.Err()
	}
}

func (s *Storage) Open(op *device.Operation) {
	_, err := s.store.Count(op.Context())
	op.CompleteOpen(err)
}

func (s *Storage) Close(op *device.Operation) {
	// Commands left over belong to the finished session.
	for {
		select {
		case <-s.commands:
		default:
			op.CompleteClose(nil)
			return
		}
	}
}

func (s *Storage) Enroll(op *device.Operation) {
	tmpl := op.Template()
	if err := tmpl.SetType(core.PrintRaw); err != nil {
		op.Fail(apperrors.ErrDataInvalid)
		return
	}

	var id string
	stages := op.Device().EnrollStages()
	for stage := 0; stage < stages; {
		c, err := s.next(op.Context())
		if err != nil {
			op.Fail(op.CancelError())
			return
		}
		switch c.kind {
		case cmdError:
			op.Fail(apperrors.NewDevice(c.code))
			return
		case cmdRetry:
			op.ReportEnrollProgress(stage, nil, apperrors.NewRetry(c.retry))
			continue
		}
		if id != "" && c.id != id {
			op.ReportEnrollProgress(stage, nil, apperrors.NewRetryMsg(apperrors.RetryGeneral,
				"A different finger was scanned, please try again."))
			continue
		}
		id = c.id
		stage++
		op.ReportEnrollProgress(stage, nil, nil)
	}

	tmpl.Data = []byte(id)
	tmpl.DeviceStored = true
	if tmpl.EnrollDate.IsZero() {
		tmpl.EnrollDate = time.Now()
	}
	if err := s.store.Save(op.Context(), tmpl); err != nil {
		op.Fail(err)
		return
	}
	op.CompleteEnroll(tmpl, nil)
}

func (s *Storage) Verify(op *device.Operation) {
	enrolled := op.EnrolledPrint()
	if enrolled.DeviceStored {
		if _, err := s.store.Load(op.Context(), enrolled.ID); err != nil {
			op.Fail(err)
			return
		}
	}
	captured, err := s.scan(op)
	if err != nil {
		op.Fail(err)
		return
	}
	match := core.MatchFail
	if enrolled.Type == core.PrintRaw && bytes.Equal(enrolled.Data, captured.Data) {
		match = core.MatchSuccess
	}
	op.CompleteVerify(match, captured, nil)
}

func (s *Storage) Identify(op *device.Operation) {
	captured, err := s.scan(op)
	if err != nil {
		op.Fail(err)
		return
	}
	var found *core.Print
	for _, c := range op.Candidates() {
		if c != nil && c.Type == core.PrintRaw && bytes.Equal(c.Data, captured.Data) {
			found = c
			break
		}
	}
	op.CompleteIdentify(found, captured, nil)
}

func (s *Storage) DeletePrint(op *device.Operation) {
	op.CompleteDelete(s.store.Delete(op.Context(), op.EnrolledPrint().ID))
}

func (s *Storage) ListPrints(op *device.Operation) {
	prints, err := s.store.List(op.Context())
	op.CompleteList(prints, err)
}

// scan waits for one command outside of enrollment. A retry cannot be
// recovered from there and is returned as a fatal error.
func (s *Storage) scan(op *device.Operation) (*core.Print, error) {
	c, err := s.next(op.Context())
	if err != nil {
		return nil, op.CancelError()
	}
	switch c.kind {
	case cmdError:
		return nil, apperrors.NewDevice(c.code)
	case cmdRetry:
		return nil, apperrors.NewRetry(c.retry).Fatal()
	}
	p := op.Device().NewPrint()
	_ = p.SetType(core.PrintRaw)
	p.Data = []byte(c.id)
	return p, nil
}
