package errors

import "errors"

// DeviceErrorCode enumerates the fatal outcomes of a device operation.
type DeviceErrorCode int

const (
	CodeGeneral DeviceErrorCode = iota
	CodeNotSupported
	CodeNotOpen
	CodeAlreadyOpen
	CodeBusy
	CodeProto
	CodeDataInvalid
	CodeDataNotFound
	CodeDataFull
)

var deviceCodeNames = map[DeviceErrorCode]string{
	CodeGeneral:      "GENERAL",
	CodeNotSupported: "NOT_SUPPORTED",
	CodeNotOpen:      "NOT_OPEN",
	CodeAlreadyOpen:  "ALREADY_OPEN",
	CodeBusy:         "BUSY",
	CodeProto:        "PROTO",
	CodeDataInvalid:  "DATA_INVALID",
	CodeDataNotFound: "DATA_NOT_FOUND",
	CodeDataFull:     "DATA_FULL",
}

var deviceCodeMessages = map[DeviceErrorCode]string{
	CodeGeneral:      "An unspecified error occured!",
	CodeNotSupported: "The operation is not supported on this device!",
	CodeNotOpen:      "The device needs to be opened first!",
	CodeAlreadyOpen:  "The device has already been opened!",
	CodeBusy:         "The device is still busy with another operation, please try again later.",
	CodeProto:        "The driver encountered a protocol error with the device.",
	CodeDataInvalid:  "Passed (print) data is not valid.",
	CodeDataNotFound: "Print was not found on the devices storage.",
	CodeDataFull:     "On device storage space is full.",
}

func (c DeviceErrorCode) String() string {
	if s, ok := deviceCodeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Message returns the default human readable text for c.
func (c DeviceErrorCode) Message() string {
	if s, ok := deviceCodeMessages[c]; ok {
		return s
	}
	return deviceCodeMessages[CodeGeneral]
}

// DeviceError is a fatal device operation failure. Two DeviceErrors match
// under errors.Is when their codes are equal, so callers can test against
// the sentinels regardless of the message.
//
// Fields are unexported so the shared sentinels below stay immutable.
type DeviceError struct {
	code DeviceErrorCode
	msg  string
}

func (e *DeviceError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return e.code.Message()
}

// Code returns the error code.
func (e *DeviceError) Code() DeviceErrorCode { return e.code }

func (e *DeviceError) Is(target error) bool {
	var de *DeviceError
	if errors.As(target, &de) {
		return de.code == e.code
	}
	return false
}

// NewDevice returns a DeviceError carrying the default message for code.
func NewDevice(code DeviceErrorCode) *DeviceError {
	return &DeviceError{code: code, msg: code.Message()}
}

// NewDeviceMsg returns a DeviceError with a driver supplied message.
func NewDeviceMsg(code DeviceErrorCode, msg string) *DeviceError {
	if msg == "" {
		msg = code.Message()
	}
	return &DeviceError{code: code, msg: msg}
}

// DeviceCode extracts the device error code from err, if any.
func DeviceCode(err error) (DeviceErrorCode, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.code, true
	}
	return 0, false
}

var (
	ErrGeneral      = NewDevice(CodeGeneral)
	ErrNotSupported = NewDevice(CodeNotSupported)
	ErrNotOpen      = NewDevice(CodeNotOpen)
	ErrAlreadyOpen  = NewDevice(CodeAlreadyOpen)
	ErrBusy         = NewDevice(CodeBusy)
	ErrProto        = NewDevice(CodeProto)
	ErrDataInvalid  = NewDevice(CodeDataInvalid)
	ErrDataNotFound = NewDevice(CodeDataNotFound)
	ErrDataFull     = NewDevice(CodeDataFull)
)
