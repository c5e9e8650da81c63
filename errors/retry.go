package errors

// RetryCode enumerates recoverable scan conditions reported during
// enrollment.
type RetryCode int

const (
	RetryGeneral RetryCode = iota
	RetryTooShort
	RetryCenterFinger
	RetryRemoveFinger
)

var retryNames = map[RetryCode]string{
	RetryGeneral:      "GENERAL",
	RetryTooShort:     "TOO_SHORT",
	RetryCenterFinger: "CENTER_FINGER",
	RetryRemoveFinger: "REMOVE_FINGER",
}

var retryMessages = map[RetryCode]string{
	RetryGeneral:      "Please try again.",
	RetryTooShort:     "The swipe was too short, please try again.",
	RetryCenterFinger: "The finger was not centered properly, please try again.",
	RetryRemoveFinger: "Please try again after removing the finger first.",
}

func (c RetryCode) String() string {
	if s, ok := retryNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Message returns the default user facing text for c.
func (c RetryCode) Message() string {
	if s, ok := retryMessages[c]; ok {
		return s
	}
	return retryMessages[RetryGeneral]
}

// Retry is an advisory, non-terminal scan condition. It intentionally does
// not implement error: it is only ever delivered inside an enroll progress
// record and can never end an operation.
type Retry struct {
	Code    RetryCode
	Message string
}

// NewRetry returns a Retry carrying the default message for code.
func NewRetry(code RetryCode) *Retry {
	return &Retry{Code: code, Message: code.Message()}
}

// NewRetryMsg returns a Retry with a driver supplied message.
func NewRetryMsg(code RetryCode, msg string) *Retry {
	if msg == "" {
		msg = code.Message()
	}
	return &Retry{Code: code, Message: msg}
}

func (r *Retry) String() string {
	if r == nil {
		return ""
	}
	return r.Code.String() + ": " + r.Message
}

// Fatal converts r into the GENERAL device error used when a retry
// condition reaches an operation that cannot continue, such as verify.
func (r *Retry) Fatal() *DeviceError {
	return NewDeviceMsg(CodeGeneral, r.Message)
}
