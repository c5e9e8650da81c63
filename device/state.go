package device

// State is the lifecycle state of a Device.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateIdle
	StateBusy
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Open reports whether the device accepts scan operations.
func (s State) Open() bool { return s == StateIdle || s == StateBusy }

// Action identifies the operation an Operation performs.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
	ActionEnroll
	ActionVerify
	ActionIdentify
	ActionCapture
	ActionDelete
	ActionList
)

var actionNames = [...]string{
	ActionNone:     "none",
	ActionOpen:     "open",
	ActionClose:    "close",
	ActionEnroll:   "enroll",
	ActionVerify:   "verify",
	ActionIdentify: "identify",
	ActionCapture:  "capture",
	ActionDelete:   "delete_print",
	ActionList:     "list_prints",
}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}
