// Package device implements the per-reader session state machine and the
// capability contract drivers fulfil.
package device

// Driver is the mandatory capability set. Every method receives the
// in-flight Operation and must eventually report exactly one terminal
// outcome through it. Methods run on their own goroutine and may block.
type Driver interface {
	Open(op *Operation)
	Close(op *Operation)
	Enroll(op *Operation)
	Verify(op *Operation)
}

// Identifier is implemented by drivers declaring core.FeatureIdentify.
type Identifier interface {
	Identify(op *Operation)
}

// Capturer is implemented by drivers declaring core.FeatureCapture.
type Capturer interface {
	Capture(op *Operation)
}

// Storage is implemented by drivers declaring core.FeatureStorage.
type Storage interface {
	DeletePrint(op *Operation)
	ListPrints(op *Operation)
}

// Canceler is notified when the context of the in-flight operation is
// cancelled. Drivers that only poll op.Context() need not implement it.
type Canceler interface {
	Cancel(op *Operation)
}
