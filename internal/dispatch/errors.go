package dispatch

import "errors"

var (
	// ErrInvalidTransition means the requested operation is not legal from
	// the order's current status. State is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPreconditionFailed means the transition is state-legal but a
	// required prior event is missing.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrSyncConflict means local and remote event logs diverge in a way
	// union-and-sort cannot resolve.
	ErrSyncConflict = errors.New("sync conflict")
)
