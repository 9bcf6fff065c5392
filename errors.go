package govqmt

import (
	"errors"
	"fmt"
)

// Errors returned by the binding itself. Engine-reported outcomes are never
// errors; they are surfaced as an ExitStatus.
var (
	// ErrInvalidState is returned when an operation is called before the
	// lifecycle milestone it depends on has been observed. It indicates a
	// programming error in the caller and is never worth retrying.
	ErrInvalidState = errors.New("govqmt: invalid job state")

	// ErrInvalidJob is returned by operations on a Job whose native creation
	// failed. Use InitError to read the engine's message.
	ErrInvalidJob = errors.New("govqmt: job failed to initialize")

	// ErrClosed is returned by operations on a Job after Close.
	ErrClosed = errors.New("govqmt: job is closed")

	// ErrAlreadyStarted is returned when Start or StartInBackground is called
	// a second time on the same Job.
	ErrAlreadyStarted = errors.New("govqmt: job already started")

	// ErrMilestoneNotReached is returned by a milestone wait when the job
	// finished without ever emitting that milestone, e.g. on early failure.
	ErrMilestoneNotReached = errors.New("govqmt: job finished before milestone")

	ErrNotFound            = errors.New("govqmt: engine library not found")
	ErrVersionMismatch     = errors.New("govqmt: engine version mismatch")
	ErrUnsupportedPlatform = errors.New("govqmt: platform not supported")
	ErrBadConfig           = errors.New("govqmt: bad configuration")
)

// InitError carries the engine's last-error message for a job whose native
// creation returned an invalid handle.
type InitError struct {
	Handle  int
	Message string
}

func (e *InitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("govqmt: invoke init failed (handle %d)", e.Handle)
	}
	return fmt.Sprintf("govqmt: invoke init failed: %s", e.Message)
}

func (e *InitError) Unwrap() error { return ErrInvalidJob }

// stateError reports which milestone a gated operation needed.
func stateError(op string, need Milestone) error {
	return fmt.Errorf("%w: %s requires %s, try %s first", ErrInvalidState, op,
		need, need.waitHint())
}
