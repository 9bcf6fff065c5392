package govqmt

import "fmt"

// ExitStatus summarizes how a finished job ended. It is ordinary result data;
// a Failed or Interrupted job is not a Go error.
type ExitStatus int

// The closed set of statuses the engine reports.
const (
	ExitStatusNotFinished ExitStatus = 50
	ExitStatusAllOK       ExitStatus = 100
	ExitStatusErrors      ExitStatus = 150
	ExitStatusFailed      ExitStatus = 200
	ExitStatusInterrupted ExitStatus = 300
)

// Known reports whether s is one of the five engine statuses.
func (s ExitStatus) Known() bool {
	switch s {
	case ExitStatusNotFinished, ExitStatusAllOK, ExitStatusErrors,
		ExitStatusFailed, ExitStatusInterrupted:
		return true
	}
	return false
}

// IsOK returns true if every frame of every metric was measured.
func (s ExitStatus) IsOK() bool { return s == ExitStatusAllOK }

// IsFailure returns true for statuses at or above ExitStatusErrors.
func (s ExitStatus) IsFailure() bool { return s >= ExitStatusErrors }

func (s ExitStatus) String() string {
	switch s {
	case ExitStatusNotFinished:
		return "not finished"
	case ExitStatusAllOK:
		return "ok"
	case ExitStatusErrors:
		return "completed with errors"
	case ExitStatusFailed:
		return "failed"
	case ExitStatusInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("ExitStatus(%d)", int(s))
}

// normalizeExitStatus maps anything outside the closed set onto Failed so
// that Wait and Start always report a known status.
func normalizeExitStatus(raw int32) (ExitStatus, bool) {
	s := ExitStatus(raw)
	if s.Known() {
		return s, true
	}
	return ExitStatusFailed, false
}
