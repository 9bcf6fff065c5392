package govqmt

import (
	"context"
	"sync"
)

// Milestone is a one-shot lifecycle signal of a job. Once reached it is never
// unset.
type Milestone int

const (
	MilestonePrepareStart Milestone = iota
	MilestonePrepareComplete
	MilestoneMeasureComplete
	MilestoneTotalComplete

	numMilestones
)

func (m Milestone) String() string {
	switch m {
	case MilestonePrepareStart:
		return "PrepareStart"
	case MilestonePrepareComplete:
		return "PrepareComplete"
	case MilestoneMeasureComplete:
		return "MeasureComplete"
	case MilestoneTotalComplete:
		return "TotalComplete"
	}
	return "Milestone(?)"
}

func (m Milestone) waitHint() string {
	switch m {
	case MilestonePrepareStart:
		return "WaitPrepareStart"
	case MilestonePrepareComplete:
		return "WaitPrepareComplete"
	case MilestoneMeasureComplete:
		return "WaitMeasureComplete or Wait"
	}
	return "Wait"
}

// State is the most advanced lifecycle position a job has reached.
type State int

const (
	StateCreated State = iota
	StatePreparingStarted
	StatePrepareComplete
	StateMeasureComplete
	StateTotalComplete
	StateFailedAtInit
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StatePreparingStarted:
		return "PreparingStarted"
	case StatePrepareComplete:
		return "PrepareComplete"
	case StateMeasureComplete:
		return "MeasureComplete"
	case StateTotalComplete:
		return "TotalComplete"
	case StateFailedAtInit:
		return "FailedAtInit"
	}
	return "State(?)"
}

// lifecycle holds the milestone latches of one job. Each milestone owns a
// channel that is closed exactly once when it is reached, so a waiter that
// arrives after the fact returns immediately and one that arrives before is
// woken by the close.
type lifecycle struct {
	mu      sync.Mutex
	reached [numMilestones]bool
	done    [numMilestones]chan struct{}
	failed  bool
}

func newLifecycle() *lifecycle {
	var l lifecycle
	for i := range l.done {
		l.done[i] = make(chan struct{})
	}
	return &l
}

// mark sets m and reports whether this call was the one that set it.
func (l *lifecycle) mark(m Milestone) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reached[m] {
		return false
	}
	l.reached[m] = true
	close(l.done[m])
	return true
}

func (l *lifecycle) markFailedAtInit() {
	l.mu.Lock()
	l.failed = true
	l.mu.Unlock()
}

func (l *lifecycle) isSet(m Milestone) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reached[m]
}

// state derives the tagged state from the latches. TotalComplete wins even
// when the intermediate milestones never fired.
func (l *lifecycle) state() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.failed:
		return StateFailedAtInit
	case l.reached[MilestoneTotalComplete]:
		return StateTotalComplete
	case l.reached[MilestoneMeasureComplete]:
		return StateMeasureComplete
	case l.reached[MilestonePrepareComplete]:
		return StatePrepareComplete
	case l.reached[MilestonePrepareStart]:
		return StatePreparingStarted
	}
	return StateCreated
}

// wait blocks until m is reached. A milestone other than TotalComplete also
// unblocks when the job finishes without it, returning
// ErrMilestoneNotReached.
func (l *lifecycle) wait(ctx context.Context, m Milestone) error {
	total := l.done[MilestoneTotalComplete]
	select {
	case <-l.done[m]:
		return nil
	case <-total:
		if l.isSet(m) {
			return nil
		}
		return ErrMilestoneNotReached
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lifecycle) channel(m Milestone) <-chan struct{} { return l.done[m] }
