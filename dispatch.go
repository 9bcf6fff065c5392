package govqmt

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// jobCallbacks is everything the engine may call back into for one job. It
// stays in the registry from before the native create call until detach, so
// the Go closures it holds are never collected while the engine can still
// reach them.
type jobCallbacks struct {
	key   uintptr
	lc    *lifecycle
	log   logrus.FieldLogger
	event EventFunc
	value ValueFunc
	input atomic.Pointer[InputFunc]

	events atomic.Int64
	values atomic.Int64
}

var registry = struct {
	sync.RWMutex
	next uintptr
	jobs map[uintptr]*jobCallbacks
}{jobs: make(map[uintptr]*jobCallbacks)}

// register pins cb and assigns its context key. Keys start at 1 so that a
// nil context pointer never resolves to a job.
func register(cb *jobCallbacks) uintptr {
	registry.Lock()
	defer registry.Unlock()
	registry.next++
	cb.key = registry.next
	registry.jobs[cb.key] = cb
	return cb.key
}

func unregister(key uintptr) {
	registry.Lock()
	delete(registry.jobs, key)
	registry.Unlock()
}

func lookup(key uintptr) *jobCallbacks {
	registry.RLock()
	defer registry.RUnlock()
	return registry.jobs[key]
}

// dispatchEvent is the event trampoline body. Latches are updated before the
// caller's observer runs, so an observer may already call gated operations.
func dispatchEvent(key uintptr, text string) {
	cb := lookup(key)
	if cb == nil {
		return
	}
	cb.events.Add(1)

	ev, err := parseEvent(text)
	if err != nil {
		cb.log.WithError(err).Warn("dropping engine event")
		return
	}
	if m, ok := ev.Type.milestone(); ok && cb.lc.mark(m) {
		cb.log.WithField("milestone", m).Debug("milestone reached")
	} else {
		cb.log.WithField("event", ev.Type).Debug("engine event")
	}

	if cb.event != nil {
		cb.callObserver(func() { cb.event(ev) })
	}
}

// dispatchValue is the value trampoline body.
func dispatchValue(key uintptr, handle, frame, column int32, value float64) {
	cb := lookup(key)
	if cb == nil || cb.value == nil {
		return
	}
	cb.values.Add(1)
	cb.callObserver(func() {
		cb.value(int(handle), int(frame), int(column), value)
	})
}

// dispatchInput is the input trampoline body. A missing callback or a panic
// inside it is reported to the engine as an input error.
func dispatchInput(key uintptr, handle int32, file string, frame int32,
	data uintptr, mask int32) (code int32) {
	cb := lookup(key)
	if cb == nil {
		return int32(InputError)
	}
	fn := cb.input.Load()
	if fn == nil {
		return int32(InputError)
	}

	defer func() {
		if r := recover(); r != nil {
			cb.log.WithFields(logrus.Fields{
				"file": file, "frame": frame, "panic": r,
			}).Errorf("input callback panicked\n%s", debug.Stack())
			code = int32(InputError)
		}
	}()

	res := (*fn)(InputRequest{
		Handle: int(handle),
		File:   file,
		Frame:  int(frame),
		Data:   data,
		Mask:   ChannelMask(mask),
	})
	return res.code()
}

// callObserver runs caller code on an engine thread. A panic must not unwind
// into the engine.
func (cb *jobCallbacks) callObserver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cb.log.WithField("panic", r).Errorf("observer panicked\n%s",
				debug.Stack())
		}
	}()
	fn()
}
