package govqmt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InvokeOption configures the callbacks of a new job.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	event EventFunc
	value ValueFunc
}

// WithEventObserver forwards every engine event to fn after the job's own
// latches have been updated.
func WithEventObserver(fn EventFunc) InvokeOption {
	return func(o *invokeOptions) { o.event = fn }
}

// WithValueObserver delivers each computed (frame, column) value to fn as
// soon as the engine produces it.
func WithValueObserver(fn ValueFunc) InvokeOption {
	return func(o *invokeOptions) { o.value = fn }
}

// Job is one configured measurement. Its lifecycle advances only through
// engine events and through the return of Start.
//
// A Job must be closed to release the engine's resources. If it is dropped
// unclosed the release happens when the Job is garbage collected.
type Job struct {
	engine  *Engine
	core    *jobCore
	cleanup runtime.Cleanup
}

// jobCore is the part of a job the release path needs. It holds no
// reference to the Job so that an unreachable Job can be collected.
type jobCore struct {
	id      uuid.UUID
	handle  int32
	lib     nativeLibrary
	live    *atomic.Int64
	cb      *jobCallbacks
	log     logrus.FieldLogger
	initErr *InitError

	started   atomic.Bool
	exit      atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
}

// Invoke creates a job from cfg. The returned error covers only failures to
// serialize cfg; if the engine rejects the configuration the job is returned
// with Valid() == false and InitError describing why.
func (e *Engine) Invoke(cfg ConfigSource, opts ...InvokeOption) (*Job, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", ErrBadConfig)
	}
	doc, err := cfg.Document()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}

	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	log := e.log.WithField("job", id.String())
	cb := &jobCallbacks{
		lc:    newLifecycle(),
		log:   log,
		event: o.event,
		value: o.value,
	}
	key := register(cb)

	handle := e.lib.createInvoke(string(data), key, o.value != nil)
	core := &jobCore{
		id:     id,
		handle: handle,
		lib:    e.lib,
		live:   &e.live,
		cb:     cb,
		log:    log.WithField("handle", handle),
	}

	if handle < 0 {
		core.initErr = &InitError{Handle: int(handle), Message: e.lib.lastError()}
		cb.lc.markFailedAtInit()
		unregister(key)
		core.log.WithError(core.initErr).Warn("invoke init failed")
	} else {
		e.live.Add(1)
		core.log.WithField("config_bytes", len(data)).Debug("invoke created")
	}

	job := &Job{engine: e, core: core}
	job.cleanup = runtime.AddCleanup(job, func(c *jobCore) { c.release() }, core)
	return job, nil
}

// release detaches the native invoke exactly once.
func (c *jobCore) release() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.handle < 0 {
			return
		}
		c.lib.detachInvoke(c.handle)
		unregister(c.cb.key)
		c.live.Add(-1)
		c.log.Debug("invoke detached")
	})
}

// Close detaches the job from the engine. It is safe to call more than once.
// Results are no longer available afterwards. A job that has been started
// cannot be closed until TotalComplete.
func (j *Job) Close() error {
	if j.core.closed.Load() {
		return nil
	}
	// Claiming the start slot keeps a concurrent Start from racing the
	// detach.
	if !j.core.started.CompareAndSwap(false, true) &&
		!j.core.cb.lc.isSet(MilestoneTotalComplete) && !j.core.closed.Load() {
		return fmt.Errorf("%w: close while running, wait for TotalComplete",
			ErrInvalidState)
	}
	j.cleanup.Stop()
	j.core.release()
	return nil
}

// Valid reports whether the engine accepted the configuration.
func (j *Job) Valid() bool { return j.core.handle >= 0 }

// Handle returns the engine's identifier for the job. It is negative when
// creation failed.
func (j *Job) Handle() int { return int(j.core.handle) }

// ID returns the correlation id used in log entries for this job.
func (j *Job) ID() string { return j.core.id.String() }

// InitError returns the engine's explanation of a failed creation, or nil.
func (j *Job) InitError() error {
	if j.core.initErr == nil {
		return nil
	}
	return j.core.initErr
}

// State returns the job's most advanced lifecycle state.
func (j *Job) State() State { return j.core.cb.lc.state() }

// Reached reports whether milestone m has fired.
func (j *Job) Reached(m Milestone) bool { return j.core.cb.lc.isSet(m) }

func (j *Job) usable() error {
	if j.core.initErr != nil {
		return j.core.initErr
	}
	if j.core.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (j *Job) gate(op string, need Milestone) error {
	if err := j.usable(); err != nil {
		return err
	}
	if !j.core.cb.lc.isSet(need) {
		return stateError(op, need)
	}
	return nil
}

// Start runs the measurement on the calling goroutine and blocks until the
// engine is done. TotalComplete is set when it returns, whether or not the
// intermediate milestones were observed.
func (j *Job) Start() (ExitStatus, error) {
	if err := j.claimStart(); err != nil {
		return ExitStatusFailed, err
	}
	return j.run(), nil
}

// StartContext is Start with cooperative cancellation: once ctx is done the
// engine is asked to cancel as soon as PrepareComplete has been observed.
// The call still returns only when the engine has stopped.
func (j *Job) StartContext(ctx context.Context) (ExitStatus, error) {
	if err := j.claimStart(); err != nil {
		return ExitStatusFailed, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go j.cancelOnDone(ctx, stop)

	return j.run(), nil
}

// StartInBackground runs Start on a new goroutine. Use the Wait methods to
// synchronize with it.
func (j *Job) StartInBackground() error {
	if err := j.claimStart(); err != nil {
		return err
	}
	go j.run()
	return nil
}

func (j *Job) claimStart() error {
	if err := j.usable(); err != nil {
		return err
	}
	if !j.core.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return nil
}

func (j *Job) run() ExitStatus {
	j.core.log.Debug("measurement started")
	status, _ := j.engine.run(j.core)
	j.core.exit.Store(int32(status))
	j.core.cb.lc.mark(MilestoneTotalComplete)
	j.core.log.WithFields(logrus.Fields{
		"status": status,
		"events": j.core.cb.events.Load(),
		"values": j.core.cb.values.Load(),
	}).Debug("measurement finished")
	return status
}

func (j *Job) cancelOnDone(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-stop:
		return
	}

	lc := j.core.cb.lc
	select {
	case <-lc.channel(MilestonePrepareComplete):
		j.core.log.WithError(ctx.Err()).Info("context done, cancelling")
		j.core.lib.cancelInvoke(j.core.handle)
	case <-lc.channel(MilestoneTotalComplete):
	}
}

// WaitPrepareStart blocks until the engine starts preparing.
func (j *Job) WaitPrepareStart(ctx context.Context) error {
	return j.waitFor(ctx, MilestonePrepareStart)
}

// WaitPrepareComplete blocks until columns and file information are
// available.
func (j *Job) WaitPrepareComplete(ctx context.Context) error {
	return j.waitFor(ctx, MilestonePrepareComplete)
}

// WaitMeasureComplete blocks until values and accumulators are available.
func (j *Job) WaitMeasureComplete(ctx context.Context) error {
	return j.waitFor(ctx, MilestoneMeasureComplete)
}

// Wait blocks until the job has finished and returns its exit status.
func (j *Job) Wait(ctx context.Context) (ExitStatus, error) {
	if err := j.waitFor(ctx, MilestoneTotalComplete); err != nil {
		return ExitStatusFailed, err
	}
	return ExitStatus(j.core.exit.Load()), nil
}

func (j *Job) waitFor(ctx context.Context, m Milestone) error {
	if j.core.initErr != nil {
		return j.core.initErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return j.core.cb.lc.wait(ctx, m)
}

// ExitStatus asks the engine for the job's current status. The second value
// is false when the engine has none to report.
func (j *Job) ExitStatus() (ExitStatus, bool) {
	if j.usable() != nil {
		return 0, false
	}
	raw := j.core.lib.exitStatus(j.core.handle)
	if raw < 0 {
		return 0, false
	}
	status, _ := normalizeExitStatus(raw)
	return status, true
}

// Failed reports whether the engine considers the job failed.
func (j *Job) Failed() bool {
	status, ok := j.ExitStatus()
	return ok && status == ExitStatusFailed
}

// Cancel asks the engine to stop early. It is advisory; Wait still has to
// return before results and resources can be reclaimed.
func (j *Job) Cancel() error {
	if err := j.gate("Cancel", MilestonePrepareComplete); err != nil {
		return err
	}
	j.core.lib.cancelInvoke(j.core.handle)
	return nil
}

// Pause suspends measurement.
func (j *Job) Pause() error {
	if err := j.gate("Pause", MilestonePrepareComplete); err != nil {
		return err
	}
	j.core.lib.pauseInvoke(j.core.handle)
	return nil
}

// Resume continues a paused measurement.
func (j *Job) Resume() error {
	if err := j.gate("Resume", MilestonePrepareComplete); err != nil {
		return err
	}
	j.core.lib.resumeInvoke(j.core.handle)
	return nil
}

// Columns describes the columns of the values table, in order.
func (j *Job) Columns() ([]Document, error) {
	if err := j.gate("Columns", MilestonePrepareComplete); err != nil {
		return nil, err
	}
	return parseDocumentList("columns", j.core.lib.columnsJSON(j.core.handle))
}

// Files describes the input files as the engine opened them.
func (j *Job) Files() (Document, error) {
	if err := j.gate("Files", MilestonePrepareComplete); err != nil {
		return Document{}, err
	}
	return parseDocument("files", j.core.lib.filesJSON(j.core.handle))
}

// ValuesArray returns the values table, one row per frame. It returns nil
// without an error when the engine has no table to give.
func (j *Job) ValuesArray() (*ValueMatrix, error) {
	if err := j.gate("ValuesArray", MilestoneMeasureComplete); err != nil {
		return nil, err
	}
	h := j.core.handle
	rows := j.core.lib.rowCount(h)
	if rows < 0 {
		return nil, nil
	}

	columns, err := parseDocumentList("columns", j.core.lib.columnsJSON(h))
	if err != nil {
		return nil, err
	}
	m := newValueMatrix(int(rows), len(columns))
	if !j.core.lib.valuesArray(h, m.Data) {
		return nil, nil
	}
	return m, nil
}

// FrameNumbers returns the source frame number of each values table row, or
// nil when the engine has none.
func (j *Job) FrameNumbers() ([]int32, error) {
	if err := j.gate("FrameNumbers", MilestoneMeasureComplete); err != nil {
		return nil, err
	}
	h := j.core.handle
	rows := j.core.lib.rowCount(h)
	if rows < 0 {
		return nil, nil
	}
	frames := make([]int32, rows)
	if !j.core.lib.framesArray(h, frames) {
		return nil, nil
	}
	return frames, nil
}

// ValuesList returns the values table as the engine's JSON document.
func (j *Job) ValuesList() (Document, error) {
	if err := j.gate("ValuesList", MilestoneMeasureComplete); err != nil {
		return Document{}, err
	}
	return parseDocument("values", j.core.lib.valuesJSON(j.core.handle))
}

// Accumulators returns the per-metric summary statistics.
func (j *Job) Accumulators() (Document, error) {
	if err := j.gate("Accumulators", MilestoneMeasureComplete); err != nil {
		return Document{}, err
	}
	return parseDocument("accumulators",
		j.core.lib.accumulatorsJSON(j.core.handle))
}

// GeneralizedInfo returns the engine's report on the whole run.
func (j *Job) GeneralizedInfo() (Document, error) {
	if err := j.gate("GeneralizedInfo", MilestoneTotalComplete); err != nil {
		return Document{}, err
	}
	return parseDocument("generalized info",
		j.core.lib.generalizedInfoJSON(j.core.handle))
}

// SetInputCallback registers fn as the pixel supplier for files opened in
// callback mode. Registering again replaces the previous function.
func (j *Job) SetInputCallback(fn InputFunc) error {
	if err := j.usable(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: nil input callback", ErrBadConfig)
	}
	j.core.cb.input.Store(&fn)
	if !j.core.lib.setInputCallback(j.core.handle, j.core.cb.key) {
		return fmt.Errorf("govqmt: engine rejected input callback: %s",
			j.core.lib.lastError())
	}
	return nil
}

// ValueMatrix is the dense values table: Rows frames by Cols columns,
// row-major. Cells the engine did not fill are NaN.
type ValueMatrix struct {
	Rows, Cols int
	Data       []float32
}

func newValueMatrix(rows, cols int) *ValueMatrix {
	data := make([]float32, rows*cols)
	nan := float32(math.NaN())
	for i := range data {
		data[i] = nan
	}
	return &ValueMatrix{Rows: rows, Cols: cols, Data: data}
}

// At returns the value of column c in row r.
func (m *ValueMatrix) At(r, c int) float32 { return m.Data[r*m.Cols+c] }

// Defined reports whether the engine filled the cell.
func (m *ValueMatrix) Defined(r, c int) bool {
	return !math.IsNaN(float64(m.At(r, c)))
}

// Row returns row r. The slice aliases the matrix.
func (m *ValueMatrix) Row(r int) []float32 {
	return m.Data[r*m.Cols : (r+1)*m.Cols]
}

// Column returns a copy of column c as float64, skipping undefined cells.
func (m *ValueMatrix) Column(c int) []float64 {
	out := make([]float64, 0, m.Rows)
	for r := 0; r < m.Rows; r++ {
		if v := m.At(r, c); !math.IsNaN(float64(v)) {
			out = append(out, float64(v))
		}
	}
	return out
}
