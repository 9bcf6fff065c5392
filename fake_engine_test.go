package govqmt

import (
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeEngine is a scripted stand-in for libvqmt. Measurements run on a
// goroutine of their own, so events and values arrive from a thread the
// caller does not control, as they do with the real engine.
type fakeEngine struct {
	mu       sync.Mutex
	next     int32
	invokes  map[int32]*fakeInvoke
	detached map[int32]int
	lastErr  string

	// media maps a file path to its width and height.
	media map[string][2]int
	// frames is the length of every non-callback input.
	frames int

	// holdPrepare, when set, parks the engine thread after PrepareStart
	// until it is closed.
	holdPrepare chan struct{}
	// holdMeasure, when set, parks the engine thread after PrepareComplete
	// until it is closed or the invoke is cancelled.
	holdMeasure chan struct{}

	rawStatus   *int32
	rowOverride *int32
	failFill    bool
	rejectCB    bool

	activated bool
	copies    int
	planes    int
	inits     int
	closed    bool
}

type fakeFile struct {
	path     string
	callback bool
	w, h     int
	frames   int
}

type fakeInvoke struct {
	handle     int32
	key        uintptr
	withValues bool
	metrics    int
	files      []fakeFile
	geometry   bool

	status  int32
	rows    int
	values  []float32
	frames  []int32
	cancel  chan struct{}
	once    sync.Once
	paused  int
	resumed int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		invokes:  map[int32]*fakeInvoke{},
		detached: map[int32]int{},
		media:    map[string][2]int{},
		frames:   5,
	}
}

// newTestEngine returns an engine over fake with a silent logger.
func newTestEngine(fake *fakeEngine) (*Engine, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return newEngine(fake, WithLogger(log)), hook
}

func (f *fakeEngine) init() {
	f.mu.Lock()
	f.inits++
	f.mu.Unlock()
}

func (f *fakeEngine) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) versionJSON() string {
	return `{"maj":14,"min":1,"rev":3,"edition":"pro","full":"14.1.3 pro"}`
}

func (f *fakeEngine) pictureTypesJSON() string {
	return `[{"name":"gray"},{"name":"yuv420p"}]`
}

func (f *fakeEngine) colorspacesJSON() string {
	return `[{"name":"Y"},{"name":"U"},{"name":"V"}]`
}

func (f *fakeEngine) devicesJSON() string { return `[{"name":"cpu"}]` }

func (f *fakeEngine) metricsJSON() string {
	return `[{"name":"psnr"},{"name":"ssim"}]`
}

func (f *fakeEngine) lastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeEngine) createInvoke(configJSON string, key uintptr,
	withValues bool) int32 {
	var doc map[string]any
	if err := json.Unmarshal([]byte(configJSON), &doc); err != nil {
		return f.fail(err.Error())
	}

	inv := &fakeInvoke{key: key, withValues: withValues, status: 50,
		cancel: make(chan struct{})}
	metrics, _ := doc["metrics"].([]any)
	inv.metrics = len(metrics)
	if geo, ok := doc["geometry"].(map[string]any); ok {
		inv.geometry = geo["enabled"] == true
	}

	files, _ := doc["files"].([]any)
	for _, entry := range files {
		inv.files = append(inv.files, f.parseFile(entry))
	}
	if inv.metrics == 0 {
		return f.fail("no metrics specified")
	}
	if len(inv.files) == 0 {
		return f.fail("no files specified")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	inv.handle = f.next
	f.next++
	f.invokes[inv.handle] = inv
	return inv.handle
}

func (f *fakeEngine) fail(msg string) int32 {
	f.mu.Lock()
	f.lastErr = msg
	f.mu.Unlock()
	return -1
}

func (f *fakeEngine) parseFile(entry any) fakeFile {
	file := fakeFile{w: 1280, h: 720}
	var props map[string]any
	switch e := entry.(type) {
	case string:
		file.path = e
	case []any:
		file.path, _ = e[0].(string)
		data, _ := e[1].(map[string]any)
		file.callback = data["mode"] == FileModeCallback
		props, _ = data["props"].(map[string]any)
	}

	f.mu.Lock()
	if dims, ok := f.media[file.path]; ok {
		file.w, file.h = dims[0], dims[1]
	}
	file.frames = f.frames
	f.mu.Unlock()

	if w, ok := props["w"].(float64); ok {
		file.w = int(w)
	}
	if h, ok := props["h"].(float64); ok {
		file.h = int(h)
	}
	if n, ok := props["frames"].(float64); ok {
		file.frames = int(n)
	}
	return file
}

func (f *fakeEngine) get(h int32) *fakeInvoke {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invokes[h]
}

func (f *fakeEngine) detachInvoke(h int32) {
	f.mu.Lock()
	f.detached[h]++
	f.mu.Unlock()
}

func (f *fakeEngine) detachCount(h int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached[int32(h)]
}

func (f *fakeEngine) totalDetaches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.detached {
		n += c
	}
	return n
}

func event(name string) string {
	return fmt.Sprintf(`{"event":%q,"source":"fake"}`, name)
}

func (f *fakeEngine) startProcess(h int32) int32 {
	inv := f.get(h)
	if inv == nil {
		return 200
	}
	done := make(chan int32)
	go func() { done <- f.measure(inv) }()
	status := <-done

	f.mu.Lock()
	inv.status = status
	raw := f.rawStatus
	f.mu.Unlock()
	if raw != nil {
		return *raw
	}
	return status
}

// measure plays the engine's side of one run.
func (f *fakeEngine) measure(inv *fakeInvoke) int32 {
	dispatchEvent(inv.key, event("PrepareStart"))
	if f.holdPrepare != nil {
		<-f.holdPrepare
	}

	if !inv.geometry {
		for _, file := range inv.files[1:] {
			if file.w != inv.files[0].w || file.h != inv.files[0].h {
				return 200
			}
		}
	}
	dispatchEvent(inv.key, event("PrepareComplete"))

	if f.holdMeasure != nil {
		select {
		case <-f.holdMeasure:
		case <-inv.cancel:
		}
	}

	total := inv.files[0].frames
	for _, file := range inv.files[1:] {
		total = min(total, file.frames)
	}

	status := int32(100)
	var values []float32
	var frames []int32
	buf := uintptr(0x1000)
loop:
	for frame := 0; frame < total; frame++ {
		select {
		case <-inv.cancel:
			status = 300
			break loop
		default:
		}
		for _, file := range inv.files {
			if !file.callback {
				continue
			}
			switch InputResult(dispatchInput(inv.key, inv.handle, file.path,
				int32(frame), buf, 7)) {
			case InputOK:
			case InputEOF:
				break loop
			default:
				status = 150
				break loop
			}
		}
		for col := 0; col < inv.metrics; col++ {
			v := float32(frame*10 + col)
			values = append(values, v)
			if inv.withValues {
				dispatchValue(inv.key, inv.handle, int32(frame), int32(col),
					float64(v))
			}
		}
		frames = append(frames, int32(frame))
	}

	f.mu.Lock()
	inv.rows = len(frames)
	inv.values = values
	inv.frames = frames
	f.mu.Unlock()

	dispatchEvent(inv.key, event("MeasureComplete"))
	return status
}

func (f *fakeEngine) cancelInvoke(h int32) {
	if inv := f.get(h); inv != nil {
		inv.once.Do(func() { close(inv.cancel) })
	}
}

func (f *fakeEngine) pauseInvoke(h int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes[h].paused++
}

func (f *fakeEngine) resumeInvoke(h int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes[h].resumed++
}

func (f *fakeEngine) exitStatus(h int32) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invokes[h]
	if !ok {
		return -1
	}
	return inv.status
}

func (f *fakeEngine) columnsJSON(h int32) string {
	inv := f.get(h)
	cols := make([]map[string]any, inv.metrics)
	for i := range cols {
		cols[i] = map[string]any{"name": fmt.Sprintf("metric-%d", i)}
	}
	out, _ := json.Marshal(cols)
	return string(out)
}

func (f *fakeEngine) filesJSON(h int32) string {
	inv := f.get(h)
	files := make([]map[string]any, len(inv.files))
	for i, file := range inv.files {
		files[i] = map[string]any{"path": file.path, "w": file.w, "h": file.h}
	}
	out, _ := json.Marshal(files)
	return string(out)
}

func (f *fakeEngine) valuesJSON(h int32) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, _ := json.Marshal(f.invokes[h].values)
	return string(out)
}

func (f *fakeEngine) accumulatorsJSON(h int32) string {
	return `{"metric-0":{"mean":1.5}}`
}

func (f *fakeEngine) generalizedInfoJSON(h int32) string {
	return `{"status":"done"}`
}

func (f *fakeEngine) rowCount(h int32) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowOverride != nil {
		return *f.rowOverride
	}
	return int32(f.invokes[h].rows)
}

func (f *fakeEngine) valuesArray(h int32, dst []float32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFill {
		return false
	}
	inv := f.invokes[h]
	// The last column of the last row is left unfilled.
	n := min(len(dst), len(inv.values))
	if n > 0 {
		n--
	}
	copy(dst[:n], inv.values)
	return true
}

func (f *fakeEngine) framesArray(h int32, dst []int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFill {
		return false
	}
	copy(dst, f.invokes[h].frames)
	return true
}

func (f *fakeEngine) setInputCallback(h int32, key uintptr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectCB {
		f.lastErr = "input callbacks disabled"
		return false
	}
	return f.invokes[h].key == key
}

func (f *fakeEngine) copyImage(src unsafe.Pointer, dst uintptr, mask int32) {
	f.mu.Lock()
	f.copies++
	f.mu.Unlock()
}

func (f *fakeEngine) copyPlane(src unsafe.Pointer, stride int, dst uintptr,
	plane int32) {
	f.mu.Lock()
	f.planes++
	f.mu.Unlock()
}

func (f *fakeEngine) checkActivation() bool { return f.activated }

func (f *fakeEngine) activatePro(code string) bool {
	f.activated = code == "pro-code"
	return f.activated
}

func (f *fakeEngine) activateProAdvanced(code, email, oldPass,
	newPass string) bool {
	f.activated = code == "pro-code" && email != ""
	return f.activated
}

func (f *fakeEngine) activatePremium(code string) bool {
	f.activated = code == "premium-code"
	return f.activated
}
