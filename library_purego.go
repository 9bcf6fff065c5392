//go:build darwin || linux

package govqmt

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Trampolines are process wide: purego never frees a callback, so one set is
// created on first load and shared by every engine and job. The native
// context pointer selects the job.
var (
	trampolineOnce  sync.Once
	eventTrampoline uintptr
	valueTrampoline uintptr
	inputTrampoline uintptr
)

func initTrampolines() {
	trampolineOnce.Do(func() {
		eventTrampoline = purego.NewCallback(eventEntry)
		valueTrampoline = purego.NewCallback(valueEntry)
		inputTrampoline = purego.NewCallback(inputEntry)
	})
}

// The entry points take register sized arguments. The engine passes int
// values, so only the low 32 bits are meaningful.

func eventEntry(doc, ctx uintptr) {
	dispatchEvent(ctx, cString(doc))
}

func valueEntry(handle, frame, column uintptr, value float64, ctx uintptr) {
	dispatchValue(ctx, int32(handle), int32(frame), int32(column), value)
}

func inputEntry(handle, file, frame, data, mask, ctx uintptr) uintptr {
	code := dispatchInput(ctx, int32(handle), cString(file), int32(frame),
		data, int32(mask))
	return uintptr(code)
}

// cString copies a NUL terminated C string owned by the engine.
func cString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := (*byte)(unsafe.Pointer(p))
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(ptr, n))
}

// puregoLibrary is libvqmt bound through dlopen.
type puregoLibrary struct {
	handle uintptr

	vqmtInit            func()
	getVersionJSON      func() string
	getPictureTypesJSON func() string
	getColorspacesJSON  func() string
	getDevicesJSON      func() string
	getMetricsJSON      func() string
	getError            func() string

	invokeInitWithConfigJSON func(config string, eventCB, valueCB,
		ctx uintptr) int32
	detach         func(id int32)
	start          func(id int32) int32
	cancel         func(id int32)
	pause          func(id int32)
	resume         func(id int32)
	getExitStatus  func(id int32) int32
	getColumnsJSON func(id int32) string
	getFilesJSON   func(id int32) string
	getValuesJSON  func(id int32) string
	getAccumJSON   func(id int32) string
	getGenInfoJSON func(id int32) string
	getRowCount    func(id int32) int32
	getValuesArray func(id int32, dst unsafe.Pointer) bool
	getFramesArray func(id int32, dst unsafe.Pointer) bool
	setInputCB     func(id int32, cb, ctx uintptr) bool

	utilityCopyImage func(src unsafe.Pointer, dst uintptr, mask int32)
	utilityCopyPlane func(src unsafe.Pointer, stride int32, dst uintptr,
		plane int32)

	checkActivationFn     func() bool
	activateProFn         func(code string) bool
	activateProAdvancedFn func(code, email, oldPass, newPass string) bool
	activatePremiumFn     func(code string) bool
}

func openLibrary(path string) (nativeLibrary, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("govqmt: load %s: %w", path, err)
	}

	lib := &puregoLibrary{handle: handle}
	if err := lib.bind(); err != nil {
		purego.Dlclose(handle)
		return nil, err
	}

	initTrampolines()
	return lib, nil
}

func (l *puregoLibrary) bind() error {
	symbols := []struct {
		name string
		fn   any
	}{
		{"vqmt_init", &l.vqmtInit},
		{"vqmt_get_version_json", &l.getVersionJSON},
		{"vqmt_get_picture_types_json", &l.getPictureTypesJSON},
		{"vqmt_get_colorspaces_json", &l.getColorspacesJSON},
		{"vqmt_get_devices_json", &l.getDevicesJSON},
		{"vqmt_get_metrics_json", &l.getMetricsJSON},
		{"vqmt_get_error", &l.getError},
		{"vqmt_invoke_init_with_config_json", &l.invokeInitWithConfigJSON},
		{"vqmt_detach_invoke", &l.detach},
		{"vqmt_start_process", &l.start},
		{"vqmt_cancel_invoke", &l.cancel},
		{"vqmt_pause_invoke", &l.pause},
		{"vqmt_resume_invoke", &l.resume},
		{"vqmt_get_exit_status", &l.getExitStatus},
		{"vqmt_get_invoke_columns_information_json", &l.getColumnsJSON},
		{"vqmt_get_invoke_files_information_json", &l.getFilesJSON},
		{"vqmt_get_invoke_values_json", &l.getValuesJSON},
		{"vqmt_get_invoke_accumulators_json", &l.getAccumJSON},
		{"vqmt_get_invoke_generalized_info_json", &l.getGenInfoJSON},
		{"vqmt_get_invoke_rowcount", &l.getRowCount},
		{"vqmt_get_invoke_values_array", &l.getValuesArray},
		{"vqmt_get_invoke_frames_array", &l.getFramesArray},
		{"vqmt_set_invoke_input_callback", &l.setInputCB},
		{"vqmt_utility_copy_image", &l.utilityCopyImage},
		{"vqmt_utility_copy_plane", &l.utilityCopyPlane},
		{"vqmt_check_activation", &l.checkActivationFn},
		{"vqmt_activate_pro", &l.activateProFn},
		{"vqmt_activate_pro_advanced", &l.activateProAdvancedFn},
		{"vqmt_activate_premium", &l.activatePremiumFn},
	}

	for _, s := range symbols {
		sym, err := purego.Dlsym(l.handle, s.name)
		if err != nil {
			return fmt.Errorf("govqmt: missing symbol %s: %w", s.name, err)
		}
		purego.RegisterFunc(s.fn, sym)
	}
	return nil
}

func (l *puregoLibrary) init() { l.vqmtInit() }

func (l *puregoLibrary) close() error { return purego.Dlclose(l.handle) }

func (l *puregoLibrary) versionJSON() string      { return l.getVersionJSON() }
func (l *puregoLibrary) pictureTypesJSON() string { return l.getPictureTypesJSON() }
func (l *puregoLibrary) colorspacesJSON() string  { return l.getColorspacesJSON() }
func (l *puregoLibrary) devicesJSON() string      { return l.getDevicesJSON() }
func (l *puregoLibrary) metricsJSON() string      { return l.getMetricsJSON() }
func (l *puregoLibrary) lastError() string        { return l.getError() }

func (l *puregoLibrary) createInvoke(configJSON string, key uintptr,
	withValues bool) int32 {
	var valueCB uintptr
	if withValues {
		valueCB = valueTrampoline
	}
	return l.invokeInitWithConfigJSON(configJSON, eventTrampoline, valueCB, key)
}

func (l *puregoLibrary) detachInvoke(h int32)       { l.detach(h) }
func (l *puregoLibrary) startProcess(h int32) int32 { return l.start(h) }
func (l *puregoLibrary) cancelInvoke(h int32)       { l.cancel(h) }
func (l *puregoLibrary) pauseInvoke(h int32)        { l.pause(h) }
func (l *puregoLibrary) resumeInvoke(h int32)       { l.resume(h) }
func (l *puregoLibrary) exitStatus(h int32) int32   { return l.getExitStatus(h) }

func (l *puregoLibrary) columnsJSON(h int32) string         { return l.getColumnsJSON(h) }
func (l *puregoLibrary) filesJSON(h int32) string           { return l.getFilesJSON(h) }
func (l *puregoLibrary) valuesJSON(h int32) string          { return l.getValuesJSON(h) }
func (l *puregoLibrary) accumulatorsJSON(h int32) string    { return l.getAccumJSON(h) }
func (l *puregoLibrary) generalizedInfoJSON(h int32) string { return l.getGenInfoJSON(h) }
func (l *puregoLibrary) rowCount(h int32) int32             { return l.getRowCount(h) }

func (l *puregoLibrary) valuesArray(h int32, dst []float32) bool {
	if len(dst) == 0 {
		return l.getValuesArray(h, nil)
	}
	return l.getValuesArray(h, unsafe.Pointer(&dst[0]))
}

func (l *puregoLibrary) framesArray(h int32, dst []int32) bool {
	if len(dst) == 0 {
		return l.getFramesArray(h, nil)
	}
	return l.getFramesArray(h, unsafe.Pointer(&dst[0]))
}

func (l *puregoLibrary) setInputCallback(h int32, key uintptr) bool {
	return l.setInputCB(h, inputTrampoline, key)
}

func (l *puregoLibrary) copyImage(src unsafe.Pointer, dst uintptr, mask int32) {
	l.utilityCopyImage(src, dst, mask)
}

func (l *puregoLibrary) copyPlane(src unsafe.Pointer, stride int, dst uintptr,
	plane int32) {
	l.utilityCopyPlane(src, int32(stride), dst, plane)
}

func (l *puregoLibrary) checkActivation() bool     { return l.checkActivationFn() }
func (l *puregoLibrary) activatePro(c string) bool { return l.activateProFn(c) }
func (l *puregoLibrary) activatePremium(c string) bool {
	return l.activatePremiumFn(c)
}

func (l *puregoLibrary) activateProAdvanced(code, email, oldPass,
	newPass string) bool {
	return l.activateProAdvancedFn(code, email, oldPass, newPass)
}
