package govqmt

import "unsafe"

// nativeLibrary is the engine's C entry point surface. The purego loader
// implements it against libvqmt; tests substitute a scripted engine.
//
// Callbacks are not part of this interface. The library binds process wide
// trampolines that forward to the dispatch functions, and key travels as the
// native context pointer.
type nativeLibrary interface {
	init()
	close() error

	versionJSON() string
	pictureTypesJSON() string
	colorspacesJSON() string
	devicesJSON() string
	metricsJSON() string
	lastError() string

	createInvoke(configJSON string, key uintptr, withValues bool) int32
	detachInvoke(handle int32)
	startProcess(handle int32) int32
	cancelInvoke(handle int32)
	pauseInvoke(handle int32)
	resumeInvoke(handle int32)
	exitStatus(handle int32) int32

	columnsJSON(handle int32) string
	filesJSON(handle int32) string
	valuesJSON(handle int32) string
	accumulatorsJSON(handle int32) string
	generalizedInfoJSON(handle int32) string
	rowCount(handle int32) int32
	valuesArray(handle int32, dst []float32) bool
	framesArray(handle int32, dst []int32) bool
	setInputCallback(handle int32, key uintptr) bool

	copyImage(src unsafe.Pointer, dst uintptr, mask int32)
	copyPlane(src unsafe.Pointer, stride int, dst uintptr, plane int32)

	checkActivation() bool
	activatePro(code string) bool
	activateProAdvanced(code, email, oldPass, newPass string) bool
	activatePremium(code string) bool
}
