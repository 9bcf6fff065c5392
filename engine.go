package govqmt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// DefaultLibraryPath is where VQMT installs its shared library on Linux.
const DefaultLibraryPath = "/usr/lib/libvqmt.so"

// libraryFileName is the engine library inside an installation directory.
const libraryFileName = "libvqmt.so"

// Engine is one loaded instance of the VQMT library. It creates measurement
// jobs and answers catalog queries. Catalog queries are read-only and safe
// for concurrent use.
type Engine struct {
	lib  nativeLibrary
	log  logrus.FieldLogger
	path string

	live      atomic.Int64
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and every job it creates.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Load opens the engine library at path and initializes it.
func Load(path string, opts ...Option) (*Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	lib, err := openLibrary(path)
	if err != nil {
		return nil, err
	}
	e := newEngine(lib, opts...)
	e.path = path
	e.log.WithField("path", path).Debug("engine loaded")
	return e, nil
}

// LoadDir opens the engine from an installation directory.
func LoadDir(dir string, opts ...Option) (*Engine, error) {
	return Load(filepath.Join(dir, libraryFileName), opts...)
}

// Find loads the engine from DefaultLibraryPath. If version is not empty it
// must be a dotted prefix ("14", "14.1", "14.1.0") of the loaded engine's
// version.
func Find(version string, opts ...Option) (*Engine, error) {
	want, err := parseVersionPrefix(version)
	if err != nil {
		return nil, err
	}

	e, err := Load(DefaultLibraryPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.requirePrefix(want, version); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// RequireVersion returns ErrVersionMismatch unless version is a dotted
// prefix of the engine's version. An empty version always matches.
func (e *Engine) RequireVersion(version string) error {
	want, err := parseVersionPrefix(version)
	if err != nil {
		return err
	}
	return e.requirePrefix(want, version)
}

func (e *Engine) requirePrefix(want []int, version string) error {
	if len(want) == 0 {
		return nil
	}
	info, err := e.VersionInfo()
	if err != nil {
		return err
	}
	if !info.HasPrefix(want) {
		return fmt.Errorf("%w: found %d.%d.%d, want %s",
			ErrVersionMismatch, info.Major, info.Minor, info.Revision, version)
	}
	return nil
}

func newEngine(lib nativeLibrary, opts ...Option) *Engine {
	e := &Engine{lib: lib, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(e)
	}
	lib.init()
	return e
}

// Close unloads the library. Every job must be closed first; Close refuses
// otherwise because the engine may still call back into detached memory.
func (e *Engine) Close() error {
	if n := e.live.Load(); n > 0 {
		return fmt.Errorf("%w: %d jobs still attached", ErrInvalidState, n)
	}
	var err error
	e.closeOnce.Do(func() { err = e.lib.close() })
	return err
}

// Path returns the file the engine was loaded from, if any.
func (e *Engine) Path() string { return e.path }

// LastError returns the engine's most recent error message.
func (e *Engine) LastError() string { return e.lib.lastError() }

// VersionInfo is the numeric and descriptive version of the engine.
type VersionInfo struct {
	Major     int    `json:"maj"`
	Minor     int    `json:"min"`
	Revision  int    `json:"rev"`
	Extra     string `json:"extra"`
	Edition   string `json:"edition"`
	Full      string `json:"full"`
	BuildDate string `json:"build_date"`
}

// HasPrefix reports whether the version starts with the given components.
func (v VersionInfo) HasPrefix(prefix []int) bool {
	have := []int{v.Major, v.Minor, v.Revision}
	if len(prefix) > len(have) {
		return false
	}
	for i, p := range prefix {
		if have[i] != p {
			return false
		}
	}
	return true
}

func (v VersionInfo) String() string {
	if v.Full != "" {
		return v.Full
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

func parseVersionPrefix(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("govqmt: bad version %q: %w", s, err)
		}
		out[i] = n
	}
	return out, nil
}

// Version returns the engine's version document.
func (e *Engine) Version() (Document, error) {
	return parseDocument("version", e.lib.versionJSON())
}

// VersionInfo decodes the version document.
func (e *Engine) VersionInfo() (VersionInfo, error) {
	var info VersionInfo
	if err := json.Unmarshal([]byte(e.lib.versionJSON()), &info); err != nil {
		return VersionInfo{}, fmt.Errorf("govqmt: version: %w", err)
	}
	return info, nil
}

// PictureTypes lists the raw picture formats the engine can read.
func (e *Engine) PictureTypes() ([]Document, error) {
	return parseDocumentList("picture types", e.lib.pictureTypesJSON())
}

// Colorspaces lists the color components metrics can be computed on.
func (e *Engine) Colorspaces() ([]Document, error) {
	return parseDocumentList("colorspaces", e.lib.colorspacesJSON())
}

// Devices lists the compute devices available to metrics.
func (e *Engine) Devices() ([]Document, error) {
	return parseDocumentList("devices", e.lib.devicesJSON())
}

// Metrics lists the metrics of this engine build.
func (e *Engine) Metrics() ([]Document, error) {
	return parseDocumentList("metrics", e.lib.metricsJSON())
}

// Run executes job on the calling goroutine and blocks until the engine
// finishes it. Most callers want Job.Start, which also records completion.
func (e *Engine) Run(job *Job) (ExitStatus, error) {
	if job.engine != e {
		return ExitStatusFailed, fmt.Errorf("%w: job belongs to another "+
			"engine", ErrInvalidState)
	}
	if err := job.usable(); err != nil {
		return ExitStatusFailed, err
	}
	return e.run(job.core)
}

func (e *Engine) run(core *jobCore) (ExitStatus, error) {
	raw := e.lib.startProcess(core.handle)
	status, known := normalizeExitStatus(raw)
	if !known {
		core.log.WithField("raw", raw).Warn("unknown exit status, reporting " +
			"failed")
	}
	return status, nil
}

// CopyImage copies a packed image into an engine input buffer. It is meant
// to be called from an InputFunc with the request's Data and Mask. The engine
// derives the geometry from the file's configured props.
func (e *Engine) CopyImage(src []byte, dst uintptr, mask ChannelMask) {
	if len(src) == 0 || dst == 0 {
		return
	}
	e.lib.copyImage(unsafe.Pointer(&src[0]), dst, int32(mask))
}

// CopyPlane copies one plane with the given line stride in bytes into an
// engine input buffer.
func (e *Engine) CopyPlane(src []byte, stride int, dst uintptr, plane int) {
	if len(src) == 0 || dst == 0 {
		return
	}
	e.lib.copyPlane(unsafe.Pointer(&src[0]), stride, dst, int32(plane))
}

// IsActivated reports whether a license is active.
func (e *Engine) IsActivated() bool { return e.lib.checkActivation() }

// ActivatePro activates a Pro license.
func (e *Engine) ActivatePro(code string) bool { return e.lib.activatePro(code) }

// ActivateProAdvanced activates a Pro license, moving it from a previous
// registration identified by email and password.
func (e *Engine) ActivateProAdvanced(code, email, oldPass, newPass string) bool {
	return e.lib.activateProAdvanced(code, email, oldPass, newPass)
}

// ActivatePremium activates a Premium license.
func (e *Engine) ActivatePremium(code string) bool {
	return e.lib.activatePremium(code)
}
