package govqmt

import (
	"encoding/json"
	"fmt"
	"os"
)

// ConfigSource is anything that can produce the engine's configuration
// document.
type ConfigSource interface {
	Document() (map[string]any, error)
}

// RawConfig is a configuration document assembled by hand. It is passed to
// the engine as is.
type RawConfig map[string]any

// Document returns a deep copy of c.
func (c RawConfig) Document() (map[string]any, error) {
	return deepCopyMap(c), nil
}

// VisualizationOptions controls the engine's visualization output, written
// under the "vis" key.
type VisualizationOptions struct {
	// Enabled turns on rendering of per-metric visualization videos.
	Enabled bool
	// OutputDirectory is where the visualization files are written.
	OutputDirectory string
	// Compressor names the encoder used for visualization videos, for
	// example "h264".
	Compressor string
}

func (v *VisualizationOptions) document() map[string]any {
	m := map[string]any{"enabled": v.Enabled}
	if v.OutputDirectory != "" {
		m["output_directory"] = v.OutputDirectory
	}
	if v.Compressor != "" {
		m["compressor"] = v.Compressor
	}
	return m
}

// GeometryOptions controls geometry correction, written under "geometry".
// Without it inputs of differing resolution fail the run.
type GeometryOptions struct {
	Enabled bool
}

func (g *GeometryOptions) document() map[string]any {
	return map[string]any{"enabled": g.Enabled}
}

// PerformanceOptions controls the engine's concurrency, written under
// "performance". Zero leaves the engine's default in place.
type PerformanceOptions struct {
	ThreadsNumber     int
	MetricParallelism int
}

func (p *PerformanceOptions) document() map[string]any {
	m := map[string]any{}
	if p.ThreadsNumber > 0 {
		m["threads_number"] = p.ThreadsNumber
	}
	if p.MetricParallelism > 0 {
		m["metric_parallelism"] = p.MetricParallelism
	}
	return m
}

// MetricOptions are the optional parts of a metric entry.
type MetricOptions struct {
	// Variation selects a metric variant. It cannot be combined with Device.
	Variation string
	// Device selects the compute device. It cannot be combined with
	// Variation.
	Device string
	// Component is the color component to measure, for example "Y", "RGB".
	Component string
	// Config holds metric specific settings, copied into the entry.
	Config map[string]any
	// VisGamma and VisColormap tune the metric's visualization.
	VisGamma    *float64
	VisColormap string
}

// FileMode values for FileOptions.Mode.
const (
	FileModeCallback = "callback"
)

// FileOptions are the optional parts of a file entry.
type FileOptions struct {
	// StartFrame and EndFrame restrict the measured range. A range is only
	// written when StartFrame is not zero or EndFrame is set.
	StartFrame int
	EndFrame   *int
	OffsetType string
	// Mode selects how the engine reads the file. FileModeCallback makes the
	// engine ask the job's InputFunc for every frame.
	Mode      string
	IndexType string
	IndexFile string
	// Props describes the raw or callback input, for example
	// {"frames": 10, "fmt": "gray", "w": 1280, "h": 720}.
	Props map[string]any
	Stdin bool
}

// Config builds a configuration document. Metrics and files keep the order
// they were added in, which is the order of columns and inputs in the
// results.
type Config struct {
	Visualization *VisualizationOptions
	Geometry      *GeometryOptions
	Performance   *PerformanceOptions

	// Extra is merged over everything else with the rules of SetProperties.
	// Any "metrics" or "files" lists it holds come before the entries added
	// with AddMetric and AddFile.
	Extra map[string]any

	metrics []any
	files   []any
}

// NewConfig returns a Config whose Extra starts as a deep copy of initial.
func NewConfig(initial map[string]any) *Config {
	c := &Config{Extra: deepCopyMap(initial)}
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	return c
}

// SetProperties deep-merges props into Extra. Nested maps merge key by key;
// every other value replaces what was there.
func (c *Config) SetProperties(props map[string]any) {
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	mergeInto(c.Extra, props)
}

// AddMetric appends a metric entry.
func (c *Config) AddMetric(name string, opts MetricOptions) error {
	if name == "" {
		return fmt.Errorf("%w: empty metric name", ErrBadConfig)
	}
	if opts.Variation != "" && opts.Device != "" {
		return fmt.Errorf("%w: metric %s: do not specify both variation and "+
			"device", ErrBadConfig, name)
	}

	entry := map[string]any{}
	switch {
	case opts.Variation != "":
		entry["metric"] = map[string]any{"name": name,
			"variation": opts.Variation}
	case opts.Device != "":
		entry["metric"] = map[string]any{"name": name, "device": opts.Device}
	default:
		entry["metric"] = name
	}

	if opts.Component != "" {
		entry["color"] = opts.Component
	}
	if opts.Config != nil {
		entry["config"] = deepCopyMap(opts.Config)
	}
	if opts.VisGamma != nil {
		entry["vis-gamma"] = *opts.VisGamma
	}
	if opts.VisColormap != "" {
		entry["vis-colormap"] = opts.VisColormap
	}

	c.metrics = append(c.metrics, entry)
	return nil
}

// AddFile appends an input file. Without options the entry is the bare path.
func (c *Config) AddFile(path string, opts FileOptions) error {
	if path == "" {
		return fmt.Errorf("%w: empty file path", ErrBadConfig)
	}
	if opts.EndFrame != nil && *opts.EndFrame < opts.StartFrame {
		return fmt.Errorf("%w: file %s: end frame %d before start frame %d",
			ErrBadConfig, path, *opts.EndFrame, opts.StartFrame)
	}

	data := map[string]any{}
	if opts.StartFrame != 0 || opts.EndFrame != nil {
		if opts.EndFrame == nil {
			data["range"] = []any{opts.StartFrame}
		} else {
			data["range"] = []any{opts.StartFrame, *opts.EndFrame}
		}
	}
	if opts.OffsetType != "" {
		data["offset_type"] = opts.OffsetType
	}
	if opts.Mode != "" {
		data["mode"] = opts.Mode
	}
	if opts.IndexType != "" {
		data["index"] = opts.IndexType
	}
	if opts.IndexFile != "" {
		data["index_file"] = opts.IndexFile
	}
	if opts.Props != nil {
		data["props"] = deepCopyMap(opts.Props)
	}
	if opts.Stdin {
		data["stdin"] = true
	}

	if len(data) == 0 {
		c.files = append(c.files, path)
	} else {
		c.files = append(c.files, []any{path, data})
	}
	return nil
}

// NumMetrics returns the number of metrics added with AddMetric.
func (c *Config) NumMetrics() int { return len(c.metrics) }

// NumFiles returns the number of files added with AddFile.
func (c *Config) NumFiles() int { return len(c.files) }

// Document assembles the configuration document.
func (c *Config) Document() (map[string]any, error) {
	doc := map[string]any{}
	if c.Visualization != nil {
		doc["vis"] = c.Visualization.document()
	}
	if c.Geometry != nil {
		doc["geometry"] = c.Geometry.document()
	}
	if c.Performance != nil {
		doc["performance"] = c.Performance.document()
	}
	mergeInto(doc, c.Extra)

	metrics, err := listAt(doc, "metrics")
	if err != nil {
		return nil, err
	}
	files, err := listAt(doc, "files")
	if err != nil {
		return nil, err
	}
	for _, m := range c.metrics {
		metrics = append(metrics, deepCopy(m))
	}
	for _, f := range c.files {
		files = append(files, deepCopy(f))
	}
	doc["metrics"] = metrics
	doc["files"] = files
	return doc, nil
}

func listAt(doc map[string]any, key string) ([]any, error) {
	switch v := doc[key].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q must be a list, got %T", ErrBadConfig,
			key, v)
	}
}

// MarshalJSON encodes the document. Object keys are sorted, so equal
// configurations always produce identical bytes.
func (c *Config) MarshalJSON() ([]byte, error) {
	doc, err := c.Document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// WriteFile saves the document as indented JSON.
func (c *Config) WriteFile(path string) error {
	doc, err := c.Document()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Ptr returns a pointer to v, for optional fields such as
// FileOptions.EndFrame.
func Ptr[T any](v T) *T { return &v }
