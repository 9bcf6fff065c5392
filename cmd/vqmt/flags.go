package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// metricSpec is one -m value: name[:component[:variation]].
type metricSpec struct {
	name string
	opts vqmt.MetricOptions
}

func parseMetricSpec(s string) (metricSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
		return metricSpec{}, fmt.Errorf("bad metric %q, want "+
			"name[:component[:variation]]", s)
	}
	spec := metricSpec{name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		spec.opts.Component = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		spec.opts.Variation = strings.TrimSpace(parts[2])
	}
	return spec, nil
}

// metricsFlag collects repeated -m flags.
type metricsFlag []metricSpec

var _ pflag.Value = (*metricsFlag)(nil)

func (f *metricsFlag) String() string {
	names := make([]string, len(*f))
	for i, m := range *f {
		names[i] = m.name
	}
	return strings.Join(names, ",")
}

func (f *metricsFlag) Set(s string) error {
	for _, item := range strings.Split(s, ",") {
		spec, err := parseMetricSpec(item)
		if err != nil {
			return err
		}
		*f = append(*f, spec)
	}
	return nil
}

func (f *metricsFlag) Type() string { return "metric" }

// rangeFlag is a --range value: start, start: or start:end.
type rangeFlag struct {
	start int
	end   *int
	set   bool
}

var _ pflag.Value = (*rangeFlag)(nil)

func (f *rangeFlag) String() string {
	if !f.set {
		return ""
	}
	if f.end == nil {
		return strconv.Itoa(f.start) + ":"
	}
	return fmt.Sprintf("%d:%d", f.start, *f.end)
}

func (f *rangeFlag) Set(s string) error {
	first, last, hasEnd := strings.Cut(s, ":")
	start, err := strconv.Atoi(first)
	if err != nil || start < 0 {
		return fmt.Errorf("bad range start %q", first)
	}
	var end *int
	if hasEnd && last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < start {
			return fmt.Errorf("bad range end %q", last)
		}
		end = &n
	}
	f.start, f.end, f.set = start, end, true
	return nil
}

func (f *rangeFlag) Type() string { return "start:end" }

// fileOptions applies the range to every input.
func (f *rangeFlag) fileOptions() vqmt.FileOptions {
	return vqmt.FileOptions{StartFrame: f.start, EndFrame: f.end}
}

func (f *rangeFlag) frames(available int) int {
	n := available - f.start
	if f.end != nil {
		n = min(n, *f.end-f.start+1)
	}
	return max(n, 0)
}

// loadPreset reads a YAML or JSON configuration fragment. JSON is valid
// YAML, so one decoder serves both.
func loadPreset(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var preset map[string]any
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("preset %s: %w", path, err)
	}
	return normalizeYAML(preset).(map[string]any), nil
}

// normalizeYAML turns the decoder's output into JSON-compatible values.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	case nil:
		return nil
	}
	return v
}
