package main

import (
	"os"
	"path/filepath"
	"testing"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseMetricSpec(t *testing.T) {
	spec, err := parseMetricSpec("ssim:Y:fast")
	require.NoError(t, err)
	assert.Equal(t, "ssim", spec.name)
	assert.Equal(t, "Y", spec.opts.Component)
	assert.Equal(t, "fast", spec.opts.Variation)

	spec, err = parseMetricSpec("psnr")
	require.NoError(t, err)
	assert.Equal(t, metricSpec{name: "psnr"}, spec)

	for _, bad := range []string{"", ":Y", "a:b:c:d"} {
		_, err := parseMetricSpec(bad)
		assert.Error(t, err, bad)
	}
}

func Test_bindMeasureFlags(t *testing.T) {
	opts := &measureOptions{}
	fs := pflag.NewFlagSet("measure", pflag.ContinueOnError)
	bindMeasureFlags(fs, opts)

	require.NoError(t, fs.Parse([]string{
		"-m", "psnr:Y", "-m", "ssim:Y,vmaf",
		"-f", "ref.mp4", "-f", "dist.mp4",
		"--range", "10:20", "--geometry", "--threads", "8",
	}))
	assert.Equal(t, "psnr,ssim,vmaf", opts.metrics.String())
	assert.Equal(t, []string{"ref.mp4", "dist.mp4"}, opts.files)
	assert.Equal(t, "10:20", opts.rng.String())
	assert.True(t, opts.geometry)
	assert.Equal(t, 8, opts.threads)
	require.NoError(t, opts.validate())

	require.Error(t, fs.Parse([]string{"--range", "20:10"}))
	require.Error(t, fs.Parse([]string{"-m", "a:b:c:d"}))
}

func Test_rangeFlag(t *testing.T) {
	var r rangeFlag
	assert.Equal(t, "", r.String())
	require.NoError(t, r.Set("5:"))
	assert.Equal(t, "5:", r.String())
	assert.Nil(t, r.end)
	assert.Equal(t, 95, r.frames(100))

	require.NoError(t, r.Set("5:9"))
	assert.Equal(t, 5, r.frames(100))
	assert.Equal(t, 2, r.frames(7))
	assert.Equal(t, vqmt.FileOptions{StartFrame: 5, EndFrame: vqmt.Ptr(9)},
		r.fileOptions())

	require.NoError(t, r.Set("3"))
	assert.Equal(t, 0, r.frames(2))
	for _, bad := range []string{"x", "-1", "4:x", "4:2"} {
		assert.Error(t, r.Set(bad), bad)
	}
}

func Test_measureOptions_validate(t *testing.T) {
	assert.Error(t, (&measureOptions{}).validate())
	assert.Error(t, (&measureOptions{metrics: metricsFlag{{name: "psnr"}}}).validate())
	assert.Error(t, (&measureOptions{metrics: metricsFlag{{name: "psnr"}},
		files: []string{"a"}, threads: -1}).validate())
	assert.Error(t, (&measureOptions{metrics: metricsFlag{{name: "psnr"}},
		files: []string{"a"}, jsonOut: "out" + string(os.PathSeparator)}).validate())
	assert.NoError(t, (&measureOptions{preset: "p.yaml"}).validate())
}

func Test_buildConfig(t *testing.T) {
	preset := filepath.Join(t.TempDir(), "preset.yaml")
	require.NoError(t, os.WriteFile(preset, []byte(`
vis:
  enabled: false
  compressor: h264
performance:
  metric_parallelism: 2
metrics:
  - metric: msad
`), 0o644))

	opts := &measureOptions{
		metrics:  metricsFlag{{name: "psnr", opts: vqmt.MetricOptions{Component: "Y"}}},
		files:    []string{"ref.mp4", "dist.mp4"},
		preset:   preset,
		geometry: true,
		threads:  4,
		device:   "cpu",
		visDir:   "/tmp/vis",
	}
	require.NoError(t, opts.rng.Set("2:"))

	cfg, err := opts.buildConfig(nil)
	require.NoError(t, err)
	doc, err := cfg.Document()
	require.NoError(t, err)

	// The preset is merged over the flags.
	assert.Equal(t, map[string]any{"enabled": false,
		"output_directory": "/tmp/vis", "compressor": "h264"}, doc["vis"])
	assert.Equal(t, map[string]any{"threads_number": 4,
		"metric_parallelism": 2}, doc["performance"])
	assert.Equal(t, map[string]any{"enabled": true}, doc["geometry"])
	assert.Equal(t, []any{
		map[string]any{"metric": "msad"},
		map[string]any{"metric": map[string]any{"name": "psnr",
			"device": "cpu"}, "color": "Y"},
	}, doc["metrics"])
	assert.Equal(t, []any{
		[]any{"ref.mp4", map[string]any{"range": []any{2}}},
		[]any{"dist.mp4", map[string]any{"range": []any{2}}},
	}, doc["files"])

	decoded := []vqmt.FileOptions{{Mode: vqmt.FileModeCallback,
		Props: map[string]any{"frames": 3}}}
	cfg, err = opts.buildConfig(decoded)
	require.NoError(t, err)
	doc, err = cfg.Document()
	require.NoError(t, err)
	files := doc["files"].([]any)
	assert.Equal(t, []any{"ref.mp4", map[string]any{"mode": "callback",
		"props": map[string]any{"frames": 3}}}, files[0])
}

func Test_loadPreset(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "preset.json")
	require.NoError(t, os.WriteFile(jsonPath,
		[]byte(`{"files": ["a.y4m"], "geometry": {"enabled": true}}`), 0o644))
	preset, err := loadPreset(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []any{"a.y4m"}, preset["files"])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- just\n- a list\n"), 0o644))
	_, err = loadPreset(bad)
	require.Error(t, err)

	_, err = loadPreset(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func Test_parseLogLevel(t *testing.T) {
	for in, want := range map[string]logrus.Level{
		"error": logrus.ErrorLevel,
		"WARN":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"Debug": logrus.DebugLevel,
	} {
		got, err := parseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := parseLogLevel("loud")
	require.Error(t, err)
}

func Test_rootCommand_MeasureNeedsMetrics(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"measure", "-f", "a.mp4"})
	cmd.SetOut(&nopWriter{})
	cmd.SetErr(&nopWriter{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric")
}

func Test_rootCommand_BadLogLevel(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--loglevel", "loud", "info"})
	cmd.SetOut(&nopWriter{})
	cmd.SetErr(&nopWriter{})
	require.Error(t, cmd.Execute())
}

func Test_catalogNames(t *testing.T) {
	assert.Equal(t, []string{"version", "activation", "colorspaces",
		"devices", "metrics", "picture-types"}, catalogNames())
}

type nopWriter struct{}

func (*nopWriter) Write(p []byte) (int, error) { return len(p), nil }
