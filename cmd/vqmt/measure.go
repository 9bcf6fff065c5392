package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/GreatValueCreamSoda/govqmt/internal/export"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type measureOptions struct {
	metrics  metricsFlag
	files    []string
	preset   string
	rng      rangeFlag
	geometry bool
	threads  int
	device   string
	visDir   string
	async    bool
	decode   bool
	values   bool
	jsonOut  string
	sqlite   string
	saveCfg  string
}

func newMeasureCommand(root *rootOptions) *cobra.Command {
	opts := &measureOptions{}

	cmd := &cobra.Command{
		Use:   "measure -m METRIC[:COMPONENT[:VARIATION]] -f FILE -f FILE",
		Short: "Run one measurement and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runMeasure(ctx, root, opts)
		},
	}
	bindMeasureFlags(cmd.Flags(), opts)
	return cmd
}

func bindMeasureFlags(fs *pflag.FlagSet, opts *measureOptions) {
	fs.VarP(&opts.metrics, "metric", "m",
		"metric to compute, repeatable (e.g. psnr:Y, ssim:Y:fast)")
	fs.StringArrayVarP(&opts.files, "file", "f", nil,
		"input file, repeatable; the first is the reference")
	fs.StringVar(&opts.preset, "preset", "",
		"YAML or JSON configuration merged over the flags")
	fs.Var(&opts.rng, "range", "frame range applied to every input")
	fs.BoolVar(&opts.geometry, "geometry", false,
		"correct differing input geometry instead of failing")
	fs.IntVar(&opts.threads, "threads", 0, "engine threads (0 = engine default)")
	fs.StringVar(&opts.device, "device", "",
		"compute device for every metric without a variation")
	fs.StringVar(&opts.visDir, "vis", "",
		"write visualization videos to this directory")
	fs.BoolVar(&opts.async, "async", false,
		"start in the background and report milestones as they pass")
	fs.BoolVar(&opts.decode, "decode", false,
		"decode inputs with ffms2 and feed luma planes to the engine")
	fs.BoolVar(&opts.values, "trace-values", false,
		"log every value as the engine computes it")
	fs.StringVar(&opts.jsonOut, "json", "", "save per-frame results as JSON")
	fs.StringVar(&opts.sqlite, "sqlite", "",
		"append per-frame results to a SQLite database")
	fs.StringVar(&opts.saveCfg, "save-config", "",
		"write the configuration document sent to the engine")
}

func (o *measureOptions) validate() error {
	if len(o.metrics) == 0 && o.preset == "" {
		return errors.New("at least one metric must be specified via -m")
	}
	if len(o.files) == 0 && o.preset == "" {
		return errors.New("at least one input must be specified via -f")
	}
	if o.threads < 0 {
		return fmt.Errorf("invalid thread count %d", o.threads)
	}
	for _, p := range []string{o.jsonOut, o.sqlite, o.saveCfg} {
		if p != "" && strings.HasSuffix(p, string(os.PathSeparator)) {
			return fmt.Errorf("output %s cannot be a directory", p)
		}
	}
	return nil
}

// buildConfig turns the flags into a configuration. inputs holds the file
// options for each -f, in order.
func (o *measureOptions) buildConfig(inputs []vqmt.FileOptions) (*vqmt.Config,
	error) {
	var preset map[string]any
	if o.preset != "" {
		var err error
		if preset, err = loadPreset(o.preset); err != nil {
			return nil, err
		}
	}

	cfg := vqmt.NewConfig(preset)
	if o.geometry {
		cfg.Geometry = &vqmt.GeometryOptions{Enabled: true}
	}
	if o.threads > 0 {
		cfg.Performance = &vqmt.PerformanceOptions{ThreadsNumber: o.threads}
	}
	if o.visDir != "" {
		cfg.Visualization = &vqmt.VisualizationOptions{Enabled: true,
			OutputDirectory: o.visDir}
	}

	for _, m := range o.metrics {
		opts := m.opts
		if opts.Variation == "" {
			opts.Device = o.device
		}
		if err := cfg.AddMetric(m.name, opts); err != nil {
			return nil, err
		}
	}
	for i, path := range o.files {
		fileOpts := o.rng.fileOptions()
		if i < len(inputs) {
			fileOpts = inputs[i]
		}
		if err := cfg.AddFile(path, fileOpts); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runMeasure(ctx context.Context, root *rootOptions,
	opts *measureOptions) error {
	log := logrus.FieldLogger(root.log)

	var (
		decs   decoders
		inputs []vqmt.FileOptions
	)
	if opts.decode {
		decs = decoders{}
		for _, path := range opts.files {
			d, err := openDecoder(path, &opts.rng, log)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			decs[path] = d
			inputs = append(inputs, d.fileOptions())
		}
		for _, m := range opts.metrics {
			if c := m.opts.Component; c != "" && c != "Y" {
				log.WithField("metric", m.name).Warnf("decode mode feeds luma "+
					"only, component %s will not be measured", c)
			}
		}
	}

	cfg, err := opts.buildConfig(inputs)
	if err != nil {
		return err
	}
	if opts.saveCfg != "" {
		if err := cfg.WriteFile(opts.saveCfg); err != nil {
			return err
		}
	}

	engine, err := root.openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	invokeOpts := []vqmt.InvokeOption{vqmt.WithEventObserver(func(ev vqmt.Event) {
		log.WithField("event", ev.Type).Debug(ev.Raw.String())
	})}
	if opts.values {
		invokeOpts = append(invokeOpts, vqmt.WithValueObserver(
			func(handle, frame, column int, value float64) {
				log.WithFields(logrus.Fields{
					"frame": frame, "column": column,
				}).Debugf("%.6f", value)
			}))
	}

	job, err := engine.Invoke(cfg, invokeOpts...)
	if err != nil {
		return err
	}
	defer job.Close()
	if !job.Valid() {
		return job.InitError()
	}
	log = log.WithField("job", job.ID())

	if decs != nil {
		for _, d := range decs {
			d.prefetch(ctx)
		}
		if err := job.SetInputCallback(decs.inputFunc(engine)); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"metrics": cfg.NumMetrics(), "files": cfg.NumFiles(),
	}).Info("measuring")

	var status vqmt.ExitStatus
	if opts.async {
		status, err = runAsync(ctx, job, log)
	} else {
		status, err = job.StartContext(ctx)
	}
	if err != nil {
		return err
	}
	log.WithField("status", status).Info("measurement finished")

	if info, err := job.GeneralizedInfo(); err == nil {
		log.Debug(info.String())
	}
	if !job.Reached(vqmt.MilestoneMeasureComplete) {
		return fmt.Errorf("measurement %s: %s", status, engine.LastError())
	}

	result, err := export.FromJob(job, status)
	if err != nil {
		return err
	}
	printSummary(os.Stderr, result.Columns, result.Scores())

	if opts.jsonOut != "" {
		if err := export.WriteJSON(opts.jsonOut, result); err != nil {
			return fmt.Errorf("save %s: %w", opts.jsonOut, err)
		}
		log.Infof("Per-frame scores saved to %s", opts.jsonOut)
	}
	if opts.sqlite != "" {
		if err := saveSQLite(context.WithoutCancel(ctx), opts.sqlite, result,
			log); err != nil {
			return err
		}
	}

	if status.IsFailure() {
		return fmt.Errorf("measurement %s", status)
	}
	return nil
}

// runAsync starts the job in the background and logs each milestone. An
// interrupt cancels the job once it may be cancelled.
func runAsync(ctx context.Context, job *vqmt.Job,
	log logrus.FieldLogger) (vqmt.ExitStatus, error) {
	if err := job.StartInBackground(); err != nil {
		return vqmt.ExitStatusFailed, err
	}

	steps := []struct {
		m    vqmt.Milestone
		wait func(context.Context) error
	}{
		{vqmt.MilestonePrepareStart, job.WaitPrepareStart},
		{vqmt.MilestonePrepareComplete, job.WaitPrepareComplete},
		{vqmt.MilestoneMeasureComplete, job.WaitMeasureComplete},
	}
	for _, s := range steps {
		err := s.wait(ctx)
		switch {
		case err == nil:
			log.WithField("state", job.State()).Info(s.m.String())
			if s.m == vqmt.MilestonePrepareComplete {
				logColumns(job, log)
			}
			continue
		case errors.Is(err, vqmt.ErrMilestoneNotReached):
			log.WithField("milestone", s.m).Warn("skipped")
			continue
		}

		// Interrupted. Cancel is only allowed after PrepareComplete.
		log.WithError(err).Warn("interrupted, cancelling")
		if err := job.WaitPrepareComplete(context.Background()); err == nil {
			job.Cancel()
		}
		break
	}
	return job.Wait(context.Background())
}

func logColumns(job *vqmt.Job, log logrus.FieldLogger) {
	columns, err := job.Columns()
	if err != nil {
		log.WithError(err).Warn("columns unavailable")
		return
	}
	log.WithField("columns", strings.Join(export.ColumnNames(columns),
		",")).Info("columns")
}

func saveSQLite(ctx context.Context, path string, r *export.Result,
	log logrus.FieldLogger) error {
	store, err := export.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Save(ctx, r)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	log.WithField("run", id).Infof("Per-frame scores saved to %s", path)
	return nil
}
