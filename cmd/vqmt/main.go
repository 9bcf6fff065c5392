// Command vqmt measures video quality with the MSU VQMT engine.
package main

import (
	"fmt"
	"os"
	"strings"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	lib      string
	version  string
	logLevel string

	log *logrus.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{log: logrus.New()}

	cmd := &cobra.Command{
		Use:          "vqmt",
		Short:        "Measure video quality with MSU VQMT",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.log.SetLevel(level)
			opts.log.SetOutput(os.Stderr)
			opts.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.lib, "lib", "",
		"path to libvqmt.so or its install directory (default "+
			vqmt.DefaultLibraryPath+")")
	cmd.PersistentFlags().StringVar(&opts.version, "require-version", "",
		"fail unless the engine version starts with this, e.g. 14.1")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "loglevel", "info",
		"log level: error, warn, info, debug")

	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newActivateCommand(opts))
	cmd.AddCommand(newMeasureCommand(opts))
	return cmd
}

func parseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return logrus.ErrorLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q", s)
	}
}

// openEngine loads the library named by --lib, falling back to the default
// install location.
func (o *rootOptions) openEngine() (*vqmt.Engine, error) {
	logOpt := vqmt.WithLogger(o.log)
	if o.lib == "" {
		return vqmt.Find(o.version, logOpt)
	}

	var (
		e   *vqmt.Engine
		err error
	)
	if info, statErr := os.Stat(o.lib); statErr == nil && info.IsDir() {
		e, err = vqmt.LoadDir(o.lib, logOpt)
	} else {
		e, err = vqmt.Load(o.lib, logOpt)
	}
	if err != nil {
		return nil, err
	}
	if err := e.RequireVersion(o.version); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
