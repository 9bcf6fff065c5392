package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/spf13/cobra"
)

// catalogs are the engine queries "vqmt info" can print.
var catalogs = map[string]func(*vqmt.Engine) ([]vqmt.Document, error){
	"picture-types": (*vqmt.Engine).PictureTypes,
	"colorspaces":   (*vqmt.Engine).Colorspaces,
	"devices":       (*vqmt.Engine).Devices,
	"metrics":       (*vqmt.Engine).Metrics,
}

func catalogNames() []string {
	names := []string{"version", "activation"}
	for name := range catalogs {
		names = append(names, name)
	}
	sort.Strings(names[2:])
	return names
}

func newInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "info [" + strings.Join(catalogNames(), "|") + "]",
		Short:     "Print engine version and catalogs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: catalogNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			what := "version"
			if len(args) == 1 {
				what = args[0]
			}

			engine, err := opts.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return printInfo(cmd.OutOrStdout(), engine, what)
		},
	}
}

func printInfo(w io.Writer, engine *vqmt.Engine, what string) error {
	switch what {
	case "version":
		doc, err := engine.Version()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, doc)
		return nil
	case "activation":
		fmt.Fprintf(w, "activated: %t\n", engine.IsActivated())
		return nil
	}

	list, ok := catalogs[what]
	if !ok {
		return fmt.Errorf("unknown catalog %q, want one of %s", what,
			strings.Join(catalogNames(), ", "))
	}
	docs, err := list(engine)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintln(w, string(d.Raw()))
	}
	return nil
}

func newActivateCommand(opts *rootOptions) *cobra.Command {
	var (
		premium bool
		email   string
		oldPass string
		newPass string
	)

	cmd := &cobra.Command{
		Use:   "activate CODE",
		Short: "Activate a Pro or Premium license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var ok bool
			switch {
			case premium:
				ok = engine.ActivatePremium(args[0])
			case email != "":
				ok = engine.ActivateProAdvanced(args[0], email, oldPass, newPass)
			default:
				ok = engine.ActivatePro(args[0])
			}
			if !ok {
				return fmt.Errorf("activation failed: %s", engine.LastError())
			}
			opts.log.Info("license activated")
			return nil
		},
	}

	cmd.Flags().BoolVar(&premium, "premium", false, "activate a Premium license")
	cmd.Flags().StringVar(&email, "email", "",
		"move a Pro license registered to this email")
	cmd.Flags().StringVar(&oldPass, "old-password", "",
		"password of the existing registration")
	cmd.Flags().StringVar(&newPass, "new-password", "",
		"password for the new registration")
	return cmd
}
