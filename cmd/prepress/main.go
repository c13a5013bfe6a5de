package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/flanksource/prepress"
	"github.com/flanksource/prepress/config"
	"github.com/flanksource/prepress/pipeline"
	"github.com/flanksource/prepress/report"
	"github.com/flanksource/prepress/shutdown"
)

// Build information (set by goreleaser)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := shutdown.WithSignals(context.Background())
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	shutdown.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is shared by every command: the config is resolved once in the
// root's PersistentPreRunE and services are built on first use.
type app struct {
	flags    *prepress.AllFlags
	flagCfg  config.Config
	cfg      config.Config
	services *pipeline.Services
}

func (a *app) Services(cmd *cobra.Command) (*pipeline.Services, error) {
	if a.services != nil {
		return a.services, nil
	}
	s, err := pipeline.NewServices(cmd.Context(), a.cfg, nil)
	if err != nil {
		return nil, err
	}
	shutdown.AddHookWithPriority("renderer", shutdown.PriorityRenderer, func() { _ = s.Close() })
	a.services = s
	return s, nil
}

func (a *app) print(v any) error {
	return report.Write(os.Stdout, v, a.flags.Report)
}

func newRootCommand() *cobra.Command {
	a := &app{flagCfg: config.Default()}

	rootCmd := &cobra.Command{
		Use:   "prepress",
		Short: "Convert SVG designs into print-ready CMYK PDFs",
		Long: `prepress renders SVG designs to PDF, converts them to CMYK using ICC
profiles, and validates the result with several independent probes.

External tools (ImageMagick, jpgicc, exiftool, Ghostscript, Inkscape,
rsvg-convert) are detected at startup; run 'prepress doctor' to check the
installation.`,
		Example: `  prepress export design.svg --out exports/
  prepress convert final.pdf final-cmyk.pdf --target-dpi 300 --icc-profile JapanColor2001Coated
  prepress validate final-cmyk.pdf --format json
  prepress serve --exports-dir /srv/exports`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.flags.UseFlags()
			cfg, err := config.Load(a.flags.ConfigFile)
			if err != nil {
				return err
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	a.flags = prepress.BindAllFlags(rootCmd.PersistentFlags())
	a.flagCfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newConvertCommand(a),
		newValidateCommand(a),
		newPreprocessCommand(a),
		newExportCommand(a),
		newBatchCommand(a),
		newDoctorCommand(a),
		newToolsCommand(a),
		newProfilesCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("prepress %s (commit %s, built %s, %s/%s)\n", version, commit, date, runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return rootCmd
}
