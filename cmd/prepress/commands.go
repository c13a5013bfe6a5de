package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/config"
	"github.com/flanksource/prepress/server"
	"github.com/flanksource/prepress/shutdown"
)

func newConvertCommand(a *app) *cobra.Command {
	var intent string
	var dpi int
	cmd := &cobra.Command{
		Use:   "convert <source.pdf> <destination.pdf>",
		Short: "Convert a PDF to CMYK",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			ri, err := api.ParseIntent(intent)
			if err != nil {
				return err
			}
			res, err := s.Engine().ConvertPDF(cmd.Context(), api.ConversionRequest{
				SourcePath:      args[0],
				DestinationPath: args[1],
				ICCProfile:      a.cfg.Conversion.Profile,
				RenderingIntent: ri,
				Quality:         a.cfg.Conversion.Quality,
				TargetDPI:       dpi,
			})
			if err != nil {
				return err
			}
			if err := a.print(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("conversion failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "perceptual", "Rendering intent: perceptual, relative, saturation, absolute")
	cmd.Flags().IntVar(&dpi, "target-dpi", 0, "Rasterization density of the source document")
	_ = cmd.MarkFlagRequired("target-dpi")
	return cmd
}

type validation struct {
	Path        string                    `json:"path" yaml:"path"`
	ColorSpace  api.WeightedConsensus     `json:"colorSpace" yaml:"colorSpace"`
	Vector      api.VectorIntegrityReport `json:"vector" yaml:"vector"`
	Consistency *api.ColorConsistency     `json:"consistency,omitempty" yaml:"consistency,omitempty"`
}

func newValidateCommand(a *app) *cobra.Command {
	var original string
	cmd := &cobra.Command{
		Use:   "validate <document.pdf>...",
		Short: "Check the color space and vector integrity of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			v := s.Validator()
			var results []validation
			for _, path := range args {
				r := validation{
					Path:       path,
					ColorSpace: v.ValidateColorSpace(cmd.Context(), path),
					Vector:     v.ValidateVectorIntegrity(cmd.Context(), path),
				}
				if original != "" {
					cc, err := v.CompareColor(cmd.Context(), original, path)
					if err != nil {
						return err
					}
					r.Consistency = &cc
				}
				results = append(results, r)
			}
			if len(results) == 1 {
				return a.print(results[0])
			}
			return a.print(results)
		},
	}
	cmd.Flags().StringVar(&original, "original", "", "RGB document to measure the color difference against")
	return cmd
}

type processed struct {
	Path    string `json:"path" yaml:"path"`
	Changed bool   `json:"changed" yaml:"changed"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newPreprocessCommand(a *app) *cobra.Command {
	var forPrint bool
	cmd := &cobra.Command{
		Use:   "preprocess <image>...",
		Short: "Normalize images in place (orientation, size, CMYK to sRGB)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			opts := s.Orchestrator().Options().Preprocess
			opts.PreserveForPrint = forPrint
			var out []processed
			for _, path := range args {
				changed, err := s.Processor().ProcessFile(cmd.Context(), path, opts)
				p := processed{Path: path, Changed: changed}
				if err != nil {
					p.Error = err.Error()
				}
				out = append(out, p)
			}
			return a.print(out)
		},
	}
	cmd.Flags().BoolVar(&forPrint, "print", false, "Keep print resolution and CMYK data")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var req api.ExportRequest
	var requestFile, out string
	cmd := &cobra.Command{
		Use:   "export [design.svg]...",
		Short: "Render, convert and validate one or more SVG regions",
		Long: `Export renders every SVG to PDF, converts it to CMYK and validates the
result. A single SVG produces final.pdf and final-cmyk.pdf, several SVGs
produce one subdirectory per region named after the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestFile != "" {
				r, err := loadRequest(requestFile)
				if err != nil {
					return err
				}
				req = r
			}
			for _, svg := range args {
				id := strings.TrimSuffix(filepath.Base(svg), filepath.Ext(svg))
				req.Regions = append(req.Regions, api.Region{ID: id, SVGPath: svg})
			}
			if len(req.Regions) == 0 {
				return fmt.Errorf("no SVG given, pass files or --request")
			}
			if req.TaskID == "" {
				req.TaskID = api.NewTaskID()
			}
			if req.ExportDir == "" {
				req.ExportDir = filepath.Join(orDefault(out, a.cfg.ExportsDir), req.TaskID)
			}

			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			rep, err := s.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := a.print(rep); err != nil {
				return err
			}
			if rep.SuccessfulRegions < rep.RegionCount {
				return fmt.Errorf("%d of %d regions failed", rep.RegionCount-rep.SuccessfulRegions, rep.RegionCount)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&requestFile, "request", "", "YAML or JSON export request")
	f.StringVar(&out, "out", "", "Parent directory of the task directory (default: --exports-dir)")
	f.StringVar(&req.TaskID, "task-id", "", "Task identifier (default: generated)")
	f.StringVar(&req.ICCProfile, "profile", "", "ICC profile of this export (default: --icc-profile)")
	f.IntVar(&req.DetectedDPI, "detected-dpi", 0, "DPI detected by the editor")
	f.StringVar(&req.SourceRegion, "source-region", "", "Region the DPI was detected from")
	f.StringSliceVar(&req.Images, "image", nil, "Shared image to pre-process and bundle")
	f.StringVar(&req.Preview, "preview", "", "Preview PNG to keep instead of rendering one")
	f.BoolVar(&req.PreserveForPrint, "print", false, "Pre-process images for print fidelity")
	return cmd
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func newDoctorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ICC profiles and tools, then run a test export",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			rep := s.Doctor(cmd.Context())
			if err := a.print(rep); err != nil {
				return err
			}
			if !rep.Healthy() {
				return fmt.Errorf("setup is incomplete")
			}
			return nil
		},
	}
}

func newToolsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the external tools that were detected",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			return a.print(s.Tools().List())
		},
	}
}

func newProfilesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Report which ICC profiles are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			return a.print(s.Profiles.All())
		},
	}
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the export API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(a.cfg.ExportsDir, 0o755); err != nil {
				return err
			}
			srv := server.New(s)
			shutdown.AddHookWithPriority("http server", shutdown.PriorityServer, func() {
				_ = srv.Shutdown(cmd.Context())
			})
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.Default().Server.Addr, "Listen address")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(a.cfg.String())
		},
	}
}
