// Package pipeline sequences an export task: image pre-processing, SVG
// rendering, CMYK conversion and validation of every region, followed by
// the aggregate report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/preprocess"
	"github.com/flanksource/prepress/render"
)

var log = logger.GetLogger("pipeline")

// Step names recorded in RegionReport.Steps.
const (
	StepStage          = "stage"
	StepInspect        = "inspect"
	StepRender         = "render"
	StepConvert        = "convert"
	StepValidateColor  = "validate-color"
	StepValidateVector = "validate-vector"
	StepCompare        = "compare"
)

// ReportFile is written into every task directory.
const ReportFile = "report.json"

type Converter interface {
	ConvertPDF(ctx context.Context, req api.ConversionRequest) (api.ConversionResult, error)
}

type Validator interface {
	ValidateColorSpace(ctx context.Context, path string) api.WeightedConsensus
	ValidateVectorIntegrity(ctx context.Context, path string) api.VectorIntegrityReport
	CompareColor(ctx context.Context, original, converted string) (api.ColorConsistency, error)
}

type Renderer interface {
	Render(ctx context.Context, svgPath, outputPath string, opts render.Options) (string, error)
}

type ImageProcessor interface {
	ProcessFile(ctx context.Context, path string, opts preprocess.Options) (bool, error)
}

type Options struct {
	// DefaultDPI applies when the request carries no detected DPI.
	DefaultDPI   int
	CompareColor bool
	PreviewSize  int
	Preprocess   preprocess.Options
	// SkipReport disables writing report.json.
	SkipReport bool
}

func DefaultOptions() Options {
	return Options{
		DefaultDPI:  72,
		PreviewSize: render.DefaultPreviewSize,
		Preprocess:  preprocess.DefaultOptions(),
	}
}

type Orchestrator struct {
	converter Converter
	validator Validator
	renderer  Renderer
	images    ImageProcessor
	opts      Options
}

// New wires the stages. images may be nil when uploads are never
// pre-processed.
func New(converter Converter, validator Validator, renderer Renderer, images ImageProcessor, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.DefaultDPI <= 0 {
		opts.DefaultDPI = def.DefaultDPI
	}
	if opts.PreviewSize <= 0 {
		opts.PreviewSize = def.PreviewSize
	}
	if opts.Preprocess.MaxPixels <= 0 {
		opts.Preprocess = def.Preprocess
	}
	return &Orchestrator{converter: converter, validator: validator, renderer: renderer, images: images, opts: opts}
}

func (o *Orchestrator) Options() Options {
	return o.opts
}

// DPIFor resolves the density of a request.
func (o *Orchestrator) DPIFor(req api.ExportRequest) api.DPIInfo {
	if req.DetectedDPI > 0 {
		return api.DPIInfo{Detected: req.DetectedDPI, Used: req.DetectedDPI, Source: lo.CoalesceOrEmpty(req.SourceRegion, "detected")}
	}
	return api.DPIInfo{Used: o.opts.DefaultDPI, Source: "default"}
}

// Export runs every region of req in order. Region failures are recorded in
// the report, only a malformed request is returned as an error.
func (o *Orchestrator) Export(ctx context.Context, req api.ExportRequest) (*api.ExportReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		req.TaskID = api.NewTaskID()
	}
	if req.Type == "" {
		req.Type = lo.Ternary(len(req.Regions) == 1, api.ExportSingle, api.ExportMultiRegion)
	}
	if err := os.MkdirAll(req.ExportDir, 0o755); err != nil {
		return nil, api.Wrap(api.KindInvalidInput, "pipeline.Export", "cannot create export directory", err)
	}

	fctx := flanksourceContext.NewContext(ctx)
	fctx.Logger = logger.GetSlogLogger().Named("export." + req.TaskID)

	start := time.Now()
	report := &api.ExportReport{
		TaskID:      req.TaskID,
		ExportType:  req.Type,
		ExportDir:   req.ExportDir,
		ICCProfile:  req.ICCProfile,
		RegionCount: len(req.Regions),
		DPI:         o.DPIFor(req),
		CreatedAt:   start,
	}
	fctx.Logger.Infof("exporting %d region(s) at %d DPI (%s)", len(req.Regions), report.DPI.Used, report.DPI.Source)

	report.Images = o.preprocessImages(fctx, req)

	for _, region := range req.Regions {
		report.Regions = append(report.Regions, o.exportRegion(fctx, req, region, report.DPI.Used))
	}

	o.writePreview(fctx, req)
	Aggregate(report)
	report.Duration = time.Since(start)

	if !o.opts.SkipReport {
		if err := WriteReport(filepath.Join(req.ExportDir, ReportFile), report); err != nil {
			fctx.Logger.Warnf("could not write report: %v", err)
		}
	}
	fctx.Logger.Infof("%s", report)
	return report, nil
}

// Aggregate computes the task-level flags from the region reports.
func Aggregate(report *api.ExportReport) {
	converted := lo.Filter(report.Regions, func(r api.RegionReport, _ int) bool {
		return r.Conversion != nil && r.Conversion.Success
	})
	report.SuccessfulRegions = lo.CountBy(report.Regions, func(r api.RegionReport) bool { return r.Success })
	report.UsedCMYK = lo.SomeBy(converted, func(r api.RegionReport) bool { return r.Conversion.UsedCMYK })
	report.UsedICC = lo.SomeBy(converted, func(r api.RegionReport) bool { return r.Conversion.UsedICC })
	report.ConversionMethods = lo.Uniq(lo.Map(converted, func(r api.RegionReport, _ int) string { return r.Conversion.Method }))
	report.AllVector = len(report.Regions) > 0 && lo.EveryBy(report.Regions, func(r api.RegionReport) bool {
		return r.Vector != nil && r.Vector.IsVector
	})
}

// regionPaths lays out a single export flat in the task directory and each
// region of a multi-region export in its own subdirectory.
func regionPaths(req api.ExportRequest, region api.Region) (dir, svg, pdf, cmykPDF, data string) {
	if req.Type == api.ExportSingle {
		dir = req.ExportDir
		return dir, filepath.Join(dir, "design.svg"), filepath.Join(dir, "final.pdf"),
			filepath.Join(dir, "final-cmyk.pdf"), filepath.Join(dir, "data.json")
	}
	dir = filepath.Join(req.ExportDir, region.ID)
	return dir, filepath.Join(dir, region.ID+".svg"), filepath.Join(dir, region.ID+".pdf"),
		filepath.Join(dir, region.ID+"-cmyk.pdf"), filepath.Join(dir, region.ID+".json")
}

func (o *Orchestrator) exportRegion(ctx flanksourceContext.Context, req api.ExportRequest, region api.Region, dpi int) api.RegionReport {
	r := api.RegionReport{RegionID: region.ID}
	dir, svgPath, pdfPath, cmykPath, dataPath := regionPaths(req, region)

	step := func(name string, fn func() error) error {
		t := time.Now()
		err := fn()
		timing := api.StepTiming{Step: name, Duration: time.Since(t)}
		if err != nil {
			timing.Error = err.Error()
		}
		r.Steps = append(r.Steps, timing)
		return err
	}
	fail := func(err error) api.RegionReport {
		r.Error = err.Error()
		ctx.Logger.Warnf("region %s failed: %v", region.ID, err)
		return r
	}

	if err := step(StepStage, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := copyFile(region.SVGPath, svgPath); err != nil {
			return api.Wrap(api.KindInvalidInput, "pipeline.stage", "region SVG is not readable", err)
		}
		if region.JSONPath != "" {
			if err := copyFile(region.JSONPath, dataPath); err != nil {
				ctx.Logger.Warnf("could not copy editor state of %s: %v", region.ID, err)
			}
		}
		return nil
	}); err != nil {
		return fail(err)
	}
	r.SVG = svgPath

	_ = step(StepInspect, func() error {
		stats, err := render.Inspect(svgPath)
		if err != nil {
			return err
		}
		r.Source = &stats
		return nil
	})

	if err := step(StepRender, func() error {
		name, err := o.renderer.Render(ctx, svgPath, pdfPath, render.Options{
			Format:     "pdf",
			AreaMode:   render.AreaDrawing,
			DPI:        dpi,
			PDFVersion: "1.4",
		})
		r.Renderer = name
		return err
	}); err != nil {
		return fail(fmt.Errorf("SVG to PDF conversion failed: %w", err))
	}
	r.PDF = pdfPath

	var conversion api.ConversionResult
	if err := step(StepConvert, func() error {
		var err error
		conversion, err = o.converter.ConvertPDF(ctx, api.ConversionRequest{
			SourcePath:      pdfPath,
			DestinationPath: cmykPath,
			ICCProfile:      req.ICCProfile,
			TargetDPI:       dpi,
		})
		if err != nil {
			return err
		}
		if !conversion.Success {
			return fmt.Errorf("%s", conversion.Error)
		}
		return nil
	}); err != nil {
		if conversion.Error == "" {
			conversion = api.Failed("", err)
		}
		r.Conversion = &conversion
		return fail(err)
	}
	r.Conversion = &conversion
	r.CMYKPDF = cmykPath
	r.Success = true

	_ = step(StepValidateColor, func() error {
		c := o.validator.ValidateColorSpace(ctx, cmykPath)
		r.ColorSpace = &c
		if !c.Success {
			return fmt.Errorf("%s", c.Error)
		}
		return nil
	})
	_ = step(StepValidateVector, func() error {
		v := o.validator.ValidateVectorIntegrity(ctx, cmykPath)
		r.Vector = &v
		return nil
	})
	if o.opts.CompareColor {
		_ = step(StepCompare, func() error {
			c, err := o.validator.CompareColor(ctx, pdfPath, cmykPath)
			if err != nil {
				return err
			}
			r.Consistency = &c
			return nil
		})
	}

	ctx.Logger.Infof("region %s: %s via %s", region.ID, lo.Ternary(conversion.UsedCMYK, "CMYK", "RGB"), conversion.Method)
	return r
}

// preprocessImages normalizes the shared images in place and copies them
// into the task's images directory.
func (o *Orchestrator) preprocessImages(ctx flanksourceContext.Context, req api.ExportRequest) []api.ImageReport {
	if len(req.Images) == 0 {
		return nil
	}
	opts := o.opts.Preprocess
	opts.PreserveForPrint = req.PreserveForPrint
	dir := filepath.Join(req.ExportDir, "images")

	reports := make([]api.ImageReport, 0, len(req.Images))
	for _, path := range req.Images {
		ir := api.ImageReport{Path: filepath.Join(dir, filepath.Base(path))}
		if o.images != nil {
			changed, err := o.images.ProcessFile(ctx, path, opts)
			ir.Processed = changed
			if err != nil {
				ir.Error = err.Error()
				ctx.Logger.Warnf("pre-processing %s: %v", filepath.Base(path), err)
			}
		}
		if err := os.MkdirAll(dir, 0o755); err == nil {
			if err := copyFile(path, ir.Path); err != nil && ir.Error == "" {
				ir.Error = err.Error()
			}
		}
		reports = append(reports, ir)
	}
	return reports
}

// writePreview keeps the client's preview when one was uploaded and
// rasterizes the first region otherwise.
func (o *Orchestrator) writePreview(ctx flanksourceContext.Context, req api.ExportRequest) {
	target := filepath.Join(req.ExportDir, "preview.png")
	if req.Preview != "" {
		if err := copyFile(req.Preview, target); err != nil {
			ctx.Logger.Warnf("could not copy preview: %v", err)
		}
		return
	}
	if err := render.WritePreview(req.Regions[0].SVGPath, target, o.opts.PreviewSize); err != nil {
		ctx.Logger.Debugf("no preview rendered: %v", err)
	}
}

// WriteReport stores the report as indented JSON.
func WriteReport(path string, report *api.ExportReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*api.ExportReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report api.ExportReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &report, nil
}

func copyFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if abs, err := filepath.Abs(src); err == nil {
		if absDst, err := filepath.Abs(dst); err == nil && abs == absDst {
			return nil
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
