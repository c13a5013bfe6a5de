package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/config"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/preprocess"
	"github.com/flanksource/prepress/render"
)

type fakeRenderer struct {
	fail map[string]bool
}

func (f fakeRenderer) Render(_ context.Context, svgPath, out string, opts render.Options) (string, error) {
	if f.fail[filepath.Base(svgPath)] {
		return "", errors.New("inkscape exited 1")
	}
	if opts.DPI <= 0 {
		return "", errors.New("dpi not set")
	}
	return "inkscape", os.WriteFile(out, []byte("%PDF-1.4 rgb"), 0o644)
}

type fakeConverter struct {
	mu       sync.Mutex
	requests []api.ConversionRequest
	method   string
}

func (f *fakeConverter) ConvertPDF(_ context.Context, req api.ConversionRequest) (api.ConversionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := os.WriteFile(req.DestinationPath, []byte("%PDF-1.4 cmyk"), 0o644); err != nil {
		return api.ConversionResult{}, err
	}
	return api.ConversionResult{Success: true, UsedCMYK: true, UsedICC: true, Method: f.method}, nil
}

type fakeValidator struct {
	vector bool
}

func (f fakeValidator) ValidateColorSpace(context.Context, string) api.WeightedConsensus {
	return api.WeightedConsensus{Success: true, ColorSpace: api.ColorSpaceCMYK, Confidence: 1}
}

func (f fakeValidator) ValidateVectorIntegrity(context.Context, string) api.VectorIntegrityReport {
	return api.VectorIntegrityReport{IsVector: f.vector, HasText: f.vector}
}

func (f fakeValidator) CompareColor(context.Context, string, string) (api.ColorConsistency, error) {
	rmse := 0.01
	return api.ColorConsistency{RMSE: &rmse, Acceptable: true}, nil
}

type fakeImages struct{}

func (fakeImages) ProcessFile(_ context.Context, path string, opts preprocess.Options) (bool, error) {
	if strings.HasSuffix(path, ".bad") {
		return false, errors.New("unsupported image")
	}
	return opts.PreserveForPrint, nil
}

func stageSVG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, render.TestCard(), 0o644))
	return path
}

func TestExportSingle(t *testing.T) {
	uploads := t.TempDir()
	exportDir := filepath.Join(t.TempDir(), "task")
	jsonPath := filepath.Join(uploads, "state.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"objects":[]}`), 0o644))

	conv := &fakeConverter{method: "imagemagick"}
	o := New(conv, fakeValidator{vector: true}, fakeRenderer{}, nil, Options{})
	report, err := o.Export(context.Background(), api.ExportRequest{
		ExportDir:  exportDir,
		ICCProfile: "JapanColor2001Coated",
		Regions:    []api.Region{{ID: "main", SVGPath: stageSVG(t, uploads, "upload.svg"), JSONPath: jsonPath}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report.TaskID, "export-task-"))
	assert.Equal(t, api.ExportSingle, report.ExportType)
	assert.Equal(t, 1, report.SuccessfulRegions)
	assert.True(t, report.UsedCMYK)
	assert.True(t, report.UsedICC)
	assert.True(t, report.AllVector)
	assert.Equal(t, []string{"imagemagick"}, report.ConversionMethods)
	assert.Equal(t, api.DPIInfo{Used: 72, Source: "default"}, report.DPI)

	for _, name := range []string{"design.svg", "data.json", "final.pdf", "final-cmyk.pdf", "preview.png", ReportFile} {
		assert.FileExists(t, filepath.Join(exportDir, name))
	}

	region := report.Regions[0]
	assert.Equal(t, "inkscape", region.Renderer)
	assert.Equal(t, filepath.Join(exportDir, "final-cmyk.pdf"), region.CMYKPDF)
	require.NotNil(t, region.Source)
	assert.Positive(t, region.Source.Elements)
	steps := make([]string, 0, len(region.Steps))
	for _, s := range region.Steps {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{StepStage, StepInspect, StepRender, StepConvert, StepValidateColor, StepValidateVector}, steps)

	require.Len(t, conv.requests, 1)
	assert.Equal(t, 72, conv.requests[0].TargetDPI)
	assert.Equal(t, "JapanColor2001Coated", conv.requests[0].ICCProfile)

	saved, err := ReadReport(filepath.Join(exportDir, ReportFile))
	require.NoError(t, err)
	assert.Equal(t, report.TaskID, saved.TaskID)
	assert.Equal(t, 1, saved.SuccessfulRegions)
}

func TestExportMultiRegionIsolatesFailures(t *testing.T) {
	uploads := t.TempDir()
	exportDir := t.TempDir()
	conv := &fakeConverter{method: "jpgicc"}
	o := New(conv, fakeValidator{vector: true}, fakeRenderer{fail: map[string]bool{"back.svg": true}}, nil, Options{CompareColor: true})

	report, err := o.Export(context.Background(), api.ExportRequest{
		TaskID:       "task-1",
		ExportDir:    exportDir,
		DetectedDPI:  300,
		SourceRegion: "front",
		Regions: []api.Region{
			{ID: "front", SVGPath: stageSVG(t, uploads, "front-upload.svg")},
			{ID: "back", SVGPath: stageSVG(t, uploads, "back-upload.svg")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, api.ExportMultiRegion, report.ExportType)
	assert.Equal(t, 2, report.RegionCount)
	assert.Equal(t, 1, report.SuccessfulRegions)
	assert.False(t, report.AllVector, "a failed region is never vector")
	assert.Equal(t, api.DPIInfo{Detected: 300, Used: 300, Source: "front"}, report.DPI)

	front, back := report.Regions[0], report.Regions[1]
	assert.True(t, front.Success)
	assert.FileExists(t, filepath.Join(exportDir, "front", "front.pdf"))
	assert.FileExists(t, filepath.Join(exportDir, "front", "front-cmyk.pdf"))
	require.NotNil(t, front.Consistency)
	assert.True(t, front.Consistency.Acceptable)

	assert.False(t, back.Success)
	assert.Contains(t, back.Error, "SVG to PDF conversion failed")
	assert.NoFileExists(t, filepath.Join(exportDir, "back", "back-cmyk.pdf"))
	assert.Nil(t, back.Conversion)

	require.Len(t, conv.requests, 1)
	assert.Equal(t, 300, conv.requests[0].TargetDPI)
}

func TestExportRejectsBadRequest(t *testing.T) {
	o := New(&fakeConverter{}, fakeValidator{}, fakeRenderer{}, nil, Options{})
	_, err := o.Export(context.Background(), api.ExportRequest{ExportDir: t.TempDir()})
	assert.True(t, api.IsKind(err, api.KindInvalidInput))

	_, err = o.Export(context.Background(), api.ExportRequest{
		ExportDir: t.TempDir(),
		Regions:   []api.Region{{ID: "a", SVGPath: "x.svg"}, {ID: "a", SVGPath: "y.svg"}},
	})
	assert.True(t, api.IsKind(err, api.KindInvalidInput))
}

func TestExportMissingSVG(t *testing.T) {
	o := New(&fakeConverter{}, fakeValidator{}, fakeRenderer{}, nil, Options{SkipReport: true})
	exportDir := t.TempDir()
	report, err := o.Export(context.Background(), api.ExportRequest{
		ExportDir: exportDir,
		Regions:   []api.Region{{ID: "main", SVGPath: filepath.Join(exportDir, "gone.svg")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.SuccessfulRegions)
	assert.Contains(t, report.Regions[0].Error, "InvalidInput")
	assert.NoFileExists(t, filepath.Join(exportDir, ReportFile))
}

func TestExportImages(t *testing.T) {
	uploads := t.TempDir()
	exportDir := t.TempDir()
	good := filepath.Join(uploads, "photo.jpg")
	bad := filepath.Join(uploads, "scan.bad")
	require.NoError(t, os.WriteFile(good, []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("???"), 0o644))

	o := New(&fakeConverter{method: "imagemagick"}, fakeValidator{}, fakeRenderer{}, fakeImages{}, Options{})
	report, err := o.Export(context.Background(), api.ExportRequest{
		ExportDir:        exportDir,
		PreserveForPrint: true,
		Images:           []string{good, bad},
		Regions:          []api.Region{{ID: "main", SVGPath: stageSVG(t, uploads, "d.svg")}},
	})
	require.NoError(t, err)
	require.Len(t, report.Images, 2)
	assert.True(t, report.Images[0].Processed)
	assert.Empty(t, report.Images[0].Error)
	assert.FileExists(t, filepath.Join(exportDir, "images", "photo.jpg"))
	assert.Equal(t, "unsupported image", report.Images[1].Error)
	assert.FileExists(t, filepath.Join(exportDir, "images", "scan.bad"))
}

func TestAggregate(t *testing.T) {
	report := &api.ExportReport{Regions: []api.RegionReport{
		{Success: true, Conversion: &api.ConversionResult{Success: true, UsedCMYK: true, Method: "jpgicc"}, Vector: &api.VectorIntegrityReport{IsVector: true}},
		{Success: true, Conversion: &api.ConversionResult{Success: true, UsedCMYK: true, UsedICC: true, Method: "jpgicc"}, Vector: &api.VectorIntegrityReport{IsVector: true}},
		{Success: true, Conversion: &api.ConversionResult{Success: true, Method: "ghostscript"}, Vector: &api.VectorIntegrityReport{IsVector: false}},
	}}
	Aggregate(report)
	assert.Equal(t, 3, report.SuccessfulRegions)
	assert.True(t, report.UsedCMYK)
	assert.True(t, report.UsedICC)
	assert.False(t, report.AllVector)
	assert.Equal(t, []string{"jpgicc", "ghostscript"}, report.ConversionMethods)

	empty := &api.ExportReport{}
	Aggregate(empty)
	assert.False(t, empty.AllVector)
	assert.Empty(t, empty.ConversionMethods)
}

func TestServicesWithoutTools(t *testing.T) {
	cfg := config.Default()
	cfg.ProfilesDir = t.TempDir()
	s, err := NewServices(context.Background(), cfg, exec.NewFakeRunner())
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.Tools().AvailableNames())
	assert.False(t, s.Profiles.Check().Available)

	uploads := t.TempDir()
	report, err := s.Orchestrator().Export(context.Background(), api.ExportRequest{
		ExportDir: t.TempDir(),
		Regions:   []api.Region{{ID: "main", SVGPath: stageSVG(t, uploads, "d.svg")}},
	})
	require.NoError(t, err)
	assert.False(t, report.Regions[0].Success)
	assert.Contains(t, report.Regions[0].Error, "ConfigurationMissing")

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s.Orchestrator())
}

func TestDoctorWithoutTools(t *testing.T) {
	cfg := config.Default()
	cfg.ProfilesDir = t.TempDir()
	cfg.ScratchDir = t.TempDir()
	s, err := NewServices(context.Background(), cfg, exec.NewFakeRunner())
	require.NoError(t, err)

	report := s.Doctor(context.Background())
	assert.False(t, report.Healthy())
	assert.Len(t, report.Tools, 12)
	require.NotNil(t, report.Export)

	byName := map[string]Check{}
	for _, c := range report.Checks {
		byName[c.Name] = c
	}
	assert.False(t, byName["destination profile"].OK)
	assert.Equal(t, "install inkscape or rsvg-convert", byName["svg renderer"].Message)
	assert.False(t, byName["test export"].OK)
	assert.Contains(t, byName["test export"].Message, "SVG to PDF conversion failed")

	entries, err := os.ReadDir(cfg.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the scratch export is removed")
}

type countingCloser struct{ closed atomic.Int32 }

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return nil
}

func TestRetiredRendererWaitsForInflightExports(t *testing.T) {
	closer := &countingCloser{}
	g := &generation{closer: closer}

	g.inflight.Add(1)
	done := g.retire()
	select {
	case <-done:
		t.Fatal("renderer closed while an export still holds it")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, closer.closed.Load())

	g.inflight.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renderer was never closed")
	}
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestRefreshKeepsLeasedOrchestrator(t *testing.T) {
	cfg := config.Default()
	cfg.ProfilesDir = t.TempDir()
	s, err := NewServices(context.Background(), cfg, exec.NewFakeRunner())
	require.NoError(t, err)
	defer s.Close()

	closer := &countingCloser{}
	s.current.closer = closer
	leased, release := s.lease()

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, leased, s.Orchestrator())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, closer.closed.Load(), "renderer closed under a running export")

	release()
	assert.Eventually(t, func() bool { return closer.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}
