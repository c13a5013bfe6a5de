// Package cmyk converts rendered documents and embedded bitmaps between RGB
// and CMYK through a fallback chain of external color tools.
package cmyk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/profiles"
	"github.com/flanksource/prepress/tools"
)

var log = logger.GetLogger("cmyk")

type Options struct {
	// ScratchDir holds intermediate files, defaults to os.TempDir().
	ScratchDir string
	// DestinationProfile is used when a request names no ICC profile.
	DestinationProfile string
	// SourceProfile is the RGB working space of rendered documents.
	SourceProfile string
	// Quality is used when a request leaves it at zero.
	Quality int
	// ImageQuality is the JPEG quality of CMYK bitmaps re-encoded as sRGB.
	ImageQuality int
	// AllowGhostscript enables the last PDF fallback. Ghostscript can shift
	// colors of already-CMYK content.
	AllowGhostscript bool
}

func DefaultOptions() Options {
	return Options{
		DestinationProfile: profiles.JapanColor2001Coated,
		SourceProfile:      profiles.SRGB,
		Quality:            95,
		ImageQuality:       98,
		AllowGhostscript:   true,
	}
}

// Engine owns the strategy chains. The tool snapshot and profile registry
// are injected and only read.
type Engine struct {
	tools    tools.Snapshot
	profiles *profiles.Registry
	runner   exec.Runner
	opts     Options
}

func NewEngine(snapshot tools.Snapshot, registry *profiles.Registry, runner exec.Runner, opts Options) *Engine {
	def := DefaultOptions()
	if opts.DestinationProfile == "" {
		opts.DestinationProfile = def.DestinationProfile
	}
	if opts.SourceProfile == "" {
		opts.SourceProfile = def.SourceProfile
	}
	if opts.Quality == 0 {
		opts.Quality = def.Quality
	}
	if opts.ImageQuality == 0 {
		opts.ImageQuality = def.ImageQuality
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Engine{tools: snapshot, profiles: registry, runner: runner, opts: opts}
}

func (e *Engine) Tools() tools.Snapshot {
	return e.tools
}

func (e *Engine) Options() Options {
	return e.opts
}

// PDFChain is the ordered list of document strategies.
func (e *Engine) PDFChain() Chain {
	chain := Chain{&magickHighQuality{e}, &magickBasic{e}}
	if e.opts.AllowGhostscript {
		chain = append(chain, &ghostscriptBasic{e})
	}
	return chain
}

// ConvertPDF converts a rendered document to CMYK. Only input errors are
// returned as errors; they are raised before any tool is spawned. Tool
// failures are reported in the result.
func (e *Engine) ConvertPDF(ctx context.Context, req api.ConversionRequest) (api.ConversionResult, error) {
	if err := req.Validate(); err != nil {
		return api.Failed("", err), err
	}
	req = e.withDefaults(req)
	if err := os.MkdirAll(filepath.Dir(req.DestinationPath), 0o755); err != nil {
		err = api.Wrap(api.KindInvalidInput, "cmyk.ConvertPDF", "destination directory not writable", err)
		return api.Failed("", err), err
	}

	log.Infof("converting %s to CMYK (%s, %d dpi)", filepath.Base(req.SourcePath), req.ICCProfile, req.TargetDPI)
	return e.PDFChain().Run(ctx, req), nil
}

func (e *Engine) withDefaults(req api.ConversionRequest) api.ConversionRequest {
	if req.ICCProfile == "" {
		req.ICCProfile = e.opts.DestinationProfile
	}
	if req.Quality == 0 {
		req.Quality = e.opts.Quality
	}
	if req.RenderingIntent == "" {
		req.RenderingIntent = api.IntentPerceptual
	}
	return req
}

// destinationProfile resolves the CMYK profile of req, "" when absent.
func (e *Engine) destinationProfile(req api.ConversionRequest) string {
	if e.profiles == nil {
		return ""
	}
	return e.profiles.Resolve(req.ICCProfile)
}

func (e *Engine) sourceProfile() string {
	if e.profiles == nil {
		return ""
	}
	return e.profiles.Resolve(e.opts.SourceProfile)
}

func (e *Engine) run(ctx context.Context, t tools.Tool, args ...string) exec.Result {
	name, full := e.tools.Invocation(t, args...)
	return e.runner.Run(ctx, name, full...)
}

var scratchSeq atomic.Int64

// scratchPath names an intermediate file <prefix>_<role>_<timestamp>.<ext>.
// A sequence number keeps concurrent calls within the same millisecond apart.
func (e *Engine) scratchPath(prefix, role, ext string) string {
	ts := fmt.Sprintf("%d%03d", time.Now().UnixMilli(), scratchSeq.Add(1)%1000)
	return filepath.Join(e.opts.ScratchDir, fmt.Sprintf("%s_%s_%s.%s", prefix, role, ts, strings.TrimPrefix(ext, ".")))
}

func removeQuietly(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Debugf("failed to remove %s: %v", p, err)
		}
	}
}

// checkOutput guards against tools that exit 0 without writing anything.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output produced: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", filepath.Base(path))
	}
	return nil
}

// moveFile renames src onto dst, copying when they live on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
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
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func toolFailure(method string, res exec.Result) api.ConversionResult {
	kind := api.KindToolInvocationFailure
	if res.NotFound {
		kind = api.KindConfigurationMissing
	}
	return api.Failed(method, api.Wrap(kind, method, "tool invocation failed", res.Error()))
}
