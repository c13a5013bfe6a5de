package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

type RendererOptions struct {
	// Playwright adds headless Chromium as the last converter.
	Playwright bool `json:"playwright,omitempty" yaml:"playwright,omitempty"`
	// InstallBrowsers lets Playwright download Chromium when missing.
	InstallBrowsers bool `json:"installBrowsers,omitempty" yaml:"installBrowsers,omitempty"`
	// Preferred moves the named converter to the front of the chain.
	Preferred string `json:"preferred,omitempty" yaml:"preferred,omitempty"`
}

// Renderer tries Inkscape, then rsvg-convert, then Playwright when enabled.
type Renderer struct {
	mu         sync.RWMutex
	converters []Converter
	preferred  string
}

func NewRenderer(snapshot tools.Snapshot, runner exec.Runner, opts RendererOptions) *Renderer {
	converters := []Converter{
		NewInkscapeConverter(snapshot, runner),
		NewRSVGConverter(snapshot, runner),
	}
	if opts.Playwright {
		converters = append(converters, NewPlaywrightConverter(opts.InstallBrowsers))
	}
	r := NewRendererWith(converters...)
	if opts.Preferred != "" {
		if err := r.SetPreferred(opts.Preferred); err != nil {
			log.Warnf("ignoring preferred renderer: %v", err)
		}
	}
	return r
}

// NewRendererWith keeps the available converters in the given order.
func NewRendererWith(converters ...Converter) *Renderer {
	r := &Renderer{}
	for _, c := range converters {
		if c.Available() {
			r.converters = append(r.converters, c)
		}
	}
	return r
}

func (r *Renderer) SetPreferred(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.converters {
		if c.Name() == name {
			r.preferred = name
			return nil
		}
	}
	return fmt.Errorf("converter '%s' not available", name)
}

// Converters lists the available converter names in trial order.
func (r *Renderer) Converters() []string {
	ordered := r.ordered()
	names := make([]string, len(ordered))
	for i, c := range ordered {
		names[i] = c.Name()
	}
	return names
}

func (r *Renderer) ordered() []Converter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Converter, 0, len(r.converters))
	for _, c := range r.converters {
		if c.Name() == r.preferred {
			out = append(out, c)
		}
	}
	for _, c := range r.converters {
		if c.Name() != r.preferred {
			out = append(out, c)
		}
	}
	return out
}

// Render converts svgPath into outputPath and returns the name of the
// converter that produced it. A converter that exits cleanly without
// writing output counts as failed.
func (r *Renderer) Render(ctx context.Context, svgPath, outputPath string, opts Options) (string, error) {
	const op = "render.Render"
	opts = opts.withDefaults()
	if _, err := os.Stat(svgPath); err != nil {
		return "", api.Wrap(api.KindInvalidInput, op, "source SVG is not readable", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	var lastErr error
	tried := 0
	for _, c := range r.ordered() {
		if !supports(c, opts.Format) {
			continue
		}
		tried++
		if err := c.Convert(ctx, svgPath, outputPath, opts); err != nil {
			log.Debugf("%s could not render %s: %v", c.Name(), filepath.Base(svgPath), err)
			lastErr = err
			continue
		}
		if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
			lastErr = NewConverterError(c.Name(), "convert", fmt.Errorf("no output produced at %s", outputPath))
			continue
		}
		log.Infof("rendered %s with %s", filepath.Base(svgPath), c.Name())
		return c.Name(), nil
	}
	if tried == 0 {
		return "", api.Errorf(api.KindConfigurationMissing, op, "no SVG converter supports %s", opts.Format)
	}
	return "", fmt.Errorf("all converters failed, last error: %w", lastErr)
}

// Close releases converters that hold resources.
func (r *Renderer) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.converters {
		if closer, ok := c.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
