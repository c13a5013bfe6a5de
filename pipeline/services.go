package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/cmyk"
	"github.com/flanksource/prepress/config"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/preprocess"
	"github.com/flanksource/prepress/profiles"
	"github.com/flanksource/prepress/render"
	"github.com/flanksource/prepress/tools"
	"github.com/flanksource/prepress/validate"
)

// Services holds the long lived collaborators built from a Config. The tool
// snapshot is taken once and replaced only by Refresh.
type Services struct {
	Config   config.Config
	Runner   exec.Runner
	Detector *tools.Detector
	Profiles *profiles.Registry

	mu        sync.RWMutex
	snapshot  tools.Snapshot
	engine    *cmyk.Engine
	validator *validate.Validator
	processor *preprocess.Processor
	current   *generation
}

// generation is the renderer and orchestrator of one wiring. A Refresh
// retires it, and the renderer is closed once the last export holding a
// lease on it returns.
type generation struct {
	orchestrator *Orchestrator
	renderer     *render.Renderer
	closer       io.Closer
	inflight     sync.WaitGroup
}

func newGeneration(o *Orchestrator, r *render.Renderer) *generation {
	g := &generation{orchestrator: o, renderer: r}
	if r != nil {
		g.closer = r
	}
	return g
}

// retire closes the renderer in the background after in-flight exports end.
// The returned channel is closed when that has happened.
func (g *generation) retire() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.inflight.Wait()
		if g.closer != nil {
			if err := g.closer.Close(); err != nil {
				log.Warnf("closing retired renderer: %v", err)
			}
		}
	}()
	return done
}

// NewServices detects the installed tools and wires every stage. A nil
// runner executes real processes.
func NewServices(ctx context.Context, cfg config.Config, runner exec.Runner) (*Services, error) {
	if runner == nil {
		runner = exec.NewOSRunner(cfg.Conversion.ToolTimeout)
	}
	s := &Services{
		Config:   cfg,
		Runner:   runner,
		Detector: tools.NewDetector(runner),
		Profiles: profiles.NewRegistry(cfg.ProfilesDir, cfg.Profiles),
	}
	if err := s.wire(s.Detector.Detect(ctx)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) wire(snapshot tools.Snapshot) error {
	cfg := s.Config
	engine := cmyk.NewEngine(snapshot, s.Profiles, s.Runner, cmyk.Options{
		ScratchDir:         cfg.ScratchDir,
		DestinationProfile: cfg.Conversion.Profile,
		SourceProfile:      cfg.Conversion.SourceProfile,
		Quality:            cfg.Conversion.Quality,
		ImageQuality:       cfg.Conversion.ImageQuality,
		AllowGhostscript:   cfg.Conversion.AllowGhostscript,
	})
	validator, err := validate.NewValidator(snapshot, s.Runner, cfg.Validation)
	if err != nil {
		return err
	}
	renderer := render.NewRenderer(snapshot, s.Runner, cfg.Render)
	processor := preprocess.NewProcessor(engine, s.Runner)

	opts := DefaultOptions()
	opts.DefaultDPI = cfg.Conversion.DefaultDPI
	opts.CompareColor = cfg.Export.CompareColor
	opts.PreviewSize = cfg.Export.PreviewSize
	opts.Preprocess.MaxPixels = cfg.Preprocess.MaxPixels
	opts.Preprocess.Quality = cfg.Preprocess.Quality

	s.mu.Lock()
	old := s.current
	s.snapshot = snapshot
	s.engine = engine
	s.validator = validator
	s.processor = processor
	s.current = newGeneration(New(engine, validator, renderer, processor, opts), renderer)
	s.mu.Unlock()

	if old != nil {
		old.retire()
	}
	return nil
}

// lease returns the current orchestrator and a release func. Until release
// is called a Refresh will not close the renderer the orchestrator uses.
func (s *Services) lease() (*Orchestrator, func()) {
	s.mu.RLock()
	g := s.current
	g.inflight.Add(1)
	s.mu.RUnlock()
	return g.orchestrator, g.inflight.Done
}

// Export runs req on the current orchestrator. A concurrent Refresh does not
// disturb it.
func (s *Services) Export(ctx context.Context, req api.ExportRequest) (*api.ExportReport, error) {
	o, release := s.lease()
	defer release()
	return o.Export(ctx, req)
}

// Refresh re-runs tool detection and rebuilds the stages around it.
func (s *Services) Refresh(ctx context.Context) (tools.Snapshot, error) {
	snapshot := s.Detector.Refresh(ctx)
	return snapshot, s.wire(snapshot)
}

func (s *Services) Tools() tools.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Services) Engine() *cmyk.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *Services) Validator() *validate.Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validator
}

func (s *Services) Renderer() *render.Renderer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.renderer
}

func (s *Services) Processor() *preprocess.Processor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processor
}

// Orchestrator returns the current orchestrator without a lease. Long
// running callers should use Export.
func (s *Services) Orchestrator() *Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.orchestrator
}

// Close releases the renderer's browser, if one was started.
func (s *Services) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.renderer == nil {
		return nil
	}
	return s.current.renderer.Close()
}
