// Package validate checks, after the fact, whether a converted document
// really ended up in CMYK and kept its vector content. None of the
// conversion tools report color semantics, only exit codes.
package validate

import (
	"context"
	"fmt"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

var log = logger.GetLogger("validate")

const (
	// DefaultLargeFileKB is the size above which a vector PDF is suspicious.
	DefaultLargeFileKB = 50000
	// VectorFriendlyImageLimit is the image count below which a document
	// still counts as vector-friendly.
	VectorFriendlyImageLimit = 10
	// DefaultRMSEThreshold is the normalized RMSE under which two renders
	// are considered color-consistent.
	DefaultRMSEThreshold = 0.1
)

type Options struct {
	// Probes names the active color probes; empty means DefaultProbes.
	Probes        []string           `json:"probes,omitempty" yaml:"probes,omitempty"`
	Weights       map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	LargeFileKB   int                `json:"largeFileKB,omitempty" yaml:"largeFileKB,omitempty"`
	RMSEThreshold float64            `json:"rmseThreshold,omitempty" yaml:"rmseThreshold,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		Probes:        append([]string(nil), DefaultProbes...),
		Weights:       DefaultWeights(),
		LargeFileKB:   DefaultLargeFileKB,
		RMSEThreshold: DefaultRMSEThreshold,
	}
}

type Validator struct {
	tools  tools.Snapshot
	runner exec.Runner
	opts   Options
	probes []ColorProbe
}

func NewValidator(snapshot tools.Snapshot, runner exec.Runner, opts Options) (*Validator, error) {
	def := DefaultOptions()
	if len(opts.Probes) == 0 {
		opts.Probes = def.Probes
	}
	if opts.Weights == nil {
		opts.Weights = def.Weights
	}
	if opts.LargeFileKB <= 0 {
		opts.LargeFileKB = def.LargeFileKB
	}
	if opts.RMSEThreshold <= 0 {
		opts.RMSEThreshold = def.RMSEThreshold
	}
	v := &Validator{tools: snapshot, runner: runner, opts: opts}
	base := toolProbe{tools: snapshot, runner: runner}
	for _, name := range lo.Uniq(opts.Probes) {
		switch name {
		case ProbePixel:
			v.probes = append(v.probes, pixelProbe{base})
		case ProbeExifTool:
			v.probes = append(v.probes, exifProbe{base})
		case ProbeIdentify:
			v.probes = append(v.probes, identifyProbe{base})
		case ProbeGhostscript:
			v.probes = append(v.probes, ghostscriptProbe{base})
		case ProbePDFImages:
			v.probes = append(v.probes, pdfImagesProbe{base})
		case ProbeStructure:
			v.probes = append(v.probes, structureProbe{})
		default:
			return nil, api.Errorf(api.KindInvalidInput, "validate.NewValidator", "unknown probe %q", name)
		}
	}
	return v, nil
}

// Probes returns the active probes in evaluation order.
func (v *Validator) Probes() []ColorProbe {
	return append([]ColorProbe(nil), v.probes...)
}

// ValidateColorSpace runs every active probe against path and combines the
// votes. Probe failures are recorded, never returned.
func (v *Validator) ValidateColorSpace(ctx context.Context, path string) api.WeightedConsensus {
	results := make([]api.ColorSpaceValidation, 0, len(v.probes))
	for _, p := range v.probes {
		r := p.Probe(ctx, path)
		r.Method = p.Name()
		if r.Success {
			log.Debugf("%s: %s (%.2f)", p.Name(), r.ColorSpace, r.Confidence)
		} else {
			log.Debugf("%s inconclusive: %s", p.Name(), r.Error)
		}
		results = append(results, r)
	}
	c := Consensus(results, v.opts.Weights)
	if c.Success {
		log.Infof("color space of %s: %s", path, c.Summary)
	} else {
		log.Warnf("color space of %s could not be determined: %s", path, c.Error)
	}
	return c
}

func (v *Validator) String() string {
	return fmt.Sprintf("Validator(probes=%v)", lo.Map(v.probes, func(p ColorProbe, _ int) string { return p.Name() }))
}
