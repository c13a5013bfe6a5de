package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/profiles"
	"github.com/flanksource/prepress/render"
	"github.com/flanksource/prepress/tools"
)

// Check is one line of the setup self-test.
type Check struct {
	Name    string `json:"name" yaml:"name"`
	OK      bool   `json:"ok" yaml:"ok"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Required checks fail the self-test, the others only warn.
	Required bool `json:"required" yaml:"required"`
}

type DoctorReport struct {
	Checks   []Check                  `json:"checks" yaml:"checks"`
	Tools    []tools.ToolAvailability `json:"tools" yaml:"tools"`
	Profiles []api.ICCProfile         `json:"profiles" yaml:"profiles"`
	Export   *api.ExportReport        `json:"export,omitempty" yaml:"export,omitempty"`
}

// Healthy is true when every required check passed.
func (d DoctorReport) Healthy() bool {
	return lo.EveryBy(d.Checks, func(c Check) bool { return c.OK || !c.Required })
}

// Doctor verifies profiles and tools, then exports a generated test card
// end to end into a temporary directory.
func (s *Services) Doctor(ctx context.Context) DoctorReport {
	snapshot := s.Tools()
	report := DoctorReport{Tools: snapshot.List(), Profiles: s.Profiles.All()}

	add := func(name string, ok, required bool, msg string) {
		report.Checks = append(report.Checks, Check{Name: name, OK: ok, Required: required, Message: msg})
	}

	dest := s.Profiles.Profile(s.Config.Conversion.Profile)
	add("destination profile", dest.Exists, true, lo.Ternary(dest.Exists, dest.FilePath, "missing "+dest.FilePath))
	srgb := s.Profiles.Profile(profiles.SRGB)
	add("sRGB profile", srgb.Exists, false, lo.Ternary(srgb.Exists, srgb.FilePath, "missing "+srgb.FilePath))

	magick := snapshot.Get(tools.ImageMagick)
	add("imagemagick", magick.Available, true, lo.CoalesceOrEmpty(magick.Version, "not installed"))
	add("svg renderer", len(s.Renderer().Converters()) > 0, true, lo.Ternary(len(s.Renderer().Converters()) > 0,
		"using "+lo.FirstOr(s.Renderer().Converters(), ""), "install inkscape or rsvg-convert"))
	for _, t := range []tools.Tool{tools.JPGICC, tools.ExifTool, tools.Ghostscript, tools.PDFFonts} {
		a := snapshot.Get(t)
		add(string(t), a.Available, false, lo.CoalesceOrEmpty(a.Version, lo.Ternary(a.Available, "", "not installed")))
	}

	dir, err := os.MkdirTemp(s.Config.ScratchDir, "prepress-doctor-")
	if err != nil {
		add("test export", false, true, err.Error())
		return report
	}
	defer os.RemoveAll(dir)

	svg := filepath.Join(dir, "test-card.svg")
	if err := os.WriteFile(svg, render.TestCard(), 0o644); err != nil {
		add("test export", false, true, err.Error())
		return report
	}
	current, release := s.lease()
	defer release()
	o := *current
	o.opts.SkipReport = true
	export, err := o.Export(ctx, api.ExportRequest{
		TaskID:    "doctor",
		ExportDir: filepath.Join(dir, "out"),
		Regions:   []api.Region{{ID: "test-card", SVGPath: svg}},
	})
	if err != nil {
		add("test export", false, true, err.Error())
		return report
	}
	report.Export = export
	region := export.Regions[0]
	add("test export", region.Success, true, lo.Ternary(region.Success, "converted via "+lo.FirstOr(export.ConversionMethods, ""), region.Error))
	if region.ColorSpace != nil {
		add("test export is CMYK", region.ColorSpace.ColorSpace.IsCMYK(), false, region.ColorSpace.Summary)
	}
	return report
}
