package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/flanksource/commons/text"
	"github.com/muesli/termenv"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
)

const (
	iconOK   = "✓"
	iconFail = "✗"
	iconWarn = "⚠"
)

// Pretty renders results as colored terminal text.
type Pretty struct {
	renderer *lipgloss.Renderer

	title   lipgloss.Style
	label   lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	section lipgloss.Style
}

func NewPretty(noColor bool) *Pretty {
	return NewPrettyFor(io.Discard, noColor)
}

// NewPrettyFor detects the color profile of w.
func NewPrettyFor(w io.Writer, noColor bool) *Pretty {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	} else {
		r.SetColorProfile(termenv.ANSI256)
	}
	return &Pretty{
		renderer: r,
		title:    r.NewStyle().Bold(true).Underline(true),
		label:    r.NewStyle().Bold(true),
		ok:       r.NewStyle().Foreground(lipgloss.Color("42")),
		fail:     r.NewStyle().Foreground(lipgloss.Color("196")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("244")),
		section:  r.NewStyle().PaddingLeft(2),
	}
}

func (p *Pretty) status(ok bool, msg string) string {
	if ok {
		return p.ok.Render(iconOK + " " + msg)
	}
	return p.fail.Render(iconFail + " " + msg)
}

func (p *Pretty) field(name string, value any) string {
	return fmt.Sprintf("%s %v", p.label.Render(name+":"), value)
}

func duration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return text.HumanizeDuration(d)
}

// Report renders a complete export report.
func (p *Pretty) Report(r *api.ExportReport) string {
	var b strings.Builder
	b.WriteString(p.title.Render("Export "+r.TaskID) + "\n")
	lines := []string{
		p.field("type", r.ExportType),
		p.field("directory", r.ExportDir),
		p.field("profile", lo.CoalesceOrEmpty(r.ICCProfile, "default")),
		p.field("dpi", fmt.Sprintf("%d (%s)", r.DPI.Used, r.DPI.Source)),
		p.field("regions", fmt.Sprintf("%d/%d successful", r.SuccessfulRegions, r.RegionCount)),
		p.field("methods", lo.Ternary(len(r.ConversionMethods) == 0, "none", strings.Join(r.ConversionMethods, ", "))),
		p.status(r.UsedCMYK, "CMYK"),
		p.status(r.UsedICC, "ICC profile applied"),
		p.status(r.AllVector, "vector content preserved"),
		p.field("duration", duration(r.Duration)),
	}
	b.WriteString(p.section.Render(strings.Join(lines, "\n")) + "\n")

	for _, region := range r.Regions {
		b.WriteString("\n" + p.Region(region) + "\n")
	}
	if len(r.Images) > 0 {
		b.WriteString("\n" + p.label.Render("Images") + "\n")
		for _, img := range r.Images {
			line := p.status(img.Error == "", img.Path)
			if img.Processed {
				line += p.muted.Render(" (processed)")
			}
			if img.Error != "" {
				line += " " + p.fail.Render(img.Error)
			}
			b.WriteString(p.section.Render(line) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Region renders one region block.
func (p *Pretty) Region(r api.RegionReport) string {
	head := p.status(r.Success, "region "+r.RegionID)
	if r.Renderer != "" {
		head += p.muted.Render(" via " + r.Renderer)
	}
	var lines []string
	if r.Error != "" {
		lines = append(lines, p.fail.Render(r.Error))
	}
	if r.CMYKPDF != "" {
		lines = append(lines, p.field("cmyk", r.CMYKPDF))
	}
	if r.Conversion != nil {
		lines = append(lines, p.Conversion(*r.Conversion))
	}
	if r.ColorSpace != nil {
		lines = append(lines, p.Consensus(*r.ColorSpace))
	}
	if r.Vector != nil {
		v := r.Vector
		lines = append(lines, p.status(v.IsVector, fmt.Sprintf("vector (text=%v graphics=%v images=%d fonts=%d, %d KB)",
			v.HasText, v.HasVectorGraphics, v.ImageCount, v.FontCount, v.FileSizeKB)))
		for _, w := range v.Warnings {
			lines = append(lines, p.warn.Render(iconWarn+" "+w))
		}
	}
	if r.Consistency != nil && r.Consistency.RMSE != nil {
		lines = append(lines, p.status(r.Consistency.Acceptable, fmt.Sprintf("color RMSE %.4f", *r.Consistency.RMSE)))
	}
	if len(r.Steps) > 0 {
		steps := lo.Map(r.Steps, func(s api.StepTiming, _ int) string {
			if s.Error != "" {
				return p.fail.Render(s.Step + "=" + duration(s.Duration))
			}
			return s.Step + "=" + duration(s.Duration)
		})
		lines = append(lines, p.muted.Render(strings.Join(steps, " ")))
	}
	return head + "\n" + p.section.Render(strings.Join(lines, "\n"))
}

func (p *Pretty) Conversion(c api.ConversionResult) string {
	if !c.Success {
		return p.status(false, fmt.Sprintf("conversion failed: %s", c.Error))
	}
	msg := fmt.Sprintf("converted by %s", c.Method)
	if c.UsedICC {
		msg += " with ICC"
	}
	if !c.UsedCMYK {
		return p.warn.Render(iconWarn + " " + msg + ", output is not CMYK")
	}
	return p.status(true, msg)
}

func (p *Pretty) Consensus(c api.WeightedConsensus) string {
	if !c.Success {
		return p.warn.Render(iconWarn + " color space inconclusive: " + c.Error)
	}
	return p.status(c.ColorSpace.IsCMYK(), fmt.Sprintf("%s (confidence %.0f%%, %s)", c.ColorSpace, c.Confidence*100, c.Summary))
}
