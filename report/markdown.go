package report

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
)

func check(ok bool) string {
	return lo.Ternary(ok, "yes", "no")
}

// Markdown renders r as a summary list followed by a region table.
func Markdown(r *api.ExportReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Export %s\n\n", r.TaskID)
	fmt.Fprintf(&b, "- **Type:** %s\n", r.ExportType)
	fmt.Fprintf(&b, "- **ICC profile:** %s\n", lo.CoalesceOrEmpty(r.ICCProfile, "default"))
	fmt.Fprintf(&b, "- **DPI:** %d (%s)\n", r.DPI.Used, r.DPI.Source)
	fmt.Fprintf(&b, "- **Regions:** %d/%d successful\n", r.SuccessfulRegions, r.RegionCount)
	fmt.Fprintf(&b, "- **CMYK:** %s\n", check(r.UsedCMYK))
	fmt.Fprintf(&b, "- **ICC applied:** %s\n", check(r.UsedICC))
	fmt.Fprintf(&b, "- **All vector:** %s\n", check(r.AllVector))
	if len(r.ConversionMethods) > 0 {
		fmt.Fprintf(&b, "- **Methods:** %s\n", strings.Join(r.ConversionMethods, ", "))
	}
	fmt.Fprintf(&b, "- **Duration:** %s\n", duration(r.Duration))

	if len(r.Regions) > 0 {
		b.WriteString("\n## Regions\n\n")
		b.WriteString("| Region | Status | Renderer | Method | Color space | Vector | Output |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, region := range r.Regions {
			status := "ok"
			if !region.Success {
				status = "failed: " + escape(region.Error)
			}
			method := ""
			if region.Conversion != nil {
				method = region.Conversion.Method
			}
			space := ""
			if region.ColorSpace != nil && region.ColorSpace.Success {
				space = fmt.Sprintf("%s (%.0f%%)", region.ColorSpace.ColorSpace, region.ColorSpace.Confidence*100)
			}
			vector := ""
			if region.Vector != nil {
				vector = check(region.Vector.IsVector)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				escape(region.RegionID), status, region.Renderer, method, space, vector, escape(region.CMYKPDF))
		}
	}

	warnings := lo.FlatMap(r.Regions, func(region api.RegionReport, _ int) []string {
		if region.Vector == nil {
			return nil
		}
		return lo.Map(region.Vector.Warnings, func(w string, _ int) string { return region.RegionID + ": " + w })
	})
	if len(warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}
