package report

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
)

var (
	titleProps  = props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Left}
	headProps   = props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Left}
	cellProps   = props.Text{Size: 9, Style: fontstyle.Normal, Align: align.Left}
	mutedProps  = props.Text{Size: 8, Style: fontstyle.Italic, Align: align.Left, Color: &props.Color{Red: 110, Green: 110, Blue: 110}}
	failedProps = props.Text{Size: 9, Style: fontstyle.Normal, Align: align.Left, Color: &props.Color{Red: 200, Green: 30, Blue: 30}}
)

// PDF renders r as an A4 document, one summary block and one row per region.
func PDF(r *api.ExportReport) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).
		WithRightMargin(10).
		WithTopMargin(10).
		WithBottomMargin(10).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12, col.New(12).Add(text.New("Export "+r.TaskID, titleProps)))
	m.AddRow(6, col.New(12).Add(text.New(r.CreatedAt.Format("2006-01-02 15:04:05")+" "+r.ExportDir, mutedProps)))

	summary := [][2]string{
		{"Type", string(r.ExportType)},
		{"ICC profile", lo.CoalesceOrEmpty(r.ICCProfile, "default")},
		{"DPI", fmt.Sprintf("%d (%s)", r.DPI.Used, r.DPI.Source)},
		{"Regions", fmt.Sprintf("%d/%d successful", r.SuccessfulRegions, r.RegionCount)},
		{"CMYK", check(r.UsedCMYK)},
		{"ICC applied", check(r.UsedICC)},
		{"All vector", check(r.AllVector)},
		{"Methods", lo.Ternary(len(r.ConversionMethods) == 0, "none", fmt.Sprint(r.ConversionMethods))},
		{"Duration", duration(r.Duration)},
	}
	for _, kv := range summary {
		m.AddRow(6,
			col.New(3).Add(text.New(kv[0], headProps)),
			col.New(9).Add(text.New(kv[1], cellProps)))
	}

	if len(r.Regions) > 0 {
		m.AddRow(6)
		m.AddRow(7, pdfRow(headProps, "Region", "Status", "Method", "Color space", "Vector", "Renderer")...)
		for _, region := range r.Regions {
			m.AddRow(6, regionRow(region)...)
			if region.Error != "" {
				m.AddRow(6, col.New(12).Add(text.New(region.Error, failedProps)))
			}
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate report PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func pdfRow(p props.Text, cells ...string) []core.Col {
	return lo.Map(cells, func(c string, _ int) core.Col {
		return col.New(2).Add(text.New(c, p))
	})
}

func regionRow(r api.RegionReport) []core.Col {
	method, space, vector := "-", "-", "-"
	if r.Conversion != nil && r.Conversion.Method != "" {
		method = r.Conversion.Method
	}
	if r.ColorSpace != nil && r.ColorSpace.Success {
		space = fmt.Sprintf("%s %.0f%%", r.ColorSpace.ColorSpace, r.ColorSpace.Confidence*100)
	}
	if r.Vector != nil {
		vector = check(r.Vector.IsVector)
	}
	status := lo.Ternary(r.Success, "ok", "failed")
	return pdfRow(cellProps, r.RegionID, status, method, space, vector, lo.CoalesceOrEmpty(r.Renderer, "-"))
}
