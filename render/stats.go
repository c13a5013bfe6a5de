package render

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rustyoz/svg"
	"github.com/srwiley/oksvg"

	"github.com/flanksource/prepress/api"
)

// Inspect counts the elements of the source SVG. Dimensions come from the
// viewBox or the width and height attributes.
func Inspect(svgPath string) (api.SourceStats, error) {
	content, err := os.ReadFile(svgPath)
	if err != nil {
		return api.SourceStats{}, err
	}
	return InspectContent(string(content))
}

func InspectContent(content string) (stats api.SourceStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse SVG: %v", r)
		}
	}()
	parsed, err := svg.ParseSvg(content, "source", 1.0)
	if err != nil {
		return stats, fmt.Errorf("failed to parse SVG: %w", err)
	}
	for _, group := range parsed.Groups {
		stats.Groups++
		countElements(group.Elements, &stats)
	}
	countElements(parsed.Elements, &stats)

	if icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(content)), oksvg.IgnoreErrorMode); err == nil {
		stats.Width, stats.Height = icon.ViewBox.W, icon.ViewBox.H
	}
	return stats, nil
}

func countElements(elements []svg.DrawingInstructionParser, stats *api.SourceStats) {
	for _, element := range elements {
		switch e := element.(type) {
		case *svg.Group:
			stats.Groups++
			countElements(e.Elements, stats)
			continue
		case *svg.Path:
			stats.Paths++
		default:
			stats.Shapes++
		}
		stats.Elements++
	}
}
