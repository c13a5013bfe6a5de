package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

// InkscapeConverter renders with the Inkscape 1.x command line.
type InkscapeConverter struct {
	tools  tools.Snapshot
	runner exec.Runner
}

func NewInkscapeConverter(snapshot tools.Snapshot, runner exec.Runner) *InkscapeConverter {
	return &InkscapeConverter{tools: snapshot, runner: runner}
}

func (c *InkscapeConverter) Name() string {
	return "inkscape"
}

func (c *InkscapeConverter) Available() bool {
	return c.tools.Has(tools.Inkscape)
}

func (c *InkscapeConverter) SupportedFormats() []string {
	return []string{"pdf", "png"}
}

// Args builds the command line for one conversion.
func (c *InkscapeConverter) Args(svgPath, outputPath string, opts Options) ([]string, error) {
	format := strings.ToLower(opts.Format)
	if format != "pdf" && format != "png" {
		return nil, NewConverterError(c.Name(), "convert", fmt.Errorf("unsupported format: %s", format))
	}
	args := []string{
		svgPath,
		"--export-type=" + format,
		"--export-filename=" + outputPath,
	}
	if opts.AreaMode == AreaPage {
		args = append(args, "--export-area-page")
	} else {
		args = append(args, "--export-area-drawing")
	}
	args = append(args, "--export-dpi="+strconv.Itoa(opts.DPI))
	if format == "pdf" && opts.PDFVersion != "" {
		args = append(args, "--export-pdf-version="+opts.PDFVersion)
	}
	if format == "png" {
		if opts.Width > 0 {
			args = append(args, "--export-width="+strconv.Itoa(opts.Width))
		}
		if opts.Height > 0 {
			args = append(args, "--export-height="+strconv.Itoa(opts.Height))
		}
	}
	return args, nil
}

func (c *InkscapeConverter) Convert(ctx context.Context, svgPath, outputPath string, opts Options) error {
	if !c.Available() {
		return NewConverterError(c.Name(), "convert", fmt.Errorf("inkscape not found in PATH"))
	}
	args, err := c.Args(svgPath, outputPath, opts.withDefaults())
	if err != nil {
		return err
	}
	name, full := c.tools.Invocation(tools.Inkscape, args...)
	if res := c.runner.Run(ctx, name, full...); !res.IsOK() {
		return NewConverterError(c.Name(), "convert", res.Error())
	}
	return nil
}
