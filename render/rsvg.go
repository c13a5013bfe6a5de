package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

// RSVGConverter renders with librsvg's rsvg-convert. It always exports
// the whole page.
type RSVGConverter struct {
	tools  tools.Snapshot
	runner exec.Runner
}

func NewRSVGConverter(snapshot tools.Snapshot, runner exec.Runner) *RSVGConverter {
	return &RSVGConverter{tools: snapshot, runner: runner}
}

func (c *RSVGConverter) Name() string {
	return "rsvg-convert"
}

func (c *RSVGConverter) Available() bool {
	return c.tools.Has(tools.RSVG)
}

func (c *RSVGConverter) SupportedFormats() []string {
	return []string{"pdf", "png"}
}

func (c *RSVGConverter) Args(svgPath, outputPath string, opts Options) ([]string, error) {
	format := strings.ToLower(opts.Format)
	if format != "pdf" && format != "png" {
		return nil, NewConverterError(c.Name(), "convert", fmt.Errorf("unsupported format: %s", format))
	}
	args := []string{"--format=" + format}
	if opts.Width > 0 {
		args = append(args, "--width="+strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "--height="+strconv.Itoa(opts.Height))
	}
	if opts.DPI > 0 {
		args = append(args, "--dpi-x="+strconv.Itoa(opts.DPI), "--dpi-y="+strconv.Itoa(opts.DPI))
	}
	args = append(args, "--output="+outputPath, svgPath)
	return args, nil
}

func (c *RSVGConverter) Convert(ctx context.Context, svgPath, outputPath string, opts Options) error {
	if !c.Available() {
		return NewConverterError(c.Name(), "convert", fmt.Errorf("rsvg-convert not found in PATH"))
	}
	args, err := c.Args(svgPath, outputPath, opts.withDefaults())
	if err != nil {
		return err
	}
	name, full := c.tools.Invocation(tools.RSVG, args...)
	if res := c.runner.Run(ctx, name, full...); !res.IsOK() {
		return NewConverterError(c.Name(), "convert", res.Error())
	}
	return nil
}
