// Package render turns the designer's SVG into a PDF with the first
// available external renderer, and rasterizes previews in-process.
package render

import (
	"context"
	"fmt"

	"github.com/flanksource/commons/logger"
)

var log = logger.GetLogger("render")

// Converter renders an SVG file into another format.
type Converter interface {
	Name() string
	// Available reports whether the converter can run on this host.
	Available() bool
	SupportedFormats() []string
	Convert(ctx context.Context, svgPath, outputPath string, opts Options) error
}

// Area modes understood by the converters.
const (
	AreaDrawing = "drawing"
	AreaPage    = "page"
)

type Options struct {
	// Format is the output format, pdf or png.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// AreaMode crops the output to the drawing bounds or keeps the page.
	AreaMode string `json:"areaMode,omitempty" yaml:"areaMode,omitempty"`
	DPI      int    `json:"dpi,omitempty" yaml:"dpi,omitempty"`
	// PDFVersion is passed to renderers that can target it.
	PDFVersion string `json:"pdfVersion,omitempty" yaml:"pdfVersion,omitempty"`
	// Width and Height in pixels, 0 is auto.
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		Format:     "pdf",
		AreaMode:   AreaDrawing,
		DPI:        72,
		PDFVersion: "1.4",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Format == "" {
		o.Format = def.Format
	}
	if o.AreaMode == "" {
		o.AreaMode = def.AreaMode
	}
	if o.DPI <= 0 {
		o.DPI = def.DPI
	}
	if o.PDFVersion == "" {
		o.PDFVersion = def.PDFVersion
	}
	return o
}

// ConverterError is the error of one converter operation.
type ConverterError struct {
	Converter string
	Operation string
	Err       error
}

func (e *ConverterError) Error() string {
	return fmt.Sprintf("%s converter %s failed: %v", e.Converter, e.Operation, e.Err)
}

func (e *ConverterError) Unwrap() error {
	return e.Err
}

func NewConverterError(converter, operation string, err error) error {
	return &ConverterError{Converter: converter, Operation: operation, Err: err}
}

func supports(c Converter, format string) bool {
	for _, f := range c.SupportedFormats() {
		if f == format {
			return true
		}
	}
	return false
}
