// Package report renders export reports and probe results for humans and
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/flanksource/prepress/api"
)

const (
	FormatPretty   = "pretty"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
	FormatPDF      = "pdf"
)

var Formats = []string{FormatPretty, FormatJSON, FormatYAML, FormatMarkdown, FormatPDF}

type Options struct {
	Format  string
	NoColor bool
	// Output is a file path, stdout when empty.
	Output string
}

func (o *Options) BindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.Format, "format", "o", FormatPretty, "Output format: "+strings.Join(Formats, ", "))
	flags.BoolVar(&o.NoColor, "no-color", false, "Disable colored output")
	flags.StringVar(&o.Output, "output-file", "", "Write output to a file instead of stdout")
}

// Format renders v. Only export reports support markdown and pdf, other
// values render their YAML form in pretty mode.
func Format(v any, opts Options) ([]byte, error) {
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	case FormatYAML, "yml":
		return yaml.Marshal(v)
	case FormatMarkdown, "md":
		r, ok := asReport(v)
		if !ok {
			return nil, fmt.Errorf("markdown output is only available for export reports, got %T", v)
		}
		return []byte(Markdown(r)), nil
	case FormatPDF:
		r, ok := asReport(v)
		if !ok {
			return nil, fmt.Errorf("pdf output is only available for export reports, got %T", v)
		}
		return PDF(r)
	case FormatPretty, "":
		p := NewPretty(opts.NoColor)
		switch t := v.(type) {
		case *api.ExportReport:
			return []byte(p.Report(t)), nil
		case api.ExportReport:
			return []byte(p.Report(&t)), nil
		case api.WeightedConsensus:
			return []byte(p.Consensus(t)), nil
		case api.ConversionResult:
			return []byte(p.Conversion(t)), nil
		}
		return yaml.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown format %q, expected one of %v", opts.Format, Formats)
	}
}

func asReport(v any) (*api.ExportReport, bool) {
	switch t := v.(type) {
	case *api.ExportReport:
		return t, t != nil
	case api.ExportReport:
		return &t, true
	}
	return nil, false
}

// Write formats v to opts.Output or w. Color is dropped when w is not a
// terminal.
func Write(w io.Writer, v any, opts Options) error {
	if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		opts.NoColor = true
	}
	if opts.Output != "" {
		opts.NoColor = true
	}
	data, err := Format(v, opts)
	if err != nil {
		return err
	}
	if opts.Output != "" {
		return os.WriteFile(opts.Output, data, 0o644)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' && opts.Format != FormatPDF {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}
