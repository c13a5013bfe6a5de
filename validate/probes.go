package validate

import (
	"context"
	"regexp"
	"strings"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

const (
	ProbePixel       = "pixel-analysis"
	ProbeExifTool    = "exiftool"
	ProbeIdentify    = "identify"
	ProbeGhostscript = "ghostscript"
	ProbePDFImages   = "pdfimages"
	ProbeStructure   = "pdf-structure"
)

// DefaultProbes are active unless configured otherwise.
var DefaultProbes = []string{ProbePixel, ProbeExifTool, ProbeIdentify, ProbeGhostscript}

// OptionalProbes are available but not part of the default consensus.
var OptionalProbes = []string{ProbePDFImages, ProbeStructure}

// ColorProbe inspects one artifact and votes on its color space.
type ColorProbe interface {
	Name() string
	Probe(ctx context.Context, path string) api.ColorSpaceValidation
}

type toolProbe struct {
	tools  tools.Snapshot
	runner exec.Runner
}

func (p toolProbe) run(ctx context.Context, t tools.Tool, args ...string) (exec.Result, error) {
	if !p.tools.Has(t) {
		return exec.Result{}, api.Errorf(api.KindConfigurationMissing, string(t), "%s is not installed", t)
	}
	name, full := p.tools.Invocation(t, args...)
	res := p.runner.Run(ctx, name, full...)
	if !res.IsOK() {
		return res, api.Wrap(api.KindToolInvocationFailure, string(t), "probe failed", res.Error())
	}
	return res, nil
}

func inconclusive(method string, err error) api.ColorSpaceValidation {
	return api.ColorSpaceValidation{Method: method, Error: err.Error()}
}

func verdict(method string, cs api.ColorSpace, confidence float64, details map[string]any) api.ColorSpaceValidation {
	return api.ColorSpaceValidation{Success: true, Method: method, ColorSpace: cs, Confidence: confidence, Details: details}
}

// pixelProbe samples one pixel of the first page and looks at the reported
// pixel format.
type pixelProbe struct{ toolProbe }

func (p pixelProbe) Name() string { return ProbePixel }

func (p pixelProbe) Probe(ctx context.Context, path string) api.ColorSpaceValidation {
	res, err := p.run(ctx, tools.ImageMagick, path+"[0]", "-format", "%[pixel:p{100,100}]", "info:")
	if err != nil {
		return inconclusive(p.Name(), err)
	}
	return ParsePixel(res.Stdout)
}

// ParsePixel classifies the output of `-format %[pixel:...]`.
func ParsePixel(out string) api.ColorSpaceValidation {
	pixel := strings.TrimSpace(out)
	if pixel == "" {
		return inconclusive(ProbePixel, api.NewError(api.KindValidationInconclusive, ProbePixel, "empty pixel output"))
	}
	details := map[string]any{"pixel": pixel}
	if strings.Contains(strings.ToLower(pixel), "cmyk(") {
		return verdict(ProbePixel, api.ColorSpaceCMYK, 1.0, details)
	}
	return verdict(ProbePixel, api.ColorSpaceRGB, 0.5, details)
}

// exifProbe reads the color metadata fields, the most trusted signal.
type exifProbe struct{ toolProbe }

func (p exifProbe) Name() string { return ProbeExifTool }

func (p exifProbe) Probe(ctx context.Context, path string) api.ColorSpaceValidation {
	res, err := p.run(ctx, tools.ExifTool,
		"-ColorSpace", "-Colorants", "-PrintColorMode", "-DeviceColorSpace", "-ICCProfileDescription", "-ColorComponents", path)
	if err != nil {
		return inconclusive(p.Name(), err)
	}
	return ParseExifTool(res.Stdout)
}

var (
	exifStrong = []string{"color space", "device color space", "japan profile", "four components"}
	exifStrongPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^color space[^:\n]*:\s*cmyk`),
		regexp.MustCompile(`(?m)^device color space\s*:\s*(device)?cmyk`),
		regexp.MustCompile(`(?m)^(icc )?profile description\s*:.*japan color 2001 coated`),
		regexp.MustCompile(`(?m)^color components\s*:\s*4\b`),
	}
	exifWeak = []string{"cyan", "magenta", "yellow", "black"}
	exifMode = regexp.MustCompile(`(?m)^print color mode\s*:\s*cmyk`)
)

// ParseExifTool classifies exiftool's tag listing.
func ParseExifTool(out string) api.ColorSpaceValidation {
	text := strings.ToLower(out)
	var strong []string
	for i, re := range exifStrongPatterns {
		if re.MatchString(text) {
			strong = append(strong, exifStrong[i])
		}
	}
	weak := 0
	colorants := ""
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "colorants") {
			colorants = line
		}
	}
	for _, c := range exifWeak {
		if strings.Contains(colorants, c) {
			weak++
		}
	}
	if exifMode.MatchString(text) {
		weak++
	}
	details := map[string]any{"strong": strong, "weak": weak}

	switch {
	case len(strong) > 0:
		return verdict(ProbeExifTool, api.ColorSpaceCMYK, 0.95, details)
	case weak >= 3:
		return verdict(ProbeExifTool, api.ColorSpaceCMYK, 0.8, details)
	case weak > 0:
		return verdict(ProbeExifTool, api.ColorSpaceCMYK, 0.7, details)
	case strings.Contains(text, "cmyk"):
		return verdict(ProbeExifTool, api.ColorSpaceCMYK, 0.6, details)
	}
	return verdict(ProbeExifTool, api.ColorSpaceRGB, 0.7, details)
}

// identifyProbe combines the verbose description and the colorspace/channel
// format of the first page.
type identifyProbe struct{ toolProbe }

func (p identifyProbe) Name() string { return ProbeIdentify }

func (p identifyProbe) Probe(ctx context.Context, path string) api.ColorSpaceValidation {
	verbose, errVerbose := p.run(ctx, tools.Identify, "-verbose", path+"[0]")
	format, errFormat := p.run(ctx, tools.Identify, "-format", "%[colorspace] %[channels]", path+"[0]")
	if errVerbose != nil && errFormat != nil {
		return inconclusive(p.Name(), errVerbose)
	}
	return ParseIdentify(verbose.Stdout, format.Stdout)
}

// ParseIdentify counts the four CMYK indicators identify can report.
func ParseIdentify(verbose, format string) api.ColorSpaceValidation {
	v := strings.ToLower(verbose)
	fields := strings.Fields(strings.ToLower(format))
	indicators := []bool{
		strings.Contains(v, "colorspace: cmyk"),
		strings.Contains(v, "type: colorseparation"),
		strings.Contains(v, "cmyk("),
		len(fields) > 0 && fields[0] == "cmyk",
	}
	matches := 0
	for _, ok := range indicators {
		if ok {
			matches++
		}
	}
	details := map[string]any{"matches": matches, "format": strings.TrimSpace(format)}
	switch {
	case matches >= 2:
		return verdict(ProbeIdentify, api.ColorSpaceCMYK, min(0.9, 0.6+0.1*float64(matches)), details)
	case matches == 1:
		return verdict(ProbeIdentify, api.ColorSpaceCMYK, 0.7, details)
	}
	return verdict(ProbeIdentify, api.ColorSpaceRGB, 0.5, details)
}

// ghostscriptProbe asks the inkcov device for per-page CMYK coverage.
type ghostscriptProbe struct{ toolProbe }

func (p ghostscriptProbe) Name() string { return ProbeGhostscript }

func (p ghostscriptProbe) Probe(ctx context.Context, path string) api.ColorSpaceValidation {
	res, err := p.run(ctx, tools.Ghostscript, "-q", "-dNOPAUSE", "-dBATCH", "-dSAFER", "-sDEVICE=inkcov", "-o", "-", path)
	if err != nil {
		return inconclusive(p.Name(), err)
	}
	return ParseInkCoverage(res.Out())
}

var inkcovLine = regexp.MustCompile(`(?i)(\d+\.\d+)\s+(\d+\.\d+)\s+(\d+\.\d+)\s+(\d+\.\d+)\s+cmyk`)

// ParseInkCoverage classifies inkcov output.
func ParseInkCoverage(out string) api.ColorSpaceValidation {
	if m := inkcovLine.FindStringSubmatch(out); m != nil {
		return verdict(ProbeGhostscript, api.ColorSpaceCMYK, 0.8, map[string]any{
			"c": m[1], "m": m[2], "y": m[3], "k": m[4],
		})
	}
	lower := strings.ToLower(out)
	if strings.Contains(lower, "cmyk") || strings.Contains(lower, "devicecmyk") {
		return verdict(ProbeGhostscript, api.ColorSpaceCMYK, 0.7, nil)
	}
	return verdict(ProbeGhostscript, api.ColorSpaceRGB, 0.6, nil)
}

// pdfImagesProbe votes by the color of the embedded images.
type pdfImagesProbe struct{ toolProbe }

func (p pdfImagesProbe) Name() string { return ProbePDFImages }

func (p pdfImagesProbe) Probe(ctx context.Context, path string) api.ColorSpaceValidation {
	res, err := p.run(ctx, tools.PDFImages, "-list", path)
	if err != nil {
		return inconclusive(p.Name(), err)
	}
	return ParsePDFImages(res.Stdout)
}

// ImageListing is the parsed form of `pdfimages -list`.
type ImageListing struct {
	Total int
	CMYK  int
	RGB   int
	Gray  int
}

// ParseImageListing skips the two header lines and reads the color column.
func ParseImageListing(out string) ImageListing {
	var l ImageListing
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 2 {
		return l
	}
	for _, line := range lines[2:] {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		l.Total++
		switch strings.ToLower(fields[5]) {
		case "cmyk":
			l.CMYK++
		case "rgb":
			l.RGB++
		case "gray":
			l.Gray++
		case "icc":
			switch fields[6] {
			case "4":
				l.CMYK++
			case "3":
				l.RGB++
			default:
				l.Gray++
			}
		}
	}
	return l
}

func ParsePDFImages(out string) api.ColorSpaceValidation {
	l := ParseImageListing(out)
	details := map[string]any{"images": l.Total, "cmyk": l.CMYK, "rgb": l.RGB, "gray": l.Gray}
	if l.Total == 0 {
		return inconclusive(ProbePDFImages, api.NewError(api.KindValidationInconclusive, ProbePDFImages, "document has no images"))
	}
	if l.CMYK > l.RGB {
		confidence := 0.8
		if l.RGB == 0 {
			confidence = 0.9
		}
		return verdict(ProbePDFImages, api.ColorSpaceCMYK, confidence, details)
	}
	return verdict(ProbePDFImages, api.ColorSpaceRGB, 0.7, details)
}
