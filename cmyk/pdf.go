package cmyk

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/tools"
)

const (
	MethodMagickHighQuality = "ImageMagick High-Quality"
	MethodMagickBasic       = "ImageMagick Basic"
	MethodGhostscript       = "Ghostscript Basic CMYK"
)

// pdfAttempt runs one document conversion into a scratch file and moves it
// onto the destination only when the tool succeeded and wrote something.
func (e *Engine) pdfAttempt(ctx context.Context, method string, req api.ConversionRequest, t tools.Tool, build func(out string) []string) api.ConversionResult {
	out := e.scratchPath("cmyk_pdf", "output", "pdf")
	defer removeQuietly(out)

	res := e.run(ctx, t, build(out)...)
	if !res.IsOK() {
		return toolFailure(method, res)
	}
	if err := checkOutput(out); err != nil {
		return api.Failed(method, api.Wrap(api.KindToolInvocationFailure, method, "tool exited 0", err))
	}
	if err := moveFile(out, req.DestinationPath); err != nil {
		return api.Failed(method, fmt.Errorf("moving result into place: %w", err))
	}
	return api.ConversionResult{Success: true, UsedCMYK: true, Method: method}
}

// magickHighQuality applies the RGB working profile and the print profile in
// one pass with CMYK-preserving PDF defines.
type magickHighQuality struct{ e *Engine }

func (s *magickHighQuality) Name() string { return MethodMagickHighQuality }

func (s *magickHighQuality) Ready(req api.ConversionRequest) error {
	if !s.e.tools.Has(tools.ImageMagick) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "ImageMagick is not installed")
	}
	if s.e.sourceProfile() == "" || s.e.destinationProfile(req) == "" {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "source and destination ICC profiles are both required")
	}
	return nil
}

func (s *magickHighQuality) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	src, dst := s.e.sourceProfile(), s.e.destinationProfile(req)
	dpi := strconv.Itoa(req.TargetDPI)
	res := s.e.pdfAttempt(ctx, s.Name(), req, tools.ImageMagick, func(out string) []string {
		return []string{
			"-density", dpi,
			req.SourcePath,
			"-intent", req.RenderingIntent.MagickName(),
			"-black-point-compensation",
			"-profile", src,
			"-profile", dst,
			"-colorspace", "CMYK",
			"-define", "pdf:use-cmyk=true",
			"-set", "colorspace", "CMYK",
			"-define", "pdf:colorspace=cmyk",
			"-define", "pdf:compression=jpeg",
			"-define", "pdf:preserve-colorspace=true",
			"-type", "ColorSeparation",
			"-interpolate", "catrom",
			"-filter", "Lanczos",
			"-unsharp", "0.25x0.25+8+0.065",
			"-quality", strconv.Itoa(req.Quality),
			"-compress", "jpeg",
			"-density", dpi,
			out,
		}
	})
	res.UsedICC = res.Success
	return res
}

// magickBasic applies only the destination profile, or a plain colorspace
// cast when no profile resolves.
type magickBasic struct{ e *Engine }

func (s *magickBasic) Name() string { return MethodMagickBasic }

func (s *magickBasic) Ready(api.ConversionRequest) error {
	if !s.e.tools.Has(tools.ImageMagick) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "ImageMagick is not installed")
	}
	return nil
}

func (s *magickBasic) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	dst := s.e.destinationProfile(req)
	dpi := strconv.Itoa(req.TargetDPI)
	res := s.e.pdfAttempt(ctx, s.Name(), req, tools.ImageMagick, func(out string) []string {
		args := []string{"-density", dpi, req.SourcePath, "-intent", req.RenderingIntent.MagickName()}
		if dst != "" {
			args = append(args, "-black-point-compensation", "-profile", dst)
		}
		return append(args,
			"-colorspace", "CMYK",
			"-define", "pdf:use-cmyk=true",
			"-quality", strconv.Itoa(req.Quality),
			"-compress", "jpeg",
			"-density", dpi,
			out,
		)
	})
	res.UsedICC = res.Success && dst != ""
	return res
}

// ghostscriptBasic re-distills through pdfwrite with a DeviceCMYK process
// model. It never applies an ICC profile.
type ghostscriptBasic struct{ e *Engine }

func (s *ghostscriptBasic) Name() string { return MethodGhostscript }

func (s *ghostscriptBasic) Ready(api.ConversionRequest) error {
	if !s.e.tools.Has(tools.Ghostscript) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "Ghostscript is not installed")
	}
	return nil
}

func (s *ghostscriptBasic) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	dpi := strconv.Itoa(req.TargetDPI)
	res := s.e.pdfAttempt(ctx, s.Name(), req, tools.Ghostscript, func(out string) []string {
		return []string{
			"-sDEVICE=pdfwrite",
			"-dNOPAUSE",
			"-dBATCH",
			"-dSAFER",
			"-dCompatibilityLevel=1.4",
			"-r" + dpi,
			"-dColorConversionStrategy=/CMYK",
			"-dProcessColorModel=/DeviceCMYK",
			"-dConvertCMYKImagesToRGB=false",
			"-dConvertImagesToIndexed=false",
			"-dDownsampleColorImages=false",
			"-dColorImageResolution=" + dpi,
			"-dGrayImageResolution=" + dpi,
			"-dAutoFilterColorImages=false",
			"-dColorImageFilter=/DCTEncode",
			// the output file must be set before -c initializes the device
			"-o", out,
			"-c", fmt.Sprintf("<< /ColorImageDict << /QFactor %.2f /Blend 1 /HSamples [1 1 1 1] /VSamples [1 1 1 1] >> >> setdistillerparams", qFactor(req.Quality)),
			"-f", req.SourcePath,
		}
	})
	res.UsedICC = false
	return res
}

// qFactor maps a 0..100 JPEG quality to the distiller QFactor scale, where
// lower is better.
func qFactor(quality int) float64 {
	if quality >= 100 {
		return 0.05
	}
	if quality <= 0 {
		return 1.5
	}
	return 0.05 + (1.5-0.05)*float64(100-quality)/100
}
