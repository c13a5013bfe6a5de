package cmyk

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"
	"strconv"
	"strings"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/tools"
)

const (
	MethodJPGICC       = "jpgicc"
	MethodMagickImage  = "ImageMagick"
	MethodMagickYCCK   = "ImageMagick YCCK"
	MethodInProcess    = "in-process"
	methodJPGICCForced = "jpgicc (forced BPC)"
)

// ColorInfo describes the color encoding of a bitmap.
type ColorInfo struct {
	Format     string `json:"format,omitempty"`
	ColorSpace string `json:"colorSpace,omitempty"`
	Components int    `json:"components,omitempty"`
	IsCMYK     bool   `json:"isCMYK"`
	// IsYCCK marks a CMYK JPEG stored with the Adobe YCC-K channel transform.
	IsYCCK     bool   `json:"isYCCK"`
	ICCProfile string `json:"iccProfile,omitempty"`
	ColorMode  string `json:"colorMode,omitempty"`
}

// ImageChain is the ordered list of bitmap strategies for info.
func (e *Engine) ImageChain(info ColorInfo) Chain {
	if info.IsYCCK {
		return Chain{&magickYCCK{e}, &jpgicc{e: e, forced: true}, &inProcess{e}}
	}
	return Chain{&jpgicc{e: e}, &magickImage{e}, &inProcess{e}}
}

// ConvertImage turns CMYK JPEG bytes into sRGB JPEG bytes. On failure the
// returned bytes are nil and the result explains why.
func (e *Engine) ConvertImage(ctx context.Context, data []byte, info ColorInfo) ([]byte, api.ConversionResult) {
	in := e.scratchPath("cmyk_image", "input", "jpg")
	out := e.scratchPath("cmyk_image", "output", "jpg")
	defer removeQuietly(in, out)

	if err := os.MkdirAll(e.opts.ScratchDir, 0o755); err != nil {
		return nil, api.Failed("", err)
	}
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, api.Failed("", fmt.Errorf("writing scratch input: %w", err))
	}

	req := e.withDefaults(api.ConversionRequest{
		SourcePath:      in,
		DestinationPath: out,
		Quality:         e.opts.ImageQuality,
	})
	res := e.ImageChain(info).Run(ctx, req)
	if !res.Success {
		return nil, res
	}
	converted, err := os.ReadFile(out)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		return nil, res
	}
	return converted, res
}

// imageAttempt runs an external bitmap conversion writing straight to the
// request destination, which is already a scratch file.
func (e *Engine) imageAttempt(ctx context.Context, method string, req api.ConversionRequest, t tools.Tool, args []string, usedICC bool) api.ConversionResult {
	removeQuietly(req.DestinationPath)
	res := e.run(ctx, t, args...)
	if !res.IsOK() {
		return toolFailure(method, res)
	}
	if err := checkOutput(req.DestinationPath); err != nil {
		return api.Failed(method, api.Wrap(api.KindToolInvocationFailure, method, "tool exited 0", err))
	}
	return api.ConversionResult{Success: true, UsedICC: usedICC, Method: method}
}

// jpgicc uses littleCMS. With both profiles resolved the transform is
// explicit, otherwise the profile embedded in the file is used.
type jpgicc struct {
	e      *Engine
	forced bool
}

func (s *jpgicc) Name() string {
	if s.forced {
		return methodJPGICCForced
	}
	return MethodJPGICC
}

func (s *jpgicc) Ready(api.ConversionRequest) error {
	if !s.e.tools.Has(tools.JPGICC) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "jpgicc is not installed")
	}
	return nil
}

func (s *jpgicc) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	intent := req.RenderingIntent
	if s.forced {
		intent = api.IntentPerceptual
	}
	args := []string{"-q", "100", "-b", "-t", strconv.Itoa(intent.LCMSCode())}
	cmykProfile, srgb := s.e.destinationProfile(req), s.e.sourceProfile()
	dual := cmykProfile != "" && srgb != ""
	if dual {
		args = append(args, "-i", cmykProfile, "-o", srgb)
	}
	args = append(args, req.SourcePath, req.DestinationPath)
	return s.e.imageAttempt(ctx, s.Name(), req, tools.JPGICC, args, dual)
}

// magickImage converts through the print profile into sRGB.
type magickImage struct{ e *Engine }

func (s *magickImage) Name() string { return MethodMagickImage }

func (s *magickImage) Ready(api.ConversionRequest) error {
	if !s.e.tools.Has(tools.ImageMagick) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "ImageMagick is not installed")
	}
	if s.e.sourceProfile() == "" {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "sRGB profile is required")
	}
	return nil
}

func (s *magickImage) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	args := []string{req.SourcePath}
	if p := s.e.destinationProfile(req); p != "" {
		args = append(args, "-profile", p)
	}
	args = append(args,
		"-intent", req.RenderingIntent.MagickName(),
		"-black-point-compensation",
		"-profile", s.e.sourceProfile(),
		"-quality", strconv.Itoa(req.Quality),
		req.DestinationPath,
	)
	return s.e.imageAttempt(ctx, s.Name(), req, tools.ImageMagick, args, true)
}

// magickYCCK declares the CMYK colorspace explicitly before applying the
// profiles, since YCCK files are otherwise decoded with the wrong transform.
type magickYCCK struct{ e *Engine }

func (s *magickYCCK) Name() string { return MethodMagickYCCK }

func (s *magickYCCK) Ready(req api.ConversionRequest) error {
	if !s.e.tools.Has(tools.ImageMagick) {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "ImageMagick is not installed")
	}
	if s.e.sourceProfile() == "" || s.e.destinationProfile(req) == "" {
		return api.NewError(api.KindConfigurationMissing, s.Name(), "CMYK and sRGB profiles are both required")
	}
	return nil
}

func (s *magickYCCK) Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	args := []string{
		req.SourcePath,
		"-colorspace", "CMYK",
		"-profile", s.e.destinationProfile(req),
		"-intent", api.IntentPerceptual.MagickName(),
		"-black-point-compensation",
		"-profile", s.e.sourceProfile(),
		"-colorspace", "sRGB",
		"-quality", strconv.Itoa(req.Quality),
		req.DestinationPath,
	}
	return s.e.imageAttempt(ctx, s.Name(), req, tools.ImageMagick, args, true)
}

// inProcess decodes with image/jpeg, which undoes the Adobe inversion of
// CMYK and YCCK files, and re-encodes as RGB without color management.
type inProcess struct{ e *Engine }

func (s *inProcess) Name() string { return MethodInProcess }

func (s *inProcess) Attempt(_ context.Context, req api.ConversionRequest) api.ConversionResult {
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return api.Failed(s.Name(), err)
	}
	out, err := ToSRGB(data, req.Quality)
	if err != nil {
		return api.Failed(s.Name(), api.Wrap(api.KindToolInvocationFailure, s.Name(), "decode failed", err))
	}
	if err := os.WriteFile(req.DestinationPath, out, 0o600); err != nil {
		return api.Failed(s.Name(), err)
	}
	return api.ConversionResult{Success: true, Method: s.Name()}
}

// ToSRGB decodes a JPEG of any color model and re-encodes it as RGB.
func ToSRGB(data []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	}
	return q
}

// JPEGColorInfo reads the color details of a JPEG file with exiftool. It
// returns ok=false when exiftool is unavailable or fails.
func (e *Engine) JPEGColorInfo(ctx context.Context, path string) (ColorInfo, bool) {
	if !e.tools.Has(tools.ExifTool) {
		return ColorInfo{}, false
	}
	res := e.run(ctx, tools.ExifTool,
		"-ColorSpace", "-ColorComponents", "-ColorTransform", "-ProfileDescription", "-ColorMode", "-PhotometricInterpretation", path)
	if !res.IsOK() {
		log.Debugf("exiftool failed on %s: %v", path, res.Error())
		return ColorInfo{}, false
	}
	return ParseExifColorInfo(res.Stdout), true
}

// ParseExifColorInfo interprets exiftool's "Tag Name : value" output.
func ParseExifColorInfo(out string) ColorInfo {
	info := ColorInfo{Format: "jpeg"}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		lower := strings.ToLower(value)
		switch key {
		case "color components":
			info.Components, _ = strconv.Atoi(value)
		case "color transform":
			if strings.Contains(lower, "ycck") {
				info.IsYCCK = true
			}
		case "profile description", "icc profile description":
			info.ICCProfile = value
		case "color mode", "photometric interpretation":
			info.ColorMode = value
			if strings.Contains(lower, "cmyk") {
				info.IsCMYK = true
			}
		case "color space", "color space data":
			info.ColorSpace = value
			if strings.Contains(lower, "cmyk") {
				info.IsCMYK = true
			}
		}
	}
	if info.Components == 4 {
		info.IsCMYK = true
	}
	if info.IsYCCK {
		info.IsCMYK = true
	}
	if info.IsCMYK && info.ColorSpace == "" {
		info.ColorSpace = "CMYK"
	}
	return info
}
