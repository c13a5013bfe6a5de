// Package preprocess normalizes uploaded images before they are embedded in
// a design: CMYK JPEGs become sRGB, oversized images are downscaled and EXIF
// orientation is baked into the pixels.
package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flanksource/commons/logger"
	xdraw "golang.org/x/image/draw"

	"github.com/flanksource/prepress/cmyk"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/tools"
)

var log = logger.GetLogger("preprocess")

// PrintCeilingFactor widens the size ceiling in print mode.
const PrintCeilingFactor = 10

type Options struct {
	// MaxPixels bounds the longest side, in pixels.
	MaxPixels        int    `json:"maxPixels" yaml:"maxPixels"`
	TargetColorSpace string `json:"targetColorSpace,omitempty" yaml:"targetColorSpace,omitempty"`
	Quality          int    `json:"quality" yaml:"quality"`
	PreserveForPrint bool   `json:"preserveForPrint" yaml:"preserveForPrint"`
}

func DefaultOptions() Options {
	return Options{MaxPixels: 15000, TargetColorSpace: "srgb", Quality: 90}
}

// CeilingFor is the side length images are fitted into.
func CeilingFor(o Options) int {
	if o.PreserveForPrint {
		return o.MaxPixels * PrintCeilingFactor
	}
	return o.MaxPixels
}

// FitInside scales w x h to fit a box x box square, keeping the aspect ratio
// and never enlarging.
func FitInside(w, h, box int) (int, int, bool) {
	if box <= 0 || (w <= box && h <= box) {
		return w, h, false
	}
	scale := float64(box) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return min(nw, box), min(nh, box), true
}

type Processor struct {
	engine     *cmyk.Engine
	runner     exec.Runner
	tools      tools.Snapshot
	scratchDir string
}

// NewProcessor shares the engine's tool snapshot. A nil engine disables
// CMYK correction.
func NewProcessor(engine *cmyk.Engine, runner exec.Runner) *Processor {
	p := &Processor{engine: engine, runner: runner, scratchDir: os.TempDir()}
	if engine != nil {
		p.tools = engine.Tools()
		p.scratchDir = engine.Options().ScratchDir
	}
	return p
}

// Process returns the normalized image, or data itself when nothing needed
// to change or anything went wrong.
func (p *Processor) Process(ctx context.Context, data []byte, opts Options) []byte {
	out, err := p.process(ctx, data, opts, nil)
	if err != nil {
		log.Warnf("pre-processing failed, keeping original: %v", err)
		return data
	}
	return out
}

// ProcessFile rewrites path in place when processing changed it.
func (p *Processor) ProcessFile(ctx context.Context, path string, opts Options) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var hint *cmyk.ColorInfo
	if p.engine != nil {
		if info, ok := p.engine.JPEGColorInfo(ctx, path); ok && info.IsCMYK {
			hint = &info
		}
	}
	out, err := p.process(ctx, data, opts, hint)
	if err != nil {
		log.Warnf("pre-processing %s failed, keeping original: %v", filepath.Base(path), err)
		return false, nil
	}
	if bytes.Equal(out, data) {
		return false, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	log.Debugf("rewrote %s (%d -> %d bytes)", filepath.Base(path), len(data), len(out))
	return true, nil
}

func (p *Processor) process(ctx context.Context, data []byte, opts Options, hint *cmyk.ColorInfo) ([]byte, error) {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultOptions().MaxPixels
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultOptions().Quality
	}
	meta, err := Inspect(data)
	if err != nil {
		return nil, err
	}
	log.Debugf("image %dx%d format=%s space=%s orientation=%d", meta.Width, meta.Height, meta.Format, meta.ColorSpace, meta.Orientation)

	work := data
	if meta.Format == "jpeg" && meta.IsCMYK {
		if p.engine == nil {
			return nil, fmt.Errorf("CMYK image but no conversion engine configured")
		}
		info := cmyk.ColorInfo{Format: "jpeg", ColorSpace: "cmyk", Components: 4, IsCMYK: true, IsYCCK: meta.IsYCCK}
		if hint != nil {
			info.IsYCCK = info.IsYCCK || hint.IsYCCK
			info.ICCProfile = hint.ICCProfile
			info.ColorMode = hint.ColorMode
		}
		out, res := p.engine.ConvertImage(ctx, data, info)
		if !res.Success {
			return nil, fmt.Errorf("CMYK correction: %s", res.Error)
		}
		log.Infof("converted CMYK image to sRGB via %s", res.Method)
		work = out
	}

	nw, nh, resize := FitInside(meta.Width, meta.Height, CeilingFor(opts))
	reorient := meta.Orientation == 3 || meta.Orientation == 6 || meta.Orientation == 8
	if !resize && !reorient {
		return work, nil
	}

	img, _, err := image.Decode(bytes.NewReader(work))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if resize {
		log.Infof("downscaling %dx%d to %dx%d", meta.Width, meta.Height, nw, nh)
		img = Scale(img, nw, nh, opts.PreserveForPrint)
	}
	if reorient {
		img = Orient(img, meta.Orientation)
	}

	if meta.Format == "png" || meta.Format == "gif" {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	if opts.PreserveForPrint {
		out, err := p.encodeForPrint(ctx, img, opts.Quality)
		if err == nil {
			return out, nil
		}
		log.Debugf("print encode through image suite failed, encoding in-process: %v", err)
	}
	return encodeJPEG(img, opts.Quality)
}

// Scale resamples img to w x h, CatmullRom in print mode, bilinear otherwise.
func Scale(img image.Image, w, h int, forPrint bool) image.Image {
	var kernel xdraw.Interpolator = xdraw.BiLinear
	if forPrint {
		kernel = xdraw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	kernel.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Orient applies EXIF orientation 3, 6 or 8 as a rotation of 180, 90
// clockwise or 90 counter-clockwise. Other values return img unchanged.
func Orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 3:
		return rotate(img, 180)
	case 6:
		return rotate(img, 90)
	case 8:
		return rotate(img, -90)
	}
	return img
}

func rotate(img image.Image, degrees int) image.Image {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if degrees == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(x, y)
			switch degrees {
			case 90:
				dst.SetRGBA(h-1-y, x, c)
			case -90:
				dst.SetRGBA(y, w-1-x, c)
			default:
				dst.SetRGBA(w-1-x, h-1-y, c)
			}
		}
	}
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeForPrint re-encodes through the image suite without chroma
// subsampling and without progressive scans, which image/jpeg cannot do.
func (p *Processor) encodeForPrint(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if p.runner == nil || !p.tools.Has(tools.ImageMagick) {
		return nil, fmt.Errorf("image suite not available")
	}
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	in := filepath.Join(p.scratchDir, "preprocess_input_"+ts+".png")
	out := filepath.Join(p.scratchDir, "preprocess_output_"+ts+".jpg")
	defer func() {
		_ = os.Remove(in)
		_ = os.Remove(out)
	}()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o600); err != nil {
		return nil, err
	}
	name, args := p.tools.Invocation(tools.ImageMagick, in,
		"-sampling-factor", "4:4:4",
		"-interlace", "none",
		"-quality", strconv.Itoa(quality),
		out)
	res := p.runner.Run(ctx, name, args...)
	if !res.IsOK() {
		return nil, res.Error()
	}
	return os.ReadFile(out)
}
