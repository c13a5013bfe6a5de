package cmyk

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seehuhn.de/go/icc"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/exec"
	"github.com/flanksource/prepress/profiles"
	"github.com/flanksource/prepress/tools"
)

type fixture struct {
	dir     string
	scratch string
	src     string
	dst     string
	runner  *exec.FakeRunner
}

func newFixture(t *testing.T, withProfiles bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		scratch: filepath.Join(dir, "scratch"),
		src:     filepath.Join(dir, "final.pdf"),
		dst:     filepath.Join(dir, "out", "final-cmyk.pdf"),
		runner:  exec.NewFakeRunner(),
	}
	require.NoError(t, os.MkdirAll(f.scratch, 0o755))
	require.NoError(t, os.WriteFile(f.src, []byte("%PDF-1.4\n"), 0o644))
	if withProfiles {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "icc"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "icc", "sRGB.icc"), profiles.TestProfile(icc.RGBSpace), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "icc", "JapanColor2001Coated.icc"), []byte("cmyk profile"), 0o644))
	}
	return f
}

func (f *fixture) engine(snapshot tools.Snapshot, opts Options) *Engine {
	opts.ScratchDir = f.scratch
	return NewEngine(snapshot, profiles.NewRegistry(filepath.Join(f.dir, "icc"), nil), f.runner, opts)
}

func (f *fixture) request(dpi int) api.ConversionRequest {
	return api.ConversionRequest{
		SourcePath:      f.src,
		DestinationPath: f.dst,
		ICCProfile:      profiles.JapanColor2001Coated,
		Quality:         95,
		TargetDPI:       dpi,
	}
}

// writesLastArg simulates a tool writing its output to the final argument.
func writesLastArg(args []string) exec.Result {
	_ = os.WriteFile(args[len(args)-1], []byte("converted"), 0o644)
	return exec.Result{}
}

// writesAfterO simulates ghostscript's -o <file>.
func writesAfterO(args []string) exec.Result {
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			_ = os.WriteFile(args[i+1], []byte("converted"), 0o644)
		}
	}
	return exec.Result{}
}

func scratchEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return lo.Map(entries, func(e os.DirEntry, _ int) string { return e.Name() })
}

func TestConvertPDFRejectsMissingDPI(t *testing.T) {
	for _, dpi := range []int{0, -1, -300} {
		f := newFixture(t, true)
		e := f.engine(tools.Available(tools.ImageMagick, tools.Ghostscript), Options{AllowGhostscript: true})

		res, err := e.ConvertPDF(context.Background(), f.request(dpi))

		require.Error(t, err)
		assert.True(t, api.IsKind(err, api.KindInvalidInput), err)
		assert.False(t, res.Success)
		assert.Empty(t, f.runner.Calls(), "no tool may run for dpi=%d", dpi)
	}
}

func TestConvertPDFHighQualityFirst(t *testing.T) {
	f := newFixture(t, true)
	f.runner.OnRun("magick", writesLastArg)
	e := f.engine(tools.Available(tools.ImageMagick, tools.Ghostscript), Options{AllowGhostscript: true})

	res, err := e.ConvertPDF(context.Background(), f.request(300))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.UsedCMYK)
	assert.True(t, res.UsedICC)
	assert.Equal(t, MethodMagickHighQuality, res.Method)
	assert.FileExists(t, f.dst)

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	args := strings.Join(calls[0].Args, " ")
	assert.Contains(t, args, "-density 300 "+f.src)
	assert.Contains(t, args, "-intent Perceptual -black-point-compensation")
	assert.Contains(t, args, "-profile "+filepath.Join(f.dir, "icc", "sRGB.icc"))
	assert.Contains(t, args, "-profile "+filepath.Join(f.dir, "icc", "JapanColor2001Coated.icc"))
	assert.Contains(t, args, "-quality 95")
	assert.Empty(t, scratchEntries(t, f.scratch))
}

func TestConvertPDFFallsBackInOrder(t *testing.T) {
	f := newFixture(t, true)
	f.runner.
		Fail("magick", "delegate failed").
		OnRun("gs", writesAfterO)
	e := f.engine(tools.Available(tools.ImageMagick, tools.Ghostscript), Options{AllowGhostscript: true})

	res, err := e.ConvertPDF(context.Background(), f.request(600))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, MethodGhostscript, res.Method)
	assert.True(t, res.UsedCMYK)
	assert.False(t, res.UsedICC, "ghostscript never reports ICC")
	assert.Equal(t, []string{MethodMagickHighQuality, MethodMagickBasic, MethodGhostscript},
		lo.Map(res.Attempts, func(a api.Attempt, _ int) string { return a.Method }))

	gs := f.runner.CallsTo("gs")
	require.Len(t, gs, 1)
	assert.Contains(t, gs[0].Args, "-r600")
	assert.Contains(t, gs[0].Args, "-dColorImageResolution=600")
	args := gs[0].Args
	assert.Less(t, lo.IndexOf(args, "-o"), lo.IndexOf(args, "-c"), "output file precedes PostScript")
	assert.Equal(t, f.src, args[len(args)-1])
	assert.Equal(t, "-f", args[len(args)-2])
	for _, c := range f.runner.CallsTo("magick") {
		assert.Contains(t, strings.Join(c.Args, " "), "-density 600")
	}
	assert.FileExists(t, f.dst)
	assert.Empty(t, scratchEntries(t, f.scratch))
}

func TestConvertPDFAllMethodsFailed(t *testing.T) {
	f := newFixture(t, true)
	f.runner.Fail("magick", "bad").Fail("gs", "bad")
	e := f.engine(tools.Available(tools.ImageMagick, tools.Ghostscript), Options{AllowGhostscript: true})

	res, err := e.ConvertPDF(context.Background(), f.request(300))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.UsedCMYK)
	assert.False(t, res.UsedICC)
	assert.Equal(t, AllMethodsFailed, res.Error)
	assert.Len(t, res.Attempts, 3)
	assert.NoFileExists(t, f.dst)
	assert.Empty(t, scratchEntries(t, f.scratch))
}

func TestConvertPDFWithoutProfiles(t *testing.T) {
	f := newFixture(t, false)
	f.runner.OnRun("magick", writesLastArg)
	e := f.engine(tools.Available(tools.ImageMagick), Options{})

	res, err := e.ConvertPDF(context.Background(), f.request(300))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, MethodMagickBasic, res.Method)
	assert.False(t, res.UsedICC)
	require.Len(t, res.Attempts, 2)
	assert.True(t, res.Attempts[0].Skipped)

	args := strings.Join(f.runner.Calls()[0].Args, " ")
	assert.NotContains(t, args, "-profile")
	assert.Contains(t, args, "-intent Perceptual -colorspace CMYK")
}

func TestConvertPDFGhostscriptDisabled(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine(tools.Available(tools.Ghostscript), Options{AllowGhostscript: false})

	res, err := e.ConvertPDF(context.Background(), f.request(300))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, f.runner.Calls())
	assert.Equal(t, []string{MethodMagickHighQuality, MethodMagickBasic}, e.PDFChain().Names())
}

func TestConvertPDFToolExitsZeroWithoutOutput(t *testing.T) {
	f := newFixture(t, true)
	f.runner.On("magick", exec.Result{})
	e := f.engine(tools.Available(tools.ImageMagick), Options{})

	res, err := e.ConvertPDF(context.Background(), f.request(300))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Attempts[0].Error, "no output produced")
}

func rgbJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestConvertImageChainOrder(t *testing.T) {
	f := newFixture(t, true)
	e := f.engine(tools.Available(tools.JPGICC, tools.ImageMagick), Options{})

	assert.Equal(t, []string{MethodJPGICC, MethodMagickImage, MethodInProcess}, e.ImageChain(ColorInfo{IsCMYK: true}).Names())
	assert.Equal(t, []string{MethodMagickYCCK, methodJPGICCForced, MethodInProcess}, e.ImageChain(ColorInfo{IsCMYK: true, IsYCCK: true}).Names())
}

func TestConvertImageJPGICCDualProfile(t *testing.T) {
	f := newFixture(t, true)
	f.runner.OnRun("jpgicc", writesLastArg)
	e := f.engine(tools.Available(tools.JPGICC, tools.ImageMagick), Options{})

	out, res := e.ConvertImage(context.Background(), rgbJPEG(t), ColorInfo{IsCMYK: true})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []byte("converted"), out)
	assert.True(t, res.UsedICC)
	args := f.runner.Calls()[0].Args
	assert.Equal(t, []string{"-q", "100", "-b", "-t", "0", "-i"}, args[:6])
	assert.Empty(t, scratchEntries(t, f.scratch))
}

func TestConvertImageYCCKUsesTwoStageMagick(t *testing.T) {
	f := newFixture(t, true)
	f.runner.OnRun("magick", writesLastArg)
	e := f.engine(tools.Available(tools.JPGICC, tools.ImageMagick), Options{})

	_, res := e.ConvertImage(context.Background(), rgbJPEG(t), ColorInfo{IsCMYK: true, IsYCCK: true})

	require.True(t, res.Success)
	assert.Equal(t, MethodMagickYCCK, res.Method)
	args := strings.Join(f.runner.Calls()[0].Args, " ")
	assert.Contains(t, args, "-colorspace CMYK -profile")
	assert.Contains(t, args, "-intent Perceptual -black-point-compensation")
	assert.Contains(t, args, "-colorspace sRGB")
	assert.Empty(t, f.runner.CallsTo("jpgicc"))
}

func TestConvertImageFallsBackInProcess(t *testing.T) {
	f := newFixture(t, false)
	e := f.engine(tools.NewSnapshot(), Options{})

	out, res := e.ConvertImage(context.Background(), rgbJPEG(t), ColorInfo{IsCMYK: true})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, MethodInProcess, res.Method)
	assert.False(t, res.UsedICC)
	_, err := jpeg.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
	assert.Empty(t, f.runner.Calls())
}

func TestConvertImageGarbageFails(t *testing.T) {
	f := newFixture(t, false)
	e := f.engine(tools.NewSnapshot(), Options{})

	out, res := e.ConvertImage(context.Background(), []byte("not a jpeg"), ColorInfo{IsCMYK: true})
	assert.Nil(t, out)
	assert.False(t, res.Success)
	assert.Equal(t, AllMethodsFailed, res.Error)
}

func TestParseExifColorInfo(t *testing.T) {
	info := ParseExifColorInfo(`Color Space Data                : CMYK
Color Components                : 4
Color Transform                 : YCCK
Profile Description             : Japan Color 2001 Coated
`)
	assert.True(t, info.IsCMYK)
	assert.True(t, info.IsYCCK)
	assert.Equal(t, 4, info.Components)
	assert.Equal(t, "Japan Color 2001 Coated", info.ICCProfile)

	rgb := ParseExifColorInfo("Color Space                     : sRGB\nColor Components                : 3\n")
	assert.False(t, rgb.IsCMYK)
	assert.False(t, rgb.IsYCCK)
}

func TestQFactor(t *testing.T) {
	assert.InDelta(t, 0.05, qFactor(100), 1e-9)
	assert.InDelta(t, 1.5, qFactor(0), 1e-9)
	assert.Less(t, qFactor(95), qFactor(50))
}
