package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flanksource/prepress/exec"
)

func TestDetectImageMagick7(t *testing.T) {
	runner := exec.NewFakeRunner().
		On("magick -version", exec.Result{Stdout: "Version: ImageMagick 7.1.1-21 Q16-HDRI x86_64\nCopyright"}).
		On("gs --version", exec.Result{Stdout: "10.02.1\n"}).
		On("exiftool -ver", exec.Result{Stdout: "12.76"})

	s := NewDetector(runner).Detect(context.Background())

	magick := s.Get(ImageMagick)
	assert.True(t, magick.Available)
	assert.Equal(t, "magick", magick.Command)
	assert.Equal(t, 7, magick.VersionMajor)

	name, args := s.Invocation(Identify, "-verbose", "a.pdf[0]")
	assert.Equal(t, "magick", name)
	assert.Equal(t, []string{"identify", "-verbose", "a.pdf[0]"}, args)

	gs := s.Get(Ghostscript)
	assert.True(t, gs.Available)
	assert.Equal(t, 10, gs.VersionMajor)

	assert.True(t, s.Has(ExifTool))
	assert.False(t, s.Has(JPGICC))
	assert.False(t, s.Has(Inkscape))
	assert.Empty(t, s.Get(JPGICC).Command)
	assert.Empty(t, runner.CallsTo("convert"), "v6 must not be probed when v7 exists")
}

func TestDetectImageMagick6(t *testing.T) {
	runner := exec.NewFakeRunner().
		Fail("magick", "not found").
		On("convert -version", exec.Result{Stdout: "Version: ImageMagick 6.9.12-98 Q16"})

	s := NewDetector(runner).Detect(context.Background())
	assert.Equal(t, "convert", s.Get(ImageMagick).Command)
	assert.Equal(t, 6, s.Get(ImageMagick).VersionMajor)

	name, args := s.Invocation(Compare, "-metric", "RMSE")
	assert.Equal(t, "compare", name)
	assert.Equal(t, []string{"-metric", "RMSE"}, args)
}

func TestDetectIsMemoizedUntilRefresh(t *testing.T) {
	runner := exec.NewFakeRunner().On("jpgicc -v", exec.Result{})
	d := NewDetector(runner)

	first := d.Detect(context.Background())
	d.Detect(context.Background())
	assert.Len(t, runner.CallsTo("jpgicc"), 1)
	assert.True(t, first.Has(JPGICC))

	d.Refresh(context.Background())
	assert.Len(t, runner.CallsTo("jpgicc"), 2)
}

func TestNothingInstalled(t *testing.T) {
	s := NewDetector(exec.NewFakeRunner()).Detect(context.Background())
	for _, a := range s.List() {
		assert.False(t, a.Available, a.Name)
		assert.Zero(t, a.VersionMajor)
	}
	assert.Empty(t, s.AvailableNames())
}

func TestNewSnapshotDefaults(t *testing.T) {
	s := Available(ImageMagick, Ghostscript, PDFFonts)
	name, args := s.Invocation(Ghostscript, "-q")
	assert.Equal(t, "gs", name)
	assert.Equal(t, []string{"-q"}, args)
	assert.Equal(t, []string{"imagemagick", "ghostscript", "pdffonts"}, s.AvailableNames())
}
