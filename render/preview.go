package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// DefaultPreviewSize is the longer side of a preview in pixels.
const DefaultPreviewSize = 400

// Preview rasterizes an SVG to PNG keeping its aspect ratio. The longer side
// is size pixels. Background is white since previews stand in for paper.
func Preview(svgBytes []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultPreviewSize
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgBytes), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}
	w, h := icon.ViewBox.W, icon.ViewBox.H
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("SVG has no width, height or viewBox")
	}

	width, height := size, size
	if aspect := w / h; aspect >= 1 {
		height = max(1, int(float64(size)/aspect))
	} else {
		width = max(1, int(float64(size)*aspect))
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePreview renders svgPath into pngPath.
func WritePreview(svgPath, pngPath string, size int) error {
	data, err := os.ReadFile(svgPath)
	if err != nil {
		return err
	}
	out, err := Preview(data, size)
	if err != nil {
		return err
	}
	return os.WriteFile(pngPath, out, 0o644)
}
