package render

import (
	"bytes"

	svg "github.com/ajstarks/svgo"
)

// TestCard draws a small print test card: four process-color swatches, a
// rich black bar, a vector path and a label. Used by the setup self-test
// and as a fixture.
func TestCard() []byte {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(200, 200, `viewBox="0 0 200 200"`)
	canvas.Rect(0, 0, 200, 200, "fill:#ffffff")
	canvas.Group(`id="swatches"`)
	for i, fill := range []string{"#00a0e9", "#e4007f", "#fff100", "#231815"} {
		canvas.Rect(10+i*45, 10, 40, 40, "fill:"+fill)
	}
	canvas.Gend()
	canvas.Rect(10, 60, 175, 20, "fill:#000000")
	canvas.Circle(100, 130, 30, "fill:none;stroke:#e4007f;stroke-width:4")
	canvas.Path("M10 190 L100 160 L190 190 Z", "fill:#00a0e9")
	canvas.Text(100, 185, "prepress", "text-anchor:middle;font-family:sans-serif;font-size:12px;fill:#231815")
	canvas.End()
	return buf.Bytes()
}
