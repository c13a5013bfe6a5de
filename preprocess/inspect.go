package preprocess

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Metadata is what Inspect learns about an image without decoding pixels.
type Metadata struct {
	Format      string `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ColorSpace  string `json:"colorSpace"`
	IsCMYK      bool   `json:"isCMYK"`
	IsYCCK      bool   `json:"isYCCK"`
	Orientation int    `json:"orientation,omitempty"`
}

// Inspect reads format, dimensions, color model and EXIF orientation.
func Inspect(data []byte) (Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("unrecognized image: %w", err)
	}
	m := Metadata{
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		ColorSpace: colorSpaceOf(cfg.ColorModel),
	}
	if format == "jpeg" {
		m.IsCMYK = cfg.ColorModel == color.CMYKModel
		if transform, ok := adobeTransform(data); ok && m.IsCMYK && transform == 2 {
			m.IsYCCK = true
		}
	}
	if format == "jpeg" || format == "tiff" {
		m.Orientation = orientation(data)
	}
	return m, nil
}

func colorSpaceOf(model color.Model) string {
	switch model {
	case color.CMYKModel:
		return "cmyk"
	case color.GrayModel, color.Gray16Model:
		return "b-w"
	default:
		return "srgb"
	}
}

// adobeTransform returns the transform flag of the Adobe APP14 segment:
// 0 unknown (RGB or CMYK), 1 YCbCr, 2 YCCK.
func adobeTransform(data []byte) (byte, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, false
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return 0, false
		}
		marker := data[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 || marker == 0xFF {
			i++
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return 0, false
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if length < 2 || i+2+length > len(data) {
			return 0, false
		}
		payload := data[i+4 : i+2+length]
		if marker == 0xEE && len(payload) >= 12 && string(payload[:5]) == "Adobe" {
			return payload[11], true
		}
		i += 2 + length
	}
	return 0, false
}

// orientation returns the EXIF orientation tag, 0 when absent.
func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}
