package validate

import (
	"bytes"
	"fmt"
	"os"
)

// TestPDF describes a single-page document for fixtures.
type TestPDF struct {
	// Content is the raw page content stream.
	Content string
	// Font adds a Helvetica resource named /F1.
	Font bool
	// Images adds that many 4x4 image XObjects in ImageColorSpace.
	Images          int
	ImageColorSpace string
	// Pad appends a comment of that many bytes to inflate the file size.
	Pad int
}

// BuildTestPDF writes a minimal but well-formed PDF 1.4 document with a
// correct cross-reference table.
func BuildTestPDF(spec TestPDF) []byte {
	var objects []string

	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	catalog := add("") // filled below
	pages := add("")
	page := add("")
	content := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(spec.Content), spec.Content))

	resources := "<< "
	if spec.Font {
		font := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
		resources += fmt.Sprintf("/Font << /F1 %d 0 R >> ", font)
	}
	if spec.Images > 0 {
		cs := spec.ImageColorSpace
		if cs == "" {
			cs = "DeviceRGB"
		}
		n := map[string]int{"DeviceCMYK": 4, "DeviceRGB": 3, "DeviceGray": 1}[cs]
		if n == 0 {
			n = 3
		}
		data := bytes.Repeat([]byte{0x80}, 4*4*n)
		resources += "/XObject << "
		for i := 0; i < spec.Images; i++ {
			img := add(fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 4 /Height 4 /ColorSpace /%s /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream", cs, len(data), data))
			resources += fmt.Sprintf("/Im%d %d 0 R ", i+1, img)
		}
		resources += ">> "
	}
	resources += ">>"

	objects[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages)
	objects[pages-1] = fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page)
	objects[page-1] = fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 200 200] /Contents %d 0 R /Resources %s >>", pages, content, resources)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	if spec.Pad > 0 {
		buf.WriteString("%")
		buf.Write(bytes.Repeat([]byte{'x'}, spec.Pad))
		buf.WriteString("\n")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, catalog, xref)
	return buf.Bytes()
}

// WriteTestPDF writes BuildTestPDF(spec) to path.
func WriteTestPDF(path string, spec TestPDF) error {
	return os.WriteFile(path, BuildTestPDF(spec), 0o644)
}
