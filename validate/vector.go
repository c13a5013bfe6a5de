package validate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/tools"
)

// ValidateVectorIntegrity estimates whether path still carries vector
// content. Every signal has an in-process fallback so that a missing
// poppler or MuPDF install degrades precision, not availability.
func (v *Validator) ValidateVectorIntegrity(ctx context.Context, path string) api.VectorIntegrityReport {
	var r api.VectorIntegrityReport

	info, err := os.Stat(path)
	if err != nil {
		r.Warnings = append(r.Warnings, fmt.Sprintf("cannot read %s: %v", path, err))
		return r
	}
	r.FileSizeKB = int(info.Size() / 1024)
	if r.FileSizeKB > v.opts.LargeFileKB {
		r.SuspiciouslyLarge = true
		r.Warnings = append(r.Warnings, fmt.Sprintf("file is %d KB, larger than %d KB expected for a vector document", r.FileSizeKB, v.opts.LargeFileKB))
	}
	r.Probes = append(r.Probes, "file-size")

	var structure *DocumentStructure
	loadStructure := func() *DocumentStructure {
		if structure == nil {
			s, err := InspectStructure(path)
			if err != nil {
				r.Warnings = append(r.Warnings, "document is not readable by pdfcpu: "+err.Error())
				s = DocumentStructure{}
			}
			structure = &s
		}
		return structure
	}

	if fonts, probe, err := v.fontCount(ctx, path); err == nil {
		r.FontCount = fonts
		r.HasText = fonts > 0
		r.Probes = append(r.Probes, probe)
	} else {
		r.Warnings = append(r.Warnings, "font listing failed: "+err.Error())
	}

	if vector, probe, err := v.pageStructure(ctx, path); err == nil {
		r.HasVectorGraphics = vector
		r.Probes = append(r.Probes, probe)
	} else {
		r.HasVectorGraphics = loadStructure().PathOps > 0
		r.Probes = append(r.Probes, ProbeStructure)
	}

	if images, err := v.imageCount(ctx, path); err == nil {
		r.ImageCount = images
		r.Probes = append(r.Probes, ProbePDFImages)
	} else {
		r.ImageCount = loadStructure().Images
		r.Probes = append(r.Probes, ProbeStructure)
	}

	r.HasEmbeddedImages = r.ImageCount > 0
	r.VectorFriendly = r.ImageCount < VectorFriendlyImageLimit
	r.IsVector = IsVector(r.HasText, r.HasVectorGraphics, r.HasEmbeddedImages, r.ImageCount)
	r.Probes = lo.Uniq(r.Probes)
	log.Debugf("vector integrity of %s: vector=%v text=%v graphics=%v images=%d size=%dKB",
		path, r.IsVector, r.HasText, r.HasVectorGraphics, r.ImageCount, r.FileSizeKB)
	return r
}

// IsVector is the combination rule: text or vector graphics, or a small
// number of embedded images.
func IsVector(hasText, hasVectorGraphics, hasEmbeddedImages bool, imageCount int) bool {
	return hasText || hasVectorGraphics || (hasEmbeddedImages && imageCount < VectorFriendlyImageLimit)
}

// fontCount lists embedded fonts with pdffonts, falling back to reading the
// page resources.
func (v *Validator) fontCount(ctx context.Context, path string) (int, string, error) {
	if v.tools.Has(tools.PDFFonts) {
		name, args := v.tools.Invocation(tools.PDFFonts, path)
		res := v.runner.Run(ctx, name, args...)
		if res.IsOK() {
			return CountListing(res.Stdout), string(tools.PDFFonts), nil
		}
		log.Debugf("pdffonts failed, reading fonts in-process: %v", res.Error())
	}
	n, err := ResourceFonts(path)
	return n, "pdf-fonts", err
}

// CountListing counts the data rows of poppler's tabular output, which
// starts with a header line and a dashed separator.
func CountListing(out string) int {
	lines := lo.Filter(strings.Split(strings.TrimRight(out, "\n"), "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	if len(lines) <= 2 {
		return 0
	}
	return len(lines) - 2
}

// ResourceFonts counts the distinct font resource names across all pages.
func ResourceFonts(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing %s: %v", path, r)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	names := map[string]bool{}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, font := range page.Fonts() {
			names[font] = true
		}
	}
	return len(names), nil
}

// pageStructure looks for vector page content with `mutool info`, or with
// MuPDF linked in-process.
func (v *Validator) pageStructure(ctx context.Context, path string) (bool, string, error) {
	if v.tools.Has(tools.MuTool) {
		name, args := v.tools.Invocation(tools.MuTool, "info", path)
		res := v.runner.Run(ctx, name, args...)
		if res.IsOK() {
			return ParseMuToolInfo(res.Out()), string(tools.MuTool), nil
		}
		log.Debugf("mutool info failed: %v", res.Error())
	}
	vector, err := fitzVectorContent(path)
	return vector, "mupdf", err
}

// ParseMuToolInfo avoids counting a page that is a single full-page form
// XObject as vector content.
func ParseMuToolInfo(out string) bool {
	s := strings.ToLower(out)
	return strings.Contains(s, "pages:") &&
		!strings.Contains(s, "form xobject") &&
		(strings.Contains(s, "path") || strings.Contains(s, "text") || strings.Contains(s, "font"))
}

func fitzVectorContent(path string) (vector bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mupdf: %v", r)
		}
	}()
	doc, err := fitz.New(path)
	if err != nil {
		return false, err
	}
	defer doc.Close()
	if doc.NumPage() == 0 {
		return false, fmt.Errorf("document has no pages")
	}
	svg, err := doc.SVG(0)
	if err != nil {
		return false, err
	}
	return strings.Contains(svg, "<path"), nil
}

// imageCount lists embedded images with pdfimages.
func (v *Validator) imageCount(ctx context.Context, path string) (int, error) {
	if !v.tools.Has(tools.PDFImages) {
		return 0, fmt.Errorf("pdfimages is not installed")
	}
	name, args := v.tools.Invocation(tools.PDFImages, "-list", path)
	res := v.runner.Run(ctx, name, args...)
	if !res.IsOK() {
		return 0, res.Error()
	}
	return ParseImageListing(res.Stdout).Total, nil
}
