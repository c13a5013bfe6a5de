package validate

import (
	"context"
	"fmt"
	"regexp"

	pdfcpuapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/flanksource/prepress/api"
)

// DocumentStructure is what an in-process walk of the PDF object graph finds.
type DocumentStructure struct {
	Pages      int `json:"pages"`
	Images     int `json:"images"`
	CMYKImages int `json:"cmykImages"`
	RGBImages  int `json:"rgbImages"`
	GrayImages int `json:"grayImages"`
	Fonts      int `json:"fonts"`
	// Operator counts from the decoded content streams.
	CMYKOps  int  `json:"cmykOps"`
	RGBOps   int  `json:"rgbOps"`
	GrayOps  int  `json:"grayOps"`
	PathOps  int  `json:"pathOps"`
	HasText  bool `json:"hasText"`
	FormXObj int  `json:"formXObjects"`
}

func (s DocumentStructure) cmykEvidence() int { return s.CMYKImages + s.CMYKOps }
func (s DocumentStructure) rgbEvidence() int  { return s.RGBImages + s.RGBOps }

var (
	cmykOp = regexp.MustCompile(`(?:^|\s)(?:-?\d*\.?\d+\s+){4}[kK](?:\s|$)`)
	rgbOp  = regexp.MustCompile(`(?:^|\s)(?:-?\d*\.?\d+\s+){3}(?:rg|RG)(?:\s|$)`)
	grayOp = regexp.MustCompile(`(?:^|\s)-?\d*\.?\d+\s+[gG](?:\s|$)`)
	pathOp = regexp.MustCompile(`(?:^|\s)(?:re|l|c|v|y)(?:\s|$)`)
	textOp = regexp.MustCompile(`(?:^|\s)BT(?:\s|$)`)
)

// InspectStructure reads the document with pdfcpu and classifies images,
// fonts and content-stream color operators.
func InspectStructure(path string) (DocumentStructure, error) {
	ctx, err := pdfcpuapi.ReadContextFile(path)
	if err != nil {
		return DocumentStructure{}, fmt.Errorf("reading %s: %w", path, err)
	}
	s := DocumentStructure{Pages: ctx.PageCount}
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		switch o := entry.Object.(type) {
		case types.StreamDict:
			inspectStream(ctx, o, &s)
		case types.Dict:
			if isFont(o) {
				s.Fonts++
			}
		}
	}
	return s, nil
}

func isFont(d types.Dict) bool {
	t := d.NameEntry("Type")
	if t == nil || *t != "Font" {
		return false
	}
	sub := d.NameEntry("Subtype")
	return sub == nil || (*sub != "CIDFontType0" && *sub != "CIDFontType2")
}

func inspectStream(ctx *model.Context, sd types.StreamDict, s *DocumentStructure) {
	subtype := sd.NameEntry("Subtype")
	if t := sd.NameEntry("Type"); t != nil && (*t == "XRef" || *t == "ObjStm" || *t == "Metadata") {
		return
	}
	if subtype != nil {
		switch *subtype {
		case "Image":
			s.Images++
			cs, _ := sd.Find("ColorSpace")
			switch components(ctx, cs) {
			case 4:
				s.CMYKImages++
			case 3:
				s.RGBImages++
			case 1:
				s.GrayImages++
			}
		case "Form":
			s.FormXObj++
			scanContent(&sd, s)
		}
		return
	}
	if _, ok := sd.Find("N"); ok {
		// ICC profile stream
		return
	}
	if _, ok := sd.Find("Length1"); ok {
		// embedded font program
		return
	}
	scanContent(&sd, s)
}

func scanContent(sd *types.StreamDict, s *DocumentStructure) {
	if sd.Content == nil {
		if err := sd.Decode(); err != nil {
			log.Tracef("skipping undecodable stream: %v", err)
			return
		}
	}
	content := sd.Content
	s.CMYKOps += len(cmykOp.FindAllIndex(content, -1))
	s.RGBOps += len(rgbOp.FindAllIndex(content, -1))
	s.GrayOps += len(grayOp.FindAllIndex(content, -1))
	s.PathOps += len(pathOp.FindAllIndex(content, -1))
	if textOp.Match(content) {
		s.HasText = true
	}
}

// components resolves a color space object to its channel count, 0 when
// unknown.
func components(ctx *model.Context, obj types.Object) int {
	if obj == nil {
		return 0
	}
	obj, err := ctx.Dereference(obj)
	if err != nil || obj == nil {
		return 0
	}
	switch cs := obj.(type) {
	case types.Name:
		switch string(cs) {
		case "DeviceCMYK", "CMYK":
			return 4
		case "DeviceRGB", "RGB", "CalRGB":
			return 3
		case "DeviceGray", "G", "CalGray":
			return 1
		}
	case types.Array:
		if len(cs) == 0 {
			return 0
		}
		family, ok := cs[0].(types.Name)
		if !ok {
			return 0
		}
		switch string(family) {
		case "ICCBased":
			if len(cs) < 2 {
				return 0
			}
			profile, err := ctx.Dereference(cs[1])
			if err != nil {
				return 0
			}
			if sd, ok := profile.(types.StreamDict); ok {
				if n := sd.IntEntry("N"); n != nil {
					return *n
				}
			}
		case "Indexed", "I":
			if len(cs) >= 2 {
				return components(ctx, cs[1])
			}
		case "CalRGB":
			return 3
		case "CalGray":
			return 1
		}
	}
	return 0
}

// structureProbe votes from the in-process object walk. It needs no
// external tool.
type structureProbe struct{}

func (structureProbe) Name() string { return ProbeStructure }

func (p structureProbe) Probe(_ context.Context, path string) api.ColorSpaceValidation {
	s, err := InspectStructure(path)
	if err != nil {
		return inconclusive(p.Name(), api.Wrap(api.KindValidationInconclusive, p.Name(), "unreadable document", err))
	}
	return ClassifyStructure(s)
}

// ClassifyStructure turns structure counts into a vote.
func ClassifyStructure(s DocumentStructure) api.ColorSpaceValidation {
	cmyk, rgb := s.cmykEvidence(), s.rgbEvidence()
	details := map[string]any{"cmyk": cmyk, "rgb": rgb, "images": s.Images}
	switch {
	case cmyk == 0 && rgb == 0:
		return inconclusive(ProbeStructure, api.NewError(api.KindValidationInconclusive, ProbeStructure, "no color operators or color images"))
	case cmyk > rgb && rgb == 0:
		return verdict(ProbeStructure, api.ColorSpaceCMYK, 0.9, details)
	case cmyk > rgb:
		return verdict(ProbeStructure, api.ColorSpaceCMYK, 0.75, details)
	case cmyk == 0:
		return verdict(ProbeStructure, api.ColorSpaceRGB, 0.9, details)
	}
	return verdict(ProbeStructure, api.ColorSpaceRGB, 0.75, details)
}
