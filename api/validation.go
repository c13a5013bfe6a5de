package api

// ColorSpace is the verdict of a color-space probe.
type ColorSpace string

const (
	ColorSpaceCMYK ColorSpace = "CMYK"
	ColorSpaceRGB  ColorSpace = "RGB"
)

func (c ColorSpace) IsCMYK() bool {
	return c == ColorSpaceCMYK
}

// ColorSpaceValidation is the result of one probe invocation.
type ColorSpaceValidation struct {
	Success    bool           `json:"success" yaml:"success"`
	ColorSpace ColorSpace     `json:"colorSpace,omitempty" yaml:"colorSpace,omitempty"`
	Confidence float64        `json:"confidence" yaml:"confidence"`
	Method     string         `json:"method" yaml:"method"`
	Weight     float64        `json:"weight,omitempty" yaml:"weight,omitempty"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// WeightedConsensus combines the successful probe results of one artifact.
type WeightedConsensus struct {
	Success     bool                   `json:"success" yaml:"success"`
	ColorSpace  ColorSpace             `json:"colorSpace,omitempty" yaml:"colorSpace,omitempty"`
	Confidence  float64                `json:"confidence" yaml:"confidence"`
	Summary     string                 `json:"summary,omitempty" yaml:"summary,omitempty"`
	CMYKWeight  float64                `json:"cmykWeight" yaml:"cmykWeight"`
	TotalWeight float64                `json:"totalWeight" yaml:"totalWeight"`
	Results     []ColorSpaceValidation `json:"perMethodResults,omitempty" yaml:"perMethodResults,omitempty"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// VectorIntegrityReport estimates whether a document kept its vector content.
type VectorIntegrityReport struct {
	IsVector          bool     `json:"isVector" yaml:"isVector"`
	HasText           bool     `json:"hasText" yaml:"hasText"`
	HasVectorGraphics bool     `json:"hasVectorGraphics" yaml:"hasVectorGraphics"`
	HasEmbeddedImages bool     `json:"hasEmbeddedImages" yaml:"hasEmbeddedImages"`
	VectorFriendly    bool     `json:"vectorFriendly" yaml:"vectorFriendly"`
	ImageCount        int      `json:"imageCount" yaml:"imageCount"`
	FontCount         int      `json:"fontCount" yaml:"fontCount"`
	FileSizeKB        int      `json:"fileSizeKB" yaml:"fileSizeKB"`
	SuspiciouslyLarge bool     `json:"suspiciouslyLarge,omitempty" yaml:"suspiciouslyLarge,omitempty"`
	Warnings          []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Probes            []string `json:"probes,omitempty" yaml:"probes,omitempty"`
}

// ColorConsistency compares an original render against its CMYK conversion.
type ColorConsistency struct {
	RMSE       *float64 `json:"rmse,omitempty" yaml:"rmse,omitempty"`
	Acceptable bool     `json:"acceptable" yaml:"acceptable"`
	Raw        string   `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// ICCProfile is an immutable registry entry.
type ICCProfile struct {
	LogicalName string `json:"logicalName" yaml:"logicalName"`
	FilePath    string `json:"filePath" yaml:"filePath"`
	Exists      bool   `json:"exists" yaml:"exists"`
	ColorSpace  string `json:"colorSpace,omitempty" yaml:"colorSpace,omitempty"`
	Components  int    `json:"components,omitempty" yaml:"components,omitempty"`
	SizeKB      int    `json:"sizeKB,omitempty" yaml:"sizeKB,omitempty"`
}
