package api

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExportType selects between one design document and several regions.
type ExportType string

const (
	ExportSingle      ExportType = "single"
	ExportMultiRegion ExportType = "multiRegion"
)

// NewTaskID generates the identifier that namespaces a task's directory.
func NewTaskID() string {
	return "export-task-" + uuid.NewString()
}

// Region is one exportable artifact.
type Region struct {
	ID      string `json:"id" yaml:"id"`
	SVGPath string `json:"svg" yaml:"svg"`
	// JSONPath is the editor state of the region, copied next to its outputs.
	JSONPath string `json:"json,omitempty" yaml:"json,omitempty"`
}

// ExportRequest is the orchestrator's input. All paths point at files that
// have already been staged on local disk.
type ExportRequest struct {
	TaskID      string     `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	ExportDir   string     `json:"exportDir" yaml:"exportDir"`
	Type        ExportType `json:"exportType,omitempty" yaml:"exportType,omitempty"`
	ICCProfile  string     `json:"iccProfile,omitempty" yaml:"iccProfile,omitempty"`
	DetectedDPI int        `json:"detectedDPI,omitempty" yaml:"detectedDPI,omitempty"`
	// SourceRegion names the region the DPI was detected from.
	SourceRegion string   `json:"sourceRegion,omitempty" yaml:"sourceRegion,omitempty"`
	Regions      []Region `json:"regions" yaml:"regions"`
	Images       []string `json:"images,omitempty" yaml:"images,omitempty"`
	Preview      string   `json:"preview,omitempty" yaml:"preview,omitempty"`
	// PreserveForPrint switches image pre-processing to print fidelity.
	PreserveForPrint bool `json:"preserveForPrint,omitempty" yaml:"preserveForPrint,omitempty"`
}

// Validate checks the request shape. Region-level problems are reported in
// the region results, not here.
func (r ExportRequest) Validate() error {
	const op = "ExportRequest.Validate"
	if strings.TrimSpace(r.ExportDir) == "" {
		return NewError(KindInvalidInput, op, "export directory is empty")
	}
	if len(r.Regions) == 0 {
		return NewError(KindInvalidInput, op, "no regions to export")
	}
	if r.Type == ExportSingle && len(r.Regions) > 1 {
		return Errorf(KindInvalidInput, op, "single export takes one design, got %d", len(r.Regions))
	}
	seen := map[string]bool{}
	for i, region := range r.Regions {
		if region.ID == "" {
			return Errorf(KindInvalidInput, op, "region %d has no id", i)
		}
		if !plainName(region.ID) {
			return Errorf(KindInvalidInput, op, "region id %q is not a plain file name", region.ID)
		}
		if seen[region.ID] {
			return Errorf(KindInvalidInput, op, "duplicate region id %q", region.ID)
		}
		seen[region.ID] = true
	}
	return nil
}

// plainName reports whether name can be used as a single path element
// without leaving its parent directory.
func plainName(name string) bool {
	return name != "." && name != ".." && filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

// DPIInfo records where the density used for rendering came from.
type DPIInfo struct {
	Detected int    `json:"detected,omitempty" yaml:"detected,omitempty"`
	Used     int    `json:"used" yaml:"used"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// SourceStats are element counts of the source SVG.
type SourceStats struct {
	Width    float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height   float64 `json:"height,omitempty" yaml:"height,omitempty"`
	Groups   int     `json:"groups" yaml:"groups"`
	Paths    int     `json:"paths" yaml:"paths"`
	Shapes   int     `json:"shapes" yaml:"shapes"`
	Elements int     `json:"elements" yaml:"elements"`
}

// StepTiming records how long one pipeline step took.
type StepTiming struct {
	Step     string        `json:"step" yaml:"step"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RegionReport is the result record of one region.
type RegionReport struct {
	RegionID    string                 `json:"regionId" yaml:"regionId"`
	Success     bool                   `json:"success" yaml:"success"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
	SVG         string                 `json:"svg,omitempty" yaml:"svg,omitempty"`
	PDF         string                 `json:"pdf,omitempty" yaml:"pdf,omitempty"`
	CMYKPDF     string                 `json:"cmykPdf,omitempty" yaml:"cmykPdf,omitempty"`
	Preview     string                 `json:"preview,omitempty" yaml:"preview,omitempty"`
	Renderer    string                 `json:"renderer,omitempty" yaml:"renderer,omitempty"`
	Source      *SourceStats           `json:"source,omitempty" yaml:"source,omitempty"`
	Conversion  *ConversionResult      `json:"conversion,omitempty" yaml:"conversion,omitempty"`
	ColorSpace  *WeightedConsensus     `json:"colorSpace,omitempty" yaml:"colorSpace,omitempty"`
	Vector      *VectorIntegrityReport `json:"vector,omitempty" yaml:"vector,omitempty"`
	Consistency *ColorConsistency      `json:"consistency,omitempty" yaml:"consistency,omitempty"`
	Steps       []StepTiming           `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// ImageReport records the pre-processing of one shared image.
type ImageReport struct {
	Path      string `json:"path" yaml:"path"`
	Processed bool   `json:"processed" yaml:"processed"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ExportReport is returned to the caller once every region was attempted.
type ExportReport struct {
	TaskID            string         `json:"taskId" yaml:"taskId"`
	ExportType        ExportType     `json:"exportType" yaml:"exportType"`
	ExportDir         string         `json:"exportDir" yaml:"exportDir"`
	ICCProfile        string         `json:"iccProfile" yaml:"iccProfile"`
	RegionCount       int            `json:"regionCount" yaml:"regionCount"`
	SuccessfulRegions int            `json:"successfulRegions" yaml:"successfulRegions"`
	UsedCMYK          bool           `json:"usedCMYK" yaml:"usedCMYK"`
	UsedICC           bool           `json:"usedICC" yaml:"usedICC"`
	ConversionMethods []string       `json:"conversionMethods" yaml:"conversionMethods"`
	AllVector         bool           `json:"allVector" yaml:"allVector"`
	DPI               DPIInfo        `json:"dpiInfo" yaml:"dpiInfo"`
	Regions           []RegionReport `json:"regions" yaml:"regions"`
	Images            []ImageReport  `json:"images,omitempty" yaml:"images,omitempty"`
	CreatedAt         time.Time      `json:"createdAt" yaml:"createdAt"`
	Duration          time.Duration  `json:"duration" yaml:"duration"`
}

func (r ExportReport) String() string {
	return fmt.Sprintf("%s: %d/%d regions, cmyk=%v icc=%v methods=%v vector=%v",
		r.TaskID, r.SuccessfulRegions, r.RegionCount, r.UsedCMYK, r.UsedICC, r.ConversionMethods, r.AllVector)
}
