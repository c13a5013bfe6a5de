package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/flanksource/prepress/api"
)

func sampleReport() *api.ExportReport {
	return &api.ExportReport{
		TaskID:            "export-task-1",
		ExportType:        api.ExportMultiRegion,
		ExportDir:         "/exports/export-task-1",
		ICCProfile:        "JapanColor2001Coated",
		RegionCount:       2,
		SuccessfulRegions: 1,
		UsedCMYK:          true,
		UsedICC:           true,
		ConversionMethods: []string{"imagemagick"},
		DPI:               api.DPIInfo{Detected: 300, Used: 300, Source: "front"},
		CreatedAt:         time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Duration:          3 * time.Second,
		Regions: []api.RegionReport{
			{
				RegionID:   "front",
				Success:    true,
				Renderer:   "inkscape",
				CMYKPDF:    "/exports/export-task-1/front/front-cmyk.pdf",
				Conversion: &api.ConversionResult{Success: true, UsedCMYK: true, UsedICC: true, Method: "imagemagick"},
				ColorSpace: &api.WeightedConsensus{Success: true, ColorSpace: api.ColorSpaceCMYK, Confidence: 0.8, Summary: "4/5 methods"},
				Vector:     &api.VectorIntegrityReport{IsVector: true, HasText: true, FontCount: 2, Warnings: []string{"large file"}},
				Steps:      []api.StepTiming{{Step: "render", Duration: time.Second}},
			},
			{RegionID: "back", Error: "SVG to PDF conversion failed | inkscape"},
		},
	}
}

func TestFormatJSONAndYAML(t *testing.T) {
	r := sampleReport()
	data, err := Format(r, Options{Format: FormatJSON})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "export-task-1", decoded["taskId"])
	assert.Equal(t, map[string]any{"detected": 300.0, "used": 300.0, "source": "front"}, decoded["dpiInfo"])

	data, err = Format(r, Options{Format: "yml"})
	require.NoError(t, err)
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(data, &y))
	assert.Equal(t, 2, y["regionCount"])
}

func TestFormatPretty(t *testing.T) {
	out, err := Format(sampleReport(), Options{Format: FormatPretty, NoColor: true})
	require.NoError(t, err)
	s := string(out)
	assert.NotContains(t, s, "\x1b[", "no escape codes without color")
	assert.Contains(t, s, "Export export-task-1")
	assert.Contains(t, s, "1/2 successful")
	assert.Contains(t, s, "✓ region front")
	assert.Contains(t, s, "✗ region back")
	assert.Contains(t, s, "CMYK (confidence 80%, 4/5 methods)")
	assert.Contains(t, s, "⚠ large file")
	assert.Contains(t, s, "300 (front)")

	out, err = Format(api.WeightedConsensus{Error: "no probe succeeded"}, Options{NoColor: true})
	require.NoError(t, err)
	assert.Contains(t, string(out), "inconclusive: no probe succeeded")

	// values without a pretty form fall back to yaml
	out, err = Format(map[string]int{"a": 1}, Options{NoColor: true})
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(out))
}

func TestFormatMarkdown(t *testing.T) {
	out, err := Format(*sampleReport(), Options{Format: "md"})
	require.NoError(t, err)
	lines := strings.Split(string(out), "\n")

	var rows []string
	for _, l := range lines {
		if strings.HasPrefix(l, "| front") || strings.HasPrefix(l, "| back") {
			rows = append(rows, l)
		}
	}
	want := []string{
		"| front | ok | inkscape | imagemagick | CMYK (80%) | yes | /exports/export-task-1/front/front-cmyk.pdf |",
		"| back | failed: SVG to PDF conversion failed \\| inkscape |  |  |  |  |  |",
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("region rows mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, string(out), "- front: large file")

	_, err = Format(api.ConversionResult{}, Options{Format: FormatMarkdown})
	assert.Error(t, err)
}

func TestFormatPDF(t *testing.T) {
	out, err := Format(sampleReport(), Options{Format: FormatPDF})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestFormatUnknown(t *testing.T) {
	_, err := Format(sampleReport(), Options{Format: "html"})
	assert.ErrorContains(t, err, "unknown format")
}

func TestWriteToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, Write(os.Stdout, sampleReport(), Options{Format: FormatMarkdown, Output: path}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Export export-task-1"))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, map[string]string{"k": "v"}, Options{Format: FormatJSON}))
	assert.Equal(t, "{\n  \"k\": \"v\"\n}\n", buf.String())
}
