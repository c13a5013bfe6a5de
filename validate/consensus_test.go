package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flanksource/prepress/api"
)

func vote(method string, cs api.ColorSpace, confidence float64) api.ColorSpaceValidation {
	return api.ColorSpaceValidation{Success: true, Method: method, ColorSpace: cs, Confidence: confidence}
}

func TestConsensusMetadataWeighsDouble(t *testing.T) {
	// exiftool (2.0) alone against one RGB probe: 2 > 3/2
	c := Consensus([]api.ColorSpaceValidation{
		vote(ProbeExifTool, api.ColorSpaceCMYK, 0.95),
		vote(ProbePixel, api.ColorSpaceRGB, 0.5),
	}, nil)

	assert.True(t, c.Success)
	assert.Equal(t, api.ColorSpaceCMYK, c.ColorSpace)
	assert.Equal(t, 3.0, c.TotalWeight)
	assert.Equal(t, 2.0, c.CMYKWeight)
	assert.InDelta(t, (0.95*2+0.5)/3, c.Confidence, 1e-9)
}

func TestConsensusExactTieIsRGB(t *testing.T) {
	cases := []struct {
		name    string
		results []api.ColorSpaceValidation
	}{
		{"two equal probes", []api.ColorSpaceValidation{
			vote(ProbePixel, api.ColorSpaceCMYK, 1),
			vote(ProbeIdentify, api.ColorSpaceRGB, 0.5),
		}},
		{"exiftool against two", []api.ColorSpaceValidation{
			vote(ProbeExifTool, api.ColorSpaceCMYK, 0.95),
			vote(ProbePixel, api.ColorSpaceRGB, 0.5),
			vote(ProbeGhostscript, api.ColorSpaceRGB, 0.6),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Consensus(tc.results, nil)
			assert.True(t, c.Success)
			assert.Equal(t, c.TotalWeight/2, c.CMYKWeight)
			assert.Equal(t, api.ColorSpaceRGB, c.ColorSpace)
		})
	}
}

func TestConsensusNormalizesConfidence(t *testing.T) {
	c := Consensus([]api.ColorSpaceValidation{
		vote(ProbePixel, api.ColorSpaceCMYK, math.NaN()),
		vote(ProbeIdentify, api.ColorSpaceCMYK, math.Inf(1)),
		vote(ProbeGhostscript, api.ColorSpaceCMYK, 7),
		vote("custom", api.ColorSpaceCMYK, -3),
	}, nil)

	assert.True(t, c.Success)
	assert.False(t, math.IsNaN(c.Confidence))
	assert.InDelta(t, (0.5+0.5+1+0)/4, c.Confidence, 1e-9)
	for _, r := range c.Results {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestConsensusIgnoresFailedProbes(t *testing.T) {
	results := []api.ColorSpaceValidation{
		{Method: ProbeExifTool, Error: "not installed"},
		vote(ProbePixel, api.ColorSpaceCMYK, 1),
	}
	c := Consensus(results, nil)
	assert.Equal(t, 1.0, c.TotalWeight)
	assert.Equal(t, api.ColorSpaceCMYK, c.ColorSpace)
	assert.Len(t, c.Results, 2)
	assert.Zero(t, results[1].Weight, "input must not be mutated")
}

func TestConsensusNoSuccessfulProbes(t *testing.T) {
	c := Consensus([]api.ColorSpaceValidation{{Method: ProbePixel, Error: "boom"}}, nil)
	assert.False(t, c.Success)
	assert.NotEmpty(t, c.Error)

	c = Consensus(nil, nil)
	assert.False(t, c.Success)
}

func TestConsensusCustomWeights(t *testing.T) {
	c := Consensus([]api.ColorSpaceValidation{
		vote(ProbeExifTool, api.ColorSpaceCMYK, 0.95),
		vote(ProbePixel, api.ColorSpaceRGB, 0.5),
	}, map[string]float64{ProbePixel: 3})
	assert.Equal(t, api.ColorSpaceRGB, c.ColorSpace)
	assert.Equal(t, 4.0, c.TotalWeight)
}
