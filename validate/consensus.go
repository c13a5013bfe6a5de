package validate

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/flanksource/prepress/api"
)

const (
	// DefaultWeight applies to every probe without an explicit weight.
	DefaultWeight = 1.0
	// MetadataWeight is the weight of the exiftool probe, the most reliable one.
	MetadataWeight = 2.0
	// UnknownConfidence replaces NaN or infinite confidences.
	UnknownConfidence = 0.5
)

// DefaultWeights returns a fresh copy of the built-in probe weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{ProbeExifTool: MetadataWeight}
}

// NormalizeConfidence maps NaN/Inf to 0.5 and clamps everything else to [0,1].
func NormalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return UnknownConfidence
	}
	return math.Max(0, math.Min(1, c))
}

func weightOf(method string, weights map[string]float64) float64 {
	if w, ok := weights[method]; ok && w > 0 && !math.IsNaN(w) && !math.IsInf(w, 0) {
		return w
	}
	return DefaultWeight
}

// Consensus combines probe results. Only successful probes vote; the verdict
// is CMYK only when CMYK votes carry strictly more than half of the weight,
// so an exact tie is RGB.
func Consensus(results []api.ColorSpaceValidation, weights map[string]float64) api.WeightedConsensus {
	if weights == nil {
		weights = DefaultWeights()
	}
	out := api.WeightedConsensus{Results: append([]api.ColorSpaceValidation(nil), results...)}
	voters := lo.Filter(results, func(r api.ColorSpaceValidation, _ int) bool { return r.Success })
	if len(voters) == 0 {
		out.Error = "no validation method succeeded"
		return out
	}

	var total, cmykWeight, weighted float64
	for i := range out.Results {
		if !out.Results[i].Success {
			continue
		}
		r := &out.Results[i]
		w := weightOf(r.Method, weights)
		r.Weight = w
		r.Confidence = NormalizeConfidence(r.Confidence)
		total += w
		weighted += r.Confidence * w
		if r.ColorSpace.IsCMYK() {
			cmykWeight += w
		}
	}

	out.Success = true
	out.TotalWeight = total
	out.CMYKWeight = cmykWeight
	out.Confidence = weighted / total
	out.ColorSpace = api.ColorSpaceRGB
	if cmykWeight > total/2 {
		out.ColorSpace = api.ColorSpaceCMYK
	}
	agreeing := lo.CountBy(voters, func(r api.ColorSpaceValidation) bool {
		return r.ColorSpace.IsCMYK() == out.ColorSpace.IsCMYK()
	})
	out.Summary = fmt.Sprintf("%d/%d methods agree on %s (weight %.1f/%.1f CMYK, confidence %.2f)",
		agreeing, len(voters), out.ColorSpace, cmykWeight, total, out.Confidence)
	return out
}
