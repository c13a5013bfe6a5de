package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/tools"
)

var rmseOutput = regexp.MustCompile(`([\d.]+(?:e[-+]?\d+)?)\s*\(([\d.]+(?:e[-+]?\d+)?)\)`)

// CompareColor measures the RMSE between the first pages of two renders.
// compare exits 1 when the images differ, which is not a failure here.
func (v *Validator) CompareColor(ctx context.Context, original, converted string) (api.ColorConsistency, error) {
	if !v.tools.Has(tools.Compare) {
		return api.ColorConsistency{}, api.NewError(api.KindConfigurationMissing, "validate.CompareColor", "compare is not installed")
	}
	name, args := v.tools.Invocation(tools.Compare, "-metric", "RMSE", original+"[0]", converted+"[0]", "null:")
	res := v.runner.Run(ctx, name, args...)
	if res.NotFound || res.ExitCode > 1 || (res.ExitCode < 0 && res.Err != nil) {
		return api.ColorConsistency{Raw: res.Out()}, api.Wrap(api.KindToolInvocationFailure, "validate.CompareColor", "compare failed", res.Error())
	}
	return ParseRMSE(res.Out(), v.opts.RMSEThreshold)
}

// ParseRMSE reads "absolute (normalized)" as printed by compare.
func ParseRMSE(out string, threshold float64) (api.ColorConsistency, error) {
	c := api.ColorConsistency{Raw: out}
	m := rmseOutput.FindStringSubmatch(out)
	if m == nil {
		return c, api.Errorf(api.KindValidationInconclusive, "validate.ParseRMSE", "unrecognized compare output %q", out)
	}
	rmse, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return c, fmt.Errorf("parsing rmse %q: %w", m[2], err)
	}
	c.RMSE = &rmse
	c.Acceptable = rmse < threshold
	return c, nil
}
