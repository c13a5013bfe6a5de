package api

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RenderingIntent is the ICC policy for mapping out-of-gamut colors.
type RenderingIntent string

const (
	IntentPerceptual           RenderingIntent = "perceptual"
	IntentRelativeColorimetric RenderingIntent = "relative"
	IntentSaturation           RenderingIntent = "saturation"
	IntentAbsoluteColorimetric RenderingIntent = "absolute"
)

// ParseIntent accepts the lowercase names used in configuration as well as
// the ImageMagick spellings. An empty string means perceptual.
func ParseIntent(s string) (RenderingIntent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "perceptual":
		return IntentPerceptual, nil
	case "relative", "relativecolorimetric", "relative-colorimetric":
		return IntentRelativeColorimetric, nil
	case "saturation":
		return IntentSaturation, nil
	case "absolute", "absolutecolorimetric", "absolute-colorimetric":
		return IntentAbsoluteColorimetric, nil
	}
	return "", fmt.Errorf("unknown rendering intent %q", s)
}

// MagickName is the value passed to ImageMagick's -intent option.
func (i RenderingIntent) MagickName() string {
	switch i {
	case IntentRelativeColorimetric:
		return "Relative"
	case IntentSaturation:
		return "Saturation"
	case IntentAbsoluteColorimetric:
		return "Absolute"
	default:
		return "Perceptual"
	}
}

// LCMSCode is the numeric intent understood by the littleCMS utilities
// (jpgicc -t).
func (i RenderingIntent) LCMSCode() int {
	switch i {
	case IntentRelativeColorimetric:
		return 1
	case IntentSaturation:
		return 2
	case IntentAbsoluteColorimetric:
		return 3
	default:
		return 0
	}
}

// ConversionRequest describes a single color conversion. It is built per call
// and consumed once.
type ConversionRequest struct {
	SourcePath      string          `json:"sourcePath" yaml:"sourcePath"`
	DestinationPath string          `json:"destinationPath" yaml:"destinationPath"`
	ICCProfile      string          `json:"iccProfile,omitempty" yaml:"iccProfile,omitempty"`
	RenderingIntent RenderingIntent `json:"renderingIntent,omitempty" yaml:"renderingIntent,omitempty"`
	Quality         int             `json:"quality" yaml:"quality"`
	TargetDPI       int             `json:"targetDPI" yaml:"targetDPI"`
}

// Validate rejects requests that must never reach an external tool.
// A missing TargetDPI is an error rather than a default: rendering at the
// wrong density silently degrades the artifact.
func (r ConversionRequest) Validate() error {
	const op = "ConversionRequest.Validate"
	if r.TargetDPI <= 0 {
		return Errorf(KindInvalidInput, op, "targetDPI must be a positive integer, got %d", r.TargetDPI)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return Errorf(KindInvalidInput, op, "quality must be between 0 and 100, got %d", r.Quality)
	}
	if strings.TrimSpace(r.SourcePath) == "" {
		return NewError(KindInvalidInput, op, "source document path is empty")
	}
	if strings.TrimSpace(r.DestinationPath) == "" {
		return NewError(KindInvalidInput, op, "destination document path is empty")
	}
	info, err := os.Stat(r.SourcePath)
	if err != nil {
		return Wrap(KindInvalidInput, op, "source document not accessible", err)
	}
	if info.IsDir() {
		return Errorf(KindInvalidInput, op, "source %s is a directory", r.SourcePath)
	}
	return nil
}

// Attempt records one strategy invocation inside a chain.
type Attempt struct {
	Method   string        `json:"method" yaml:"method"`
	Skipped  bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// ConversionResult is produced by exactly one strategy attempt and never
// mutated after it is returned.
type ConversionResult struct {
	Success  bool          `json:"success" yaml:"success"`
	UsedCMYK bool          `json:"usedCMYK" yaml:"usedCMYK"`
	UsedICC  bool          `json:"usedICC" yaml:"usedICC"`
	Method   string        `json:"method,omitempty" yaml:"method,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts []Attempt     `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Failed builds an unsuccessful result for method.
func Failed(method string, err error) ConversionResult {
	r := ConversionResult{Method: method}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// WithAttempts returns a copy of r carrying the given attempt log.
func (r ConversionResult) WithAttempts(attempts []Attempt) ConversionResult {
	r.Attempts = append([]Attempt(nil), attempts...)
	return r
}
