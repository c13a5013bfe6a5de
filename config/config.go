// Package config loads prepress settings from a YAML file, a .env file,
// PREPRESS_* environment variables and command line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/flanksource/prepress/profiles"
	"github.com/flanksource/prepress/render"
	"github.com/flanksource/prepress/validate"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PREPRESS_"

type Conversion struct {
	// Profile is the destination ICC profile of requests that name none.
	Profile          string        `json:"profile" yaml:"profile"`
	SourceProfile    string        `json:"sourceProfile" yaml:"sourceProfile"`
	Quality          int           `json:"quality" yaml:"quality"`
	ImageQuality     int           `json:"imageQuality" yaml:"imageQuality"`
	AllowGhostscript bool          `json:"allowGhostscript" yaml:"allowGhostscript"`
	ToolTimeout      time.Duration `json:"toolTimeout" yaml:"toolTimeout"`
	// DefaultDPI is used when an export does not report a detected DPI.
	DefaultDPI int `json:"defaultDPI" yaml:"defaultDPI"`
}

type Preprocess struct {
	MaxPixels int `json:"maxPixels" yaml:"maxPixels"`
	Quality   int `json:"quality" yaml:"quality"`
}

type Export struct {
	// CompareColor measures the RMSE between the RGB and CMYK renders.
	CompareColor bool `json:"compareColor" yaml:"compareColor"`
	PreviewSize  int  `json:"previewSize" yaml:"previewSize"`
	// Concurrency bounds parallel tasks of the batch command.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

type Server struct {
	Addr        string   `json:"addr" yaml:"addr"`
	CORSOrigins []string `json:"corsOrigins" yaml:"corsOrigins"`
}

type Config struct {
	ExportsDir  string            `json:"exportsDir" yaml:"exportsDir"`
	ProfilesDir string            `json:"profilesDir" yaml:"profilesDir"`
	ScratchDir  string            `json:"scratchDir,omitempty" yaml:"scratchDir,omitempty"`
	Profiles    map[string]string `json:"profiles,omitempty" yaml:"profiles,omitempty"`

	Conversion Conversion             `json:"conversion" yaml:"conversion"`
	Preprocess Preprocess             `json:"preprocess" yaml:"preprocess"`
	Validation validate.Options       `json:"validation" yaml:"validation"`
	Render     render.RendererOptions `json:"render" yaml:"render"`
	Export     Export                 `json:"export" yaml:"export"`
	Server     Server                 `json:"server" yaml:"server"`
}

func Default() Config {
	return Config{
		ExportsDir:  "exports",
		ProfilesDir: "profiles",
		Conversion: Conversion{
			Profile:          profiles.JapanColor2001Coated,
			SourceProfile:    profiles.SRGB,
			Quality:          95,
			ImageQuality:     98,
			AllowGhostscript: true,
			ToolTimeout:      5 * time.Minute,
			DefaultDPI:       72,
		},
		Preprocess: Preprocess{MaxPixels: 15000, Quality: 90},
		Validation: validate.DefaultOptions(),
		Export:     Export{PreviewSize: render.DefaultPreviewSize, Concurrency: 2},
		Server:     Server{Addr: ":3001", CORSOrigins: []string{"*"}},
	}
}

// Load reads path (optional) and the environment on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from PREPRESS_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(name string) (string, bool) {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		return v, v != ""
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := env(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := env(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("EXPORTS_DIR", &c.ExportsDir)
	str("PROFILES_DIR", &c.ProfilesDir)
	str("SCRATCH_DIR", &c.ScratchDir)
	str("ICC_PROFILE", &c.Conversion.Profile)
	num("QUALITY", &c.Conversion.Quality)
	num("DPI", &c.Conversion.DefaultDPI)
	boolean("ALLOW_GHOSTSCRIPT", &c.Conversion.AllowGhostscript)
	num("MAX_PIXELS", &c.Preprocess.MaxPixels)
	boolean("COMPARE_COLOR", &c.Export.CompareColor)
	boolean("PLAYWRIGHT", &c.Render.Playwright)
	str("ADDR", &c.Server.Addr)
	if v, ok := env("TOOL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTOOL_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.Conversion.ToolTimeout = d
		}
	}
	if v, ok := env("PROBES"); ok {
		c.Validation.Probes = lo.Map(strings.Split(v, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
	}
	if v, ok := env("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
	return errors.Join(errs...)
}

// BindFlags registers flags that write straight into c.
func (c *Config) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.ExportsDir, "exports-dir", c.ExportsDir, "Directory export tasks are written to")
	flags.StringVar(&c.ProfilesDir, "profiles-dir", c.ProfilesDir, "Directory holding the ICC profiles")
	flags.StringVar(&c.ScratchDir, "scratch-dir", c.ScratchDir, "Directory for intermediate files (default: system temp)")
	flags.StringVar(&c.Conversion.Profile, "icc-profile", c.Conversion.Profile, "Destination ICC profile")
	flags.IntVar(&c.Conversion.Quality, "quality", c.Conversion.Quality, "JPEG quality of converted documents (1-100)")
	flags.IntVar(&c.Conversion.DefaultDPI, "dpi", c.Conversion.DefaultDPI, "DPI used when none was detected")
	flags.BoolVar(&c.Conversion.AllowGhostscript, "allow-ghostscript", c.Conversion.AllowGhostscript, "Allow Ghostscript as the last CMYK fallback")
	flags.DurationVar(&c.Conversion.ToolTimeout, "tool-timeout", c.Conversion.ToolTimeout, "Timeout of a single external tool invocation")
	flags.IntVar(&c.Preprocess.MaxPixels, "max-pixels", c.Preprocess.MaxPixels, "Maximum image side for screen output")
	flags.StringSliceVar(&c.Validation.Probes, "probes", c.Validation.Probes, "Color probes to run")
	flags.BoolVar(&c.Export.CompareColor, "compare-color", c.Export.CompareColor, "Measure RMSE between RGB and CMYK renders")
	flags.BoolVar(&c.Render.Playwright, "playwright", c.Render.Playwright, "Use headless Chromium as the last SVG renderer")
}

// ApplyFlags copies the flags explicitly set on parsed into c, so command
// line values win over the file and the environment.
func (c *Config) ApplyFlags(parsed *pflag.FlagSet) error {
	own := pflag.NewFlagSet("config", pflag.ContinueOnError)
	c.BindFlags(own)
	var errs []error
	parsed.Visit(func(f *pflag.Flag) {
		target := own.Lookup(f.Name)
		if target == nil {
			return
		}
		if src, ok := f.Value.(pflag.SliceValue); ok {
			if dst, ok := target.Value.(pflag.SliceValue); ok {
				errs = append(errs, dst.Replace(src.GetSlice()))
				return
			}
		}
		errs = append(errs, target.Value.Set(f.Value.String()))
	})
	return errors.Join(errs...)
}

// Validate rejects settings that would fail every conversion.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ExportsDir) == "" {
		errs = append(errs, errors.New("exportsDir is empty"))
	}
	if c.Conversion.Quality < 1 || c.Conversion.Quality > 100 {
		errs = append(errs, fmt.Errorf("conversion.quality %d is outside 1..100", c.Conversion.Quality))
	}
	if c.Conversion.DefaultDPI <= 0 {
		errs = append(errs, fmt.Errorf("conversion.defaultDPI must be positive, got %d", c.Conversion.DefaultDPI))
	}
	if c.Conversion.ToolTimeout < 0 {
		errs = append(errs, errors.New("conversion.toolTimeout is negative"))
	}
	if c.Preprocess.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("preprocess.maxPixels must be positive, got %d", c.Preprocess.MaxPixels))
	}
	known := append(append([]string{}, validate.DefaultProbes...), validate.OptionalProbes...)
	for _, p := range c.Validation.Probes {
		if !lo.Contains(known, p) {
			errs = append(errs, fmt.Errorf("unknown probe %q, expected one of %v", p, known))
		}
	}
	if c.Export.Concurrency < 0 {
		errs = append(errs, errors.New("export.concurrency is negative"))
	}
	return errors.Join(errs...)
}

func (c Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
