package profiles

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/flanksource/commons/logger"
	"seehuhn.de/go/icc"

	"github.com/flanksource/prepress/api"
)

var log = logger.GetLogger("profiles")

const (
	JapanColor2001Coated = "Japan Color 2001 Coated"
	SRGB                 = "sRGB"
	USWebCoatedSWOP      = "US Web Coated SWOP"
)

// DefaultFiles maps the logical profile names to file names inside the
// profile directory.
var DefaultFiles = map[string]string{
	JapanColor2001Coated: "JapanColor2001Coated.icc",
	SRGB:                 "sRGB.icc",
	USWebCoatedSWOP:      "USWebCoatedSWOP.icc",
}

// Registry maps logical profile names to ICC files. It is built once and
// never mutated, so it can be shared between export tasks.
type Registry struct {
	dir     string
	entries map[string]api.ICCProfile
}

// NewRegistry resolves files relative to dir. A nil files map means
// DefaultFiles.
func NewRegistry(dir string, files map[string]string) *Registry {
	if files == nil {
		files = DefaultFiles
	}
	r := &Registry{dir: dir, entries: map[string]api.ICCProfile{}}
	for name, file := range files {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, file)
		}
		r.entries[name] = inspect(name, path)
	}
	return r
}

func inspect(name, path string) api.ICCProfile {
	p := api.ICCProfile{LogicalName: name, FilePath: path}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return p
	}
	p.Exists = true
	p.SizeKB = int(info.Size() / 1024)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("ICC profile %s at %s is not readable: %v", name, path, err)
		return p
	}
	decoded, err := icc.Decode(data)
	if err != nil {
		log.Warnf("ICC profile %s at %s does not decode, it may be corrupt: %v", name, path, err)
		return p
	}
	p.ColorSpace = colorSpaceName(decoded.ColorSpace)
	p.Components = decoded.ColorSpace.NumComponents()
	return p
}

func colorSpaceName(cs icc.ColorSpace) string {
	switch cs {
	case icc.CMYKSpace:
		return "CMYK"
	case icc.RGBSpace:
		return "RGB"
	case icc.GraySpace:
		return "Gray"
	case icc.CIELabSpace:
		return "Lab"
	default:
		return "other"
	}
}

// Resolve returns the file path of the named profile, or "" when the name is
// unknown or the file is missing. A miss is logged and callers carry on
// without ICC.
func (r *Registry) Resolve(name string) string {
	p, ok := r.entries[name]
	if !ok {
		log.Warnf("ICC profile %q is not registered", name)
		return ""
	}
	if !p.Exists {
		log.Warnf("ICC profile %q not found at %s", name, p.FilePath)
		return ""
	}
	return p.FilePath
}

// Profile returns the registry entry for name; unknown names yield an entry
// with Exists=false.
func (r *Registry) Profile(name string) api.ICCProfile {
	if p, ok := r.entries[name]; ok {
		return p
	}
	return api.ICCProfile{LogicalName: name}
}

// All returns every entry sorted by logical name.
func (r *Registry) All() []api.ICCProfile {
	out := make([]api.ICCProfile, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalName < out[j].LogicalName })
	return out
}

func (r *Registry) Dir() string {
	return r.dir
}

// CheckResult is the per-profile presence report.
type CheckResult struct {
	Available bool                      `json:"available" yaml:"available"`
	Profiles  map[string]ProfilePresence `json:"profiles" yaml:"profiles"`
}

type ProfilePresence struct {
	Exists bool   `json:"exists" yaml:"exists"`
	Path   string `json:"path" yaml:"path"`
}

// Check reports which profiles are present. Available is true only when
// every registered profile exists.
func (r *Registry) Check() CheckResult {
	res := CheckResult{Available: len(r.entries) > 0, Profiles: map[string]ProfilePresence{}}
	for name, p := range r.entries {
		res.Profiles[name] = ProfilePresence{Exists: p.Exists, Path: p.FilePath}
		if !p.Exists {
			res.Available = false
		}
	}
	return res
}
