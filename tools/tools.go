// Package tools probes the external color, PDF and SVG utilities the export
// pipeline shells out to, and hands out an immutable snapshot of what was found.
package tools

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/prepress/exec"
)

var log = logger.GetLogger("tools")

type Tool string

const (
	JPGICC      Tool = "jpgicc"
	ImageMagick Tool = "imagemagick"
	Identify    Tool = "identify"
	Compare     Tool = "compare"
	Ghostscript Tool = "ghostscript"
	ExifTool    Tool = "exiftool"
	PDFFonts    Tool = "pdffonts"
	PDFInfo     Tool = "pdfinfo"
	PDFImages   Tool = "pdfimages"
	MuTool      Tool = "mutool"
	Inkscape    Tool = "inkscape"
	RSVG        Tool = "rsvg-convert"
)

// All lists every tool the Detector probes, in report order.
var All = []Tool{JPGICC, ImageMagick, Identify, Compare, Ghostscript, ExifTool, PDFFonts, PDFInfo, PDFImages, MuTool, Inkscape, RSVG}

// ToolAvailability is the probe result for one tool. An empty Command and a
// zero VersionMajor mean the value is unknown.
type ToolAvailability struct {
	Name      Tool   `json:"name" yaml:"name"`
	Available bool   `json:"available" yaml:"available"`
	Command   string `json:"command,omitempty" yaml:"command,omitempty"`
	// Prefix holds leading arguments, e.g. "identify" for `magick identify`.
	Prefix       []string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	VersionMajor int      `json:"versionMajor,omitempty" yaml:"versionMajor,omitempty"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
}

// Snapshot is a read-only view of tool availability, safe to share.
type Snapshot struct {
	tools      map[Tool]ToolAvailability
	DetectedAt time.Time
}

// NewSnapshot builds a snapshot from explicit entries. Tools without an entry
// are unavailable.
func NewSnapshot(items ...ToolAvailability) Snapshot {
	s := Snapshot{tools: map[Tool]ToolAvailability{}, DetectedAt: time.Now()}
	for _, item := range items {
		if item.Available && item.Command == "" {
			item.Command = defaultCommand(item.Name)
		}
		s.tools[item.Name] = item
	}
	return s
}

// Available is a convenience for NewSnapshot with default commands.
func Available(names ...Tool) Snapshot {
	return NewSnapshot(lo.Map(names, func(n Tool, _ int) ToolAvailability {
		return ToolAvailability{Name: n, Available: true}
	})...)
}

func defaultCommand(t Tool) string {
	switch t {
	case ImageMagick:
		return "magick"
	case Ghostscript:
		return "gs"
	default:
		return string(t)
	}
}

func (s Snapshot) Get(t Tool) ToolAvailability {
	if a, ok := s.tools[t]; ok {
		return a
	}
	return ToolAvailability{Name: t}
}

func (s Snapshot) Has(t Tool) bool {
	return s.Get(t).Available
}

// Invocation returns the binary and full argument list to run t with args.
func (s Snapshot) Invocation(t Tool, args ...string) (string, []string) {
	a := s.Get(t)
	cmd := a.Command
	if cmd == "" {
		cmd = defaultCommand(t)
	}
	return cmd, append(append([]string{}, a.Prefix...), args...)
}

// List returns every probed entry in report order.
func (s Snapshot) List() []ToolAvailability {
	var out []ToolAvailability
	for _, t := range All {
		out = append(out, s.Get(t))
	}
	for t, a := range s.tools {
		if !lo.Contains(All, t) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out[len(All):], func(i, j int) bool {
		return out[len(All)+i].Name < out[len(All)+j].Name
	})
	return out
}

// AvailableNames lists the names of the tools that were found.
func (s Snapshot) AvailableNames() []string {
	return lo.FilterMap(s.List(), func(a ToolAvailability, _ int) (string, bool) {
		return string(a.Name), a.Available
	})
}

// Detector probes tools once and memoizes the snapshot until Refresh.
type Detector struct {
	runner   exec.Runner
	mu       sync.Mutex
	snapshot *Snapshot
}

func NewDetector(runner exec.Runner) *Detector {
	return &Detector{runner: runner}
}

// Detect returns the memoized snapshot, probing on first use. It never fails:
// a tool whose probe errors is reported unavailable.
func (d *Detector) Detect(ctx context.Context) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshot == nil {
		s := d.probe(ctx)
		d.snapshot = &s
	}
	return *d.snapshot
}

// Refresh discards the memoized snapshot and probes again.
func (d *Detector) Refresh(ctx context.Context) Snapshot {
	d.mu.Lock()
	d.snapshot = nil
	d.mu.Unlock()
	return d.Detect(ctx)
}

func (d *Detector) probe(ctx context.Context) Snapshot {
	var items []ToolAvailability

	items = append(items, d.simple(ctx, JPGICC, "jpgicc", "-v"))

	magick := d.imageMagick(ctx)
	items = append(items, magick)
	items = append(items, magickSibling(magick, Identify), magickSibling(magick, Compare))

	gs := d.simple(ctx, Ghostscript, "gs", "--version")
	if gs.Available {
		gs.Version = firstLine(gs.Version)
		gs.VersionMajor = parseMajor(gs.Version)
	}
	items = append(items, gs)

	items = append(items,
		d.simple(ctx, ExifTool, "exiftool", "-ver"),
		d.simple(ctx, PDFFonts, "pdffonts", "-v"),
		d.simple(ctx, PDFInfo, "pdfinfo", "-v"),
		d.simple(ctx, PDFImages, "pdfimages", "-v"),
		d.simple(ctx, MuTool, "mutool", "-v"),
		d.simple(ctx, Inkscape, "inkscape", "--version"),
		d.simple(ctx, RSVG, "rsvg-convert", "--version"),
	)

	s := NewSnapshot(items...)
	log.Infof("available tools: %s", strings.Join(s.AvailableNames(), ", "))
	if s.Has(Ghostscript) {
		log.Debugf("ghostscript %s found, it is only used as the last conversion fallback", gs.Version)
	}
	return s
}

func (d *Detector) simple(ctx context.Context, t Tool, cmd string, args ...string) ToolAvailability {
	res := d.runner.Run(ctx, cmd, args...)
	a := ToolAvailability{Name: t}
	if res.IsOK() {
		a.Available = true
		a.Command = cmd
		a.Version = strings.TrimSpace(firstLine(res.Out()))
	}
	log.Tracef("%s: available=%v", t, a.Available)
	return a
}

// imageMagick prefers the v7 `magick` entry point and falls back to the v6
// `convert` binary.
func (d *Detector) imageMagick(ctx context.Context) ToolAvailability {
	for _, candidate := range []struct {
		cmd   string
		major int
	}{{"magick", 7}, {"convert", 6}} {
		res := d.runner.Run(ctx, candidate.cmd, "-version")
		if !res.IsOK() {
			continue
		}
		version := firstLine(res.Out())
		major := parseMagickMajor(version)
		if major == 0 {
			major = candidate.major
		}
		return ToolAvailability{
			Name:         ImageMagick,
			Available:    true,
			Command:      candidate.cmd,
			VersionMajor: major,
			Version:      version,
		}
	}
	return ToolAvailability{Name: ImageMagick}
}

// magickSibling derives identify/compare from the image suite: subcommands of
// `magick` on v7, standalone binaries on v6.
func magickSibling(magick ToolAvailability, t Tool) ToolAvailability {
	a := ToolAvailability{Name: t, Available: magick.Available, VersionMajor: magick.VersionMajor, Version: magick.Version}
	if !magick.Available {
		return a
	}
	if magick.Command == "magick" {
		a.Command = "magick"
		a.Prefix = []string{string(t)}
	} else {
		a.Command = string(t)
	}
	return a
}

var (
	magickVersion = regexp.MustCompile(`ImageMagick (\d+)\.`)
	leadingNumber = regexp.MustCompile(`(\d+)`)
)

func parseMagickMajor(s string) int {
	if m := magickVersion.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func parseMajor(s string) int {
	if m := leadingNumber.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
