package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/shutdown"
	"github.com/flanksource/prepress/task"
)

// loadRequest reads an export request. YAML is a superset of JSON so both
// are accepted. Relative paths resolve against the request file.
func loadRequest(path string) (api.ExportRequest, error) {
	var req api.ExportRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parsing %s: %w", path, err)
	}
	base := filepath.Dir(path)
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range req.Regions {
		req.Regions[i].SVGPath = abs(req.Regions[i].SVGPath)
		req.Regions[i].JSONPath = abs(req.Regions[i].JSONPath)
	}
	for i := range req.Images {
		req.Images[i] = abs(req.Images[i])
	}
	req.Preview = abs(req.Preview)
	return req, nil
}

func newBatchCommand(a *app) *cobra.Command {
	var concurrency int
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "batch <request.yaml>...",
		Short: "Run several export requests concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.Services(cmd)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Export.Concurrency
			}
			tm := task.NewManager(cmd.Context(), task.Options{
				MaxConcurrent: concurrency,
				NoProgress:    noProgress,
				NoColor:       a.flags.Report.NoColor,
			})
			shutdown.AddHookWithPriority("batch", shutdown.PriorityTasks, tm.Cancel)

			var mu sync.Mutex
			var reports []*api.ExportReport
			for _, file := range args {
				name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				tm.Run(name, func(ctx flanksourceContext.Context, t *task.Task) error {
					req, err := loadRequest(file)
					if err != nil {
						return err
					}
					if req.TaskID == "" {
						req.TaskID = api.NewTaskID()
					}
					if req.ExportDir == "" {
						req.ExportDir = filepath.Join(a.cfg.ExportsDir, req.TaskID)
					}
					t.SetMessage("%d region(s)", len(req.Regions))
					rep, err := s.Export(ctx, req)
					if err != nil {
						return err
					}
					mu.Lock()
					reports = append(reports, rep)
					mu.Unlock()
					switch {
					case rep.SuccessfulRegions == 0:
						return fmt.Errorf("all %d regions failed", rep.RegionCount)
					case rep.SuccessfulRegions < rep.RegionCount:
						t.Warn("%d/%d regions, see %s", rep.SuccessfulRegions, rep.RegionCount, rep.ExportDir)
					default:
						t.SetMessage("%d region(s) in %s", rep.RegionCount, rep.ExportDir)
					}
					return nil
				})
			}
			waitErr := tm.Wait()
			if err := a.print(reports); err != nil {
				return err
			}
			return waitErr
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel exports (default: export.concurrency)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress display")
	return cmd
}
