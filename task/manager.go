package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/logger"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var log = logger.GetLogger("task")

type Options struct {
	// MaxConcurrent bounds running tasks, 0 or less means one at a time.
	MaxConcurrent int
	NoProgress    bool
	NoColor       bool
	// Timeout applies to every task when positive.
	Timeout time.Duration
}

// Manager runs tasks with bounded concurrency. Progress is redrawn in place
// on an interactive stderr and printed once per finished task otherwise.
type Manager struct {
	opts          Options
	out           io.Writer
	isInteractive bool
	styles        styleSet

	mu    sync.Mutex
	tasks []*Task

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	stopRender chan struct{}
	renderDone chan struct{}
	printed    map[*Task]bool
}

type styleSet struct {
	success lipgloss.Style
	failed  lipgloss.Style
	warning lipgloss.Style
	running lipgloss.Style
	pending lipgloss.Style
}

func NewManager(ctx context.Context, opts Options) *Manager {
	return NewManagerFor(ctx, os.Stderr, opts)
}

// NewManagerFor writes progress to out instead of stderr.
func NewManagerFor(ctx context.Context, out io.Writer, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	renderer := lipgloss.NewRenderer(out)
	if opts.NoColor || !interactive {
		renderer.SetColorProfile(termenv.Ascii)
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.MaxConcurrent)

	tm := &Manager{
		opts:          opts,
		out:           out,
		isInteractive: interactive,
		group:         group,
		ctx:           ctx,
		cancel:        cancel,
		printed:       map[*Task]bool{},
		styles: styleSet{
			success: renderer.NewStyle().Foreground(lipgloss.Color("42")),
			failed:  renderer.NewStyle().Foreground(lipgloss.Color("196")),
			warning: renderer.NewStyle().Foreground(lipgloss.Color("214")),
			running: renderer.NewStyle().Foreground(lipgloss.Color("33")),
			pending: renderer.NewStyle().Foreground(lipgloss.Color("244")),
		},
	}
	if interactive && !opts.NoProgress {
		tm.stopRender = make(chan struct{})
		tm.renderDone = make(chan struct{})
		go tm.render()
	}
	return tm
}

// Run schedules fn. It blocks while MaxConcurrent tasks are running. Task
// failures never cancel sibling tasks.
func (tm *Manager) Run(name string, fn Func) *Task {
	t := &Task{name: name, status: StatusPending}
	tm.mu.Lock()
	tm.tasks = append(tm.tasks, t)
	tm.mu.Unlock()

	tm.group.Go(func() error {
		if err := tm.ctx.Err(); err != nil {
			t.finish(err, true)
			tm.printFinished(t)
			return nil
		}
		ctx := flanksourceContext.NewContext(tm.ctx)
		ctx.Logger = logger.GetSlogLogger().Named(fmt.Sprintf("task.%s", name))
		if tm.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = ctx.WithTimeout(tm.opts.Timeout)
			defer cancel()
		}

		t.start()
		err := safeRun(ctx, t, fn)
		t.finish(err, err != nil && errors.Is(err, context.Canceled))
		if err != nil {
			log.Debugf("task %s failed: %v", name, err)
		}
		tm.printFinished(t)
		return nil
	})
	return t
}

func safeRun(ctx flanksourceContext.Context, t *Task, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, t)
}

// Cancel stops tasks that have not started yet and cancels the context of
// running ones.
func (tm *Manager) Cancel() {
	tm.cancel()
}

// Wait blocks until every task finished and returns the joined task errors.
func (tm *Manager) Wait() error {
	_ = tm.group.Wait()
	if tm.stopRender != nil {
		close(tm.stopRender)
		<-tm.renderDone
	}
	tm.cancel()

	var errs []error
	for _, t := range tm.Tasks() {
		if err := t.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (tm *Manager) Tasks() []*Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]*Task(nil), tm.tasks...)
}

// Summary counts tasks per status.
func (tm *Manager) Summary() map[Status]int {
	out := map[Status]int{}
	for _, t := range tm.Tasks() {
		out[t.Status()]++
	}
	return out
}

func (tm *Manager) style(s Status) lipgloss.Style {
	switch s {
	case StatusSuccess:
		return tm.styles.success
	case StatusFailed:
		return tm.styles.failed
	case StatusWarning, StatusCancelled:
		return tm.styles.warning
	case StatusRunning:
		return tm.styles.running
	default:
		return tm.styles.pending
	}
}

// Pretty renders every task on its own line.
func (tm *Manager) Pretty() string {
	tasks := tm.Tasks()
	if len(tasks) == 0 {
		return "No tasks running"
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, "  "+tm.style(t.Status()).Render(t.String()))
	}
	return strings.Join(lines, "\n")
}

// printFinished writes a line per finished task when progress is not
// redrawn in place.
func (tm *Manager) printFinished(t *Task) {
	if tm.stopRender != nil || tm.opts.NoProgress {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.printed[t] {
		return
	}
	tm.printed[t] = true
	fmt.Fprintln(tm.out, tm.style(t.Status()).Render(t.String()))
}

func (tm *Manager) render() {
	defer close(tm.renderDone)
	output := termenv.NewOutput(tm.out)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	lines := 0
	draw := func() {
		if lines > 0 {
			output.CursorPrevLine(lines)
			output.ClearLines(lines)
		}
		s := tm.Pretty()
		fmt.Fprintln(tm.out, s)
		lines = strings.Count(s, "\n") + 1
	}
	for {
		select {
		case <-tm.stopRender:
			draw()
			return
		case <-ticker.C:
			draw()
		}
	}
}
