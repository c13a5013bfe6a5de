// Package task tracks concurrently running export tasks and renders their
// progress to stderr.
package task

import (
	"fmt"
	"sync"
	"time"

	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/text"
)

// Status represents the status of a task
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusWarning   Status = "warning"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Icon() string {
	switch s {
	case StatusPending:
		return "⏳"
	case StatusRunning:
		return "⟳"
	case StatusSuccess:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusWarning:
		return "⚠"
	case StatusCancelled:
		return "⊘"
	default:
		return ""
	}
}

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusWarning || s == StatusCancelled
}

// Func is the body of a task. A non-nil error fails the task.
type Func func(ctx flanksourceContext.Context, t *Task) error

// Task is a single unit of work tracked by a Manager.
type Task struct {
	name      string
	mu        sync.Mutex
	status    Status
	message   string
	err       error
	startTime time.Time
	endTime   time.Time
}

func (t *Task) Name() string {
	return t.name
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SetMessage updates the detail shown next to the task name.
func (t *Task) SetMessage(format string, args ...any) {
	t.mu.Lock()
	t.message = fmt.Sprintf(format, args...)
	t.mu.Unlock()
}

// Warn finishes the task successfully but flags it for attention.
func (t *Task) Warn(format string, args ...any) {
	t.mu.Lock()
	t.status = StatusWarning
	t.message = fmt.Sprintf(format, args...)
	t.mu.Unlock()
}

func (t *Task) start() {
	t.mu.Lock()
	t.status = StatusRunning
	t.startTime = time.Now()
	t.mu.Unlock()
}

func (t *Task) finish(err error, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endTime = time.Now()
	switch {
	case cancelled:
		t.status = StatusCancelled
		t.err = err
	case err != nil:
		t.status = StatusFailed
		t.err = err
	case t.status != StatusWarning:
		t.status = StatusSuccess
	}
}

// Duration is the elapsed run time, up to now for running tasks.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startTime.IsZero() {
		return 0
	}
	end := t.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(t.startTime)
}

func (t *Task) String() string {
	status := t.Status()
	s := fmt.Sprintf("%s %s", status.Icon(), t.name)
	t.mu.Lock()
	msg, err := t.message, t.err
	t.mu.Unlock()
	if msg != "" {
		s += ": " + msg
	}
	if err != nil {
		s += ": " + err.Error()
	}
	if d := t.Duration(); d > 0 && status.Done() {
		s += " (" + text.HumanizeDuration(d) + ")"
	}
	return s
}
