package task

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRunsAllTasks(t *testing.T) {
	var out bytes.Buffer
	tm := NewManagerFor(context.Background(), &out, Options{MaxConcurrent: 2, NoColor: true})

	tm.Run("ok", func(ctx flanksourceContext.Context, task *Task) error {
		task.SetMessage("2 regions")
		return nil
	})
	tm.Run("broken", func(ctx flanksourceContext.Context, task *Task) error {
		return errors.New("render failed")
	})
	tm.Run("partial", func(ctx flanksourceContext.Context, task *Task) error {
		task.Warn("1/2 regions")
		return nil
	})
	tm.Run("panics", func(ctx flanksourceContext.Context, task *Task) error {
		panic("boom")
	})

	err := tm.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: render failed")
	assert.Contains(t, err.Error(), "panics: panic: boom")

	summary := tm.Summary()
	assert.Equal(t, 1, summary[StatusSuccess])
	assert.Equal(t, 2, summary[StatusFailed])
	assert.Equal(t, 1, summary[StatusWarning])

	printed := out.String()
	assert.Equal(t, 4, strings.Count(printed, "\n"))
	assert.Contains(t, printed, "✓ ok: 2 regions")
	assert.Contains(t, printed, "✗ broken: render failed")
	assert.Contains(t, printed, "⚠ partial: 1/2 regions")
	assert.NotContains(t, printed, "\x1b[")
}

func TestManagerConcurrencyLimit(t *testing.T) {
	tm := NewManagerFor(context.Background(), &bytes.Buffer{}, Options{MaxConcurrent: 2, NoProgress: true})
	var running, peak atomic.Int32
	for i := 0; i < 6; i++ {
		tm.Run("t", func(ctx flanksourceContext.Context, task *Task) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, tm.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, tm.Tasks(), 6)
}

func TestManagerCancel(t *testing.T) {
	tm := NewManagerFor(context.Background(), &bytes.Buffer{}, Options{MaxConcurrent: 1, NoProgress: true})
	started := make(chan struct{})
	tm.Run("long", func(ctx flanksourceContext.Context, task *Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	tm.Cancel()
	tm.Run("never", func(ctx flanksourceContext.Context, task *Task) error {
		t.Error("task started after cancel")
		return nil
	})
	assert.Error(t, tm.Wait())
	assert.Equal(t, 2, tm.Summary()[StatusCancelled])
}

func TestManagerTimeout(t *testing.T) {
	tm := NewManagerFor(context.Background(), &bytes.Buffer{}, Options{Timeout: 10 * time.Millisecond, NoProgress: true})
	task := tm.Run("slow", func(ctx flanksourceContext.Context, task *Task) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, tm.Wait())
	assert.Equal(t, StatusFailed, task.Status())
	assert.ErrorIs(t, task.Err(), context.DeadlineExceeded)
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✓", StatusSuccess.Icon())
	assert.Equal(t, "✗", StatusFailed.Icon())
	assert.True(t, StatusWarning.Done())
	assert.False(t, StatusRunning.Done())
}
