// Package shutdown runs cleanup hooks in priority order when the process is
// interrupted or a command finishes.
package shutdown

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flanksource/commons/logger"
)

// Lower priorities run first: stop accepting work, then drain it, then
// release what the work was using.
const (
	PriorityServer   = 0
	PriorityTasks    = 100
	PriorityRenderer = 200
	PriorityScratch  = 300
)

var log = logger.GetLogger("shutdown")

type hook struct {
	label    string
	priority int
	seq      int
	fn       func()
}

type hookHeap []*hook

func (h hookHeap) Len() int { return len(h) }
func (h hookHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h hookHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hookHeap) Push(x any)   { *h = append(*h, x.(*hook)) }
func (h *hookHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var (
	hooks hookHeap
	seq   int
	mu    sync.Mutex
)

// AddHook registers fn at PriorityTasks.
func AddHook(label string, fn func()) {
	AddHookWithPriority(label, PriorityTasks, fn)
}

// AddHookWithPriority registers fn. Hooks with equal priority run in
// registration order.
func AddHookWithPriority(label string, priority int, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	seq++
	heap.Push(&hooks, &hook{label: label, priority: priority, seq: seq, fn: fn})
}

// Shutdown executes and clears every registered hook. A panicking hook is
// logged and does not stop the others.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if len(hooks) == 0 {
		return
	}
	log.Debugf("executing %d shutdown hooks", len(hooks))
	for hooks.Len() > 0 {
		h := heap.Pop(&hooks).(*hook)
		log.Tracef("shutdown hook %s (priority=%d)", h.label, h.priority)
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic in shutdown hook %s: %v", h.label, r)
				}
			}()
			h.fn()
		}()
	}
}

// WithSignals returns a context cancelled on the first SIGINT or SIGTERM.
// The hooks run at that point; a second signal exits immediately.
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down (press Ctrl+C again to force)\n", sig)
			cancel()
			go func() {
				<-sigs
				fmt.Fprintln(os.Stderr, "Force exit")
				os.Exit(1)
			}()
			Shutdown()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}
