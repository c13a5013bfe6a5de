package shutdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownOrder(t *testing.T) {
	var order []string
	AddHookWithPriority("scratch", PriorityScratch, func() { order = append(order, "scratch") })
	AddHookWithPriority("server", PriorityServer, func() { order = append(order, "server") })
	AddHook("batch-1", func() { order = append(order, "batch-1") })
	AddHook("panics", func() { panic("boom") })
	AddHook("batch-2", func() { order = append(order, "batch-2") })
	AddHookWithPriority("browser", PriorityRenderer, func() { order = append(order, "browser") })

	Shutdown()
	assert.Equal(t, []string{"server", "batch-1", "batch-2", "browser", "scratch"}, order)

	// hooks run once
	Shutdown()
	assert.Len(t, order, 5)
}

func TestWithSignalsStop(t *testing.T) {
	ctx, stop := WithSignals(context.Background())
	assert.NoError(t, ctx.Err())
	stop()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
