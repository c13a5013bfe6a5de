package cmyk

import (
	"context"
	"time"

	"github.com/flanksource/prepress/api"
)

// AllMethodsFailed is the error of a chain in which no strategy succeeded.
const AllMethodsFailed = "all methods failed"

// Strategy is one way of performing a color conversion.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req api.ConversionRequest) api.ConversionResult
}

// Precondition is implemented by strategies that can tell, without spawning
// anything, that they cannot run (tool or profile missing).
type Precondition interface {
	Ready(req api.ConversionRequest) error
}

// Chain tries strategies in order and stops at the first success.
type Chain []Strategy

func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return names
}

// Run never returns an error: an exhausted chain is reported as an
// unsuccessful result carrying every attempt.
func (c Chain) Run(ctx context.Context, req api.ConversionRequest) api.ConversionResult {
	start := time.Now()
	var attempts []api.Attempt

	for _, s := range c {
		if p, ok := s.(Precondition); ok {
			if err := p.Ready(req); err != nil {
				log.Debugf("skipping %s: %v", s.Name(), err)
				attempts = append(attempts, api.Attempt{Method: s.Name(), Skipped: true, Error: err.Error()})
				continue
			}
		}

		t := time.Now()
		res := s.Attempt(ctx, req)
		attempts = append(attempts, api.Attempt{Method: s.Name(), Error: res.Error, Duration: time.Since(t)})
		if res.Success {
			if res.Method == "" {
				res.Method = s.Name()
			}
			res.Error = ""
			res.Duration = time.Since(start)
			log.Infof("%s succeeded in %s", s.Name(), res.Duration)
			return res.WithAttempts(attempts)
		}
		log.Warnf("%s failed: %s", s.Name(), res.Error)
	}

	return api.ConversionResult{
		Success:  false,
		UsedCMYK: false,
		UsedICC:  false,
		Error:    AllMethodsFailed,
		Duration: time.Since(start),
	}.WithAttempts(attempts)
}
