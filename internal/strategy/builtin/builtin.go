// Package builtin ships small general-purpose strategies so a fresh daemon
// can run meaningful jobs before any application strategies are registered.
package builtin

import (
	"context"
	"fmt"
	"time"

	"taskforge/internal/strategy"
)

// Echo handles "echo" tasks: it returns the payload's message untouched.
// Mostly useful for smoke-testing a deployment's scheduling path.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (*Echo) Name() string { return "echo" }

func (*Echo) CanHandle(t *strategy.Task) bool {
	return t != nil && t.Kind == "echo"
}

func (*Echo) Execute(ctx context.Context, t *strategy.Task) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, _ := t.Payload["message"].(string)
	if msg == "" {
		msg = t.ID
	}
	return msg, nil
}

// Sleep handles "sleep" tasks: it waits for the payload duration, honoring
// cancellation. Useful for exercising timeouts and capacity limits.
type Sleep struct{}

func NewSleep() *Sleep { return &Sleep{} }

func (*Sleep) Name() string { return "sleep" }

func (*Sleep) CanHandle(t *strategy.Task) bool {
	return t != nil && t.Kind == "sleep"
}

func (*Sleep) Execute(ctx context.Context, t *strategy.Task) (any, error) {
	raw, _ := t.Payload["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
		return d.String(), nil
	}
}

// EstimateComplexity scales with the requested sleep, so capacity planning
// surfaces see long sleeps as heavier work.
func (*Sleep) EstimateComplexity(t *strategy.Task) float64 {
	raw, _ := t.Payload["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 1
	}
	return float64(d) / float64(time.Second)
}
