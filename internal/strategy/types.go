package strategy

import (
	"context"
	"time"

	logx "taskforge/pkg/logx"
)

// Task is the unit a strategy is asked to handle.
//
// Kind is a free-form discriminator ("deploy", "analyze", ...); Payload carries
// whatever the submitting caller wants the strategy to see.
type Task struct {
	ID      string
	Kind    string
	Payload map[string]any
}

// Strategy is a named capability handler.
//
// CanHandle must be cheap and side-effect free; Execute does the work and
// honors ctx cancellation on blocking operations.
type Strategy interface {
	Name() string
	CanHandle(t *Task) bool
	Execute(ctx context.Context, t *Task) (any, error)
}

// ComplexityEstimator is an optional capability: strategies that can score how
// expensive a task will be implement it. Callers use the score for admission
// decisions; it has no effect inside the registry.
type ComplexityEstimator interface {
	EstimateComplexity(t *Task) float64
}

// Initializer is an optional capability: strategies that need setup work
// (connections, caches) implement it. Register calls Initialize once, before
// the strategy becomes visible.
type Initializer interface {
	Initialize(ctx context.Context, deps Deps) error
}

// DependencyAware is an optional capability for strategies that accept
// replacement dependencies after registration.
type DependencyAware interface {
	UpdateDependencies(deps Deps)
}

// Deps carries shared collaborators handed to strategies at registration.
type Deps struct {
	Log    logx.Logger
	Values map[string]any
}

// Info is the registry's bookkeeping view of one registered strategy.
type Info struct {
	Name         string
	Priority     int
	RegisteredAt time.Time
	Metadata     map[string]any
}

// Stats summarizes the registry for monitoring surfaces.
type Stats struct {
	Count        int
	ByPriority   map[int]int
	MeanPriority float64
}
