package session

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/shafouz/libafl-go/internal/scenario"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/stages"
)

// StepGenerator adapts one scenario step into a stages.Generator: each
// Generate resolves the step's body template against the manager's
// current variable state, so a scenario run can seed the core's corpus
// the same way a single hand-written seed does. Stateful variables
// (tokens minted by an earlier step, pooled extractions) flow into every
// generated input.
type StepGenerator struct {
	manager *StateManager
	step    scenario.Step
}

// NewStepGenerator builds a generator over step. manager may be shared
// with the scenario executor that populates its pool.
func NewStepGenerator(manager *StateManager, step scenario.Step) (*StepGenerator, error) {
	if manager == nil {
		return nil, fmt.Errorf("session: nil state manager")
	}
	if err := step.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid step: %w", err)
	}
	return &StepGenerator{manager: manager, step: step}, nil
}

// Generate resolves the step's request body against the current variable
// state. A step with no body yields its resolved URL instead, so
// GET-style steps still produce a mutable payload.
func (g *StepGenerator) Generate(ctx context.Context, rng *rand.Rand) (inputs.Input, error) {
	body := g.step.Request.Body
	if body == "" {
		body = g.step.Request.URL
	}
	resolved := g.manager.Substitute(body)
	return inputs.New([]byte(resolved)), nil
}

// Step returns the scenario step this generator was built from.
func (g *StepGenerator) Step() scenario.Step { return g.step }

var _ stages.Generator = (*StepGenerator)(nil)
