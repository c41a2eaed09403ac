// Package stages implements the Stage Orchestrator's unit of work: a
// Stage performs one piece of mutation-driven work against a selected
// testcase per iteration (spec.md §4.4). Mutator and Generator are the
// out-of-scope external collaborators the core consumes only through
// these interfaces (spec.md §1); a concrete Mutator implementation lives
// in internal/mutator.
package stages

import (
	"context"
	"math/rand"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/state"
)

// Mutator produces one mutated child from a parent input. Concrete
// mutators (bit flips, arithmetic, dictionary insertion, structure-aware
// JSON/XML transforms) are out of the core's scope; the core only
// consumes this interface (spec.md §1).
type Mutator interface {
	Mutate(ctx context.Context, rng *rand.Rand, input inputs.Input) (inputs.Input, error)
}

// Generator produces inputs from scratch, with no parent to mutate —
// used when the corpus is empty or a stage chooses to diversify instead
// of mutate.
type Generator interface {
	Generate(ctx context.Context, rng *rand.Rand) (inputs.Input, error)
}

// EvaluateFunc is the Execution Pipeline entry point a Stage calls once
// per candidate input it produces (spec.md §4.5). pkg/fuzzer.Engine
// supplies the concrete implementation; stages never construct their own
// pipeline so every stage goes through identical observer/feedback
// sequencing.
type EvaluateFunc func(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, input inputs.Input) error

// Stage is one unit of mutation-driven work performed on a selected
// testcase per iteration.
type Stage interface {
	Perform(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, input inputs.Input, evaluate EvaluateFunc) error
}

// StdMutationalStage repeatedly mutates the parent input and submits each
// child through evaluate, Iterations times per call to Perform. Named
// after original_source's StdMutationalStage over StdScheduledMutator
// (main.rs), generalized to accept any Mutator rather than only the
// havoc_mutations() stack.
type StdMutationalStage struct {
	Mutator    Mutator
	Iterations int
}

func NewStdMutationalStage(mutator Mutator, iterations int) *StdMutationalStage {
	if iterations <= 0 {
		iterations = 1
	}
	return &StdMutationalStage{Mutator: mutator, Iterations: iterations}
}

func (s *StdMutationalStage) Perform(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, input inputs.Input, evaluate EvaluateFunc) error {
	for i := 0; i < s.Iterations; i++ {
		child, err := s.Mutator.Mutate(ctx, rng, input.Clone())
		if err != nil {
			return err
		}
		if err := evaluate(ctx, rng, st, cp, mgr, child); err != nil {
			return err
		}
	}
	return nil
}

var _ Stage = (*StdMutationalStage)(nil)

// GenerationStage submits Count freshly generated inputs instead of
// mutating the selected parent; useful as the very first stage when the
// corpus starts empty (spec.md §8 scenario 1's "empty corpus" case is
// typically seeded externally, but a generator lets an embedder skip
// seeding entirely).
type GenerationStage struct {
	Generator Generator
	Count     int
}

func NewGenerationStage(gen Generator, count int) *GenerationStage {
	if count <= 0 {
		count = 1
	}
	return &GenerationStage{Generator: gen, Count: count}
}

func (s *GenerationStage) Perform(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, input inputs.Input, evaluate EvaluateFunc) error {
	for i := 0; i < s.Count; i++ {
		child, err := s.Generator.Generate(ctx, rng)
		if err != nil {
			return err
		}
		if err := evaluate(ctx, rng, st, cp, mgr, child); err != nil {
			return err
		}
	}
	return nil
}

var _ Stage = (*GenerationStage)(nil)
