// Package fuzzer implements the Stage Orchestrator (Engine) and the
// Execution & Observation Pipeline (evaluate_input), spec.md §4.4-§4.5.
// Grounded on teacher's internal/coverage/feedback.go (FeedbackLoop.run/
// executeAndRecord is the closest analog to fuzz_loop/evaluate_input) and
// on original_source/fuzzers/lab/src/main.rs's `fuzzer.fuzz_loop(&mut
// stages, &mut executor, &mut state, &mut manager)` wiring.
package fuzzer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/stages"
	"github.com/shafouz/libafl-go/pkg/state"
)

// EngineConfig tunes the orchestrator. StatsInterval resolves
// SPEC_FULL.md Open Question 2: the source lab fuzzer's `cur - last >
// 60 * 100` (milliseconds) reads as 6 seconds, documented there as
// likely a typo for 60 seconds; we expose it as configurable rather than
// silently "fixing" it, defaulting to the value actually observed.
type EngineConfig struct {
	StatsInterval time.Duration
}

func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{StatsInterval: 6 * time.Second}
}

// Engine is the Stage Orchestrator: it selects a testcase, invokes a
// sequence of stages, and periodically fires stats events (spec.md §4.4).
type Engine struct {
	config    *EngineConfig
	observers *observers.Tuple
	executor  executors.Executor
	stages    []stages.Stage

	// objective, when set, receives testcases the objective feedbacks
	// (CrashFeedback/TimeoutFeedback) deem interesting, kept separate
	// from the main corpus per spec.md §8 scenario 4.
	objective corpus.Corpus

	lastStats time.Time
}

// NewEngine wires an executor and an observer tuple into an orchestrator.
// stageList is the ordered list of stages run against every selected
// testcase; objective may be nil if the pipeline carries no
// crash/timeout feedbacks.
func NewEngine(config *EngineConfig, executor executors.Executor, obsTuple *observers.Tuple, stageList []stages.Stage, objective corpus.Corpus) *Engine {
	if config == nil {
		config = DefaultEngineConfig()
	}
	return &Engine{
		config:    config,
		observers: obsTuple,
		executor:  executor,
		stages:    stageList,
		objective: objective,
	}
}

// EvaluateInput implements the evaluate_input contract (spec.md §4.5):
// reset observers, run the target, post-exec observers, evaluate every
// feedback in declaration order, then dispatch to the corpus or discard.
func (e *Engine) EvaluateInput(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, input inputs.Input) error {
	if err := e.observers.PreExecAll(ctx); err != nil {
		return fmt.Errorf("fuzzer: pre_exec: %w", err)
	}

	exitKind, err := e.executor.RunTarget(ctx, input)
	if err != nil {
		return fmt.Errorf("fuzzer: run_target: %w", err)
	}
	st.IncrementExecutions()

	// A PostExec failure means the observation map for this run cannot be
	// trusted, so feedback evaluation and corpus dispatch must be skipped
	// for this iteration only (spec.md §7.3): it is logged and swallowed
	// here rather than returned, since returning it would propagate
	// through StdMutationalStage.Perform into FuzzLoop and end the whole
	// run over what is a per-execution, not fatal, condition.
	if postErr := e.observers.PostExecAll(ctx, exitKind); postErr != nil {
		if mgr != nil {
			_ = mgr.Fire(ctx, st, state.Event{
				Kind:    state.EventLog,
				Level:   state.LogError,
				Message: fmt.Sprintf("fuzzer: post_exec: %v", postErr),
			})
		}
		return nil
	}

	feedbacks := st.Feedbacks()
	results := make([]bool, len(feedbacks))
	fitness := 0
	for i, fb := range feedbacks {
		interesting, err := fb.IsInteresting(ctx, st, mgr, input, e.observers, exitKind)
		if err != nil {
			return fmt.Errorf("fuzzer: feedback %s is_interesting: %w", fb.Name(), err)
		}
		results[i] = interesting
		if !interesting {
			continue
		}
		if scorer, ok := fb.(state.Scorer); ok {
			fitness += scorer.Score()
		} else {
			fitness++
		}
	}

	if fitness > 0 {
		tc := corpus.NewTestcase(input, fitness)
		target := cp
		isObjective := e.isObjectiveFitness(results, feedbacks)
		if isObjective && e.objective != nil {
			target = e.objective
		}
		for i, fb := range feedbacks {
			if !results[i] {
				continue
			}
			if err := fb.AppendMetadata(ctx, st, mgr, e.observers, tc); err != nil {
				return fmt.Errorf("fuzzer: feedback %s append_metadata: %w", fb.Name(), err)
			}
		}
		index, err := target.Add(tc)
		if err != nil {
			return fmt.Errorf("fuzzer: corpus add: %w", err)
		}
		if mgr != nil {
			if err := mgr.Fire(ctx, st, state.Event{Kind: state.EventNewTestcase, TestcaseIndex: index, Fitness: fitness}); err != nil {
				return err
			}
		}
	} else {
		for _, fb := range feedbacks {
			if err := fb.DiscardMetadata(ctx, st, input); err != nil {
				return fmt.Errorf("fuzzer: feedback %s discard_metadata: %w", fb.Name(), err)
			}
		}
	}

	if mgr != nil {
		if err := mgr.Process(ctx, st); err != nil {
			return fmt.Errorf("fuzzer: event process: %w", err)
		}
	}

	return nil
}

// isObjectiveFitness reports whether the only interesting feedbacks this
// round were objective ones (crash/timeout), so the resulting testcase
// should route to the objective corpus instead of the main one.
func (e *Engine) isObjectiveFitness(results []bool, feedbacks []state.Feedback) bool {
	any := false
	for i, fb := range feedbacks {
		if !results[i] {
			continue
		}
		any = true
		switch fb.Name() {
		case "crash", "timeout":
		default:
			return false
		}
	}
	return any
}

// FuzzOne implements spec.md §4.4: ask the scheduler for a testcase, load
// it if necessary, run every stage against it, drain the event manager,
// and return the index used.
func (e *Engine) FuzzOne(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager) (int, error) {
	tc, idx, err := cp.Next(rng)
	if err != nil {
		return -1, fmt.Errorf("fuzzer: scheduler: %w", err)
	}
	if !tc.IsLoaded() {
		tc, err = cp.LoadTestcase(idx)
		if err != nil {
			return -1, fmt.Errorf("fuzzer: load_testcase: %w", err)
		}
	}
	for _, stage := range e.stages {
		if err := stage.Perform(ctx, rng, st, cp, mgr, tc.Input, e.EvaluateInput); err != nil {
			return -1, fmt.Errorf("fuzzer: stage: %w", err)
		}
	}
	if mgr != nil {
		if err := mgr.Process(ctx, st); err != nil {
			return -1, fmt.Errorf("fuzzer: event process: %w", err)
		}
	}
	return idx, nil
}

// FuzzLoop repeats FuzzOne until ctx is cancelled, firing UpdateStatsEvent
// every config.StatsInterval (spec.md §4.4). A cancelled context is the
// only way to stop the loop from outside; it is surfaced to embedders as
// the "external signals" mechanism spec.md §5 describes.
func (e *Engine) FuzzLoop(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager) error {
	e.lastStats = time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := e.FuzzOne(ctx, rng, st, cp, mgr); err != nil {
			return err
		}
		if time.Since(e.lastStats) >= e.config.StatsInterval {
			e.lastStats = time.Now()
			if mgr != nil {
				if err := mgr.Fire(ctx, st, state.Event{
					Kind:       state.EventUpdateStats,
					Executions: uint64(st.Executions()),
					ExecPerSec: st.ExecutionsPerSecond(),
					CorpusSize: cp.Count(),
				}); err != nil {
					return err
				}
			}
		}
	}
}

// LoadInitialInputs seeds cp with every input in seeds, firing
// LoadInitialEvent for each (spec.md §6). It runs every seed through
// EvaluateInput exactly like any other candidate, so seeds that produce
// no coverage are simply discarded rather than force-inserted — matching
// the core's single evaluate_input contract instead of a bespoke seeding
// path.
func (e *Engine) LoadInitialInputs(ctx context.Context, rng *rand.Rand, st *state.State, cp corpus.Corpus, mgr state.EventManager, seeds []inputs.Input) error {
	for i, seed := range seeds {
		if err := e.EvaluateInput(ctx, rng, st, cp, mgr, seed); err != nil {
			return fmt.Errorf("fuzzer: load seed %d: %w", i, err)
		}
		if mgr != nil {
			if err := mgr.Fire(ctx, st, state.Event{Kind: state.EventLoadInitial, SeedIndex: i}); err != nil {
				return err
			}
		}
	}
	return nil
}
