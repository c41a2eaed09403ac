package fuzzer

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/feedbacks"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/stages"
	"github.com/shafouz/libafl-go/pkg/state"
)

// scriptedExecutor writes a fixed set of bits into the map observer and
// returns a scripted ExitKind, keyed by the input's bytes.
type scriptedExecutor struct {
	obs     *observers.MapObserver[uint8]
	script  map[string][]int
	exitFor map[string]executors.ExitKind
}

func (e *scriptedExecutor) RunTarget(ctx context.Context, input inputs.Input) (executors.ExitKind, error) {
	key := string(input.Bytes())
	for _, i := range e.script[key] {
		e.obs.Set(i, 1)
	}
	if ek, ok := e.exitFor[key]; ok {
		return ek, nil
	}
	return executors.Ok, nil
}

func (e *scriptedExecutor) HasDiffCapability() bool { return false }

type identityMutator struct{}

func (identityMutator) Mutate(ctx context.Context, rng *rand.Rand, input inputs.Input) (inputs.Input, error) {
	return input, nil
}

func newHarness(t *testing.T, script map[string][]int, exitFor map[string]executors.ExitKind) (*Engine, *state.State, corpus.Corpus, *observers.MapObserver[uint8]) {
	t.Helper()
	obs := observers.NewMapObserver[uint8]("cov", 16, 0)
	tuple := observers.NewTuple(obs)
	cov := feedbacks.NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	crash := feedbacks.NewCrashFeedback()
	timeout := feedbacks.NewTimeoutFeedback()
	st := state.New(cov, crash, timeout)

	exec := &scriptedExecutor{obs: obs, script: script, exitFor: exitFor}
	objective := corpus.NewInMemoryCorpus(nil)
	engine := NewEngine(nil, exec, tuple, nil, objective)
	cp := corpus.NewInMemoryCorpus(nil)
	return engine, st, cp, obs
}

func TestScenario1EvaluateInputEndToEnd(t *testing.T) {
	engine, st, cp, _ := newHarness(t, map[string][]int{"a": {0}}, nil)
	rng := rand.New(rand.NewSource(1))
	if err := engine.EvaluateInput(context.Background(), rng, st, cp, nil, inputs.New([]byte("a"))); err != nil {
		t.Fatalf("evaluate_input: %v", err)
	}
	if cp.Count() != 1 {
		t.Fatalf("corpus size = %d, want 1", cp.Count())
	}
	if st.Executions() != 1 {
		t.Fatalf("executions = %d, want 1", st.Executions())
	}
}

func TestScenario2RepeatInputNotAdded(t *testing.T) {
	engine, st, cp, _ := newHarness(t, map[string][]int{"a": {0}}, nil)
	rng := rand.New(rand.NewSource(1))
	ctx := context.Background()
	engine.EvaluateInput(ctx, rng, st, cp, nil, inputs.New([]byte("a")))
	engine.EvaluateInput(ctx, rng, st, cp, nil, inputs.New([]byte("a")))
	if cp.Count() != 1 {
		t.Fatalf("corpus size = %d, want 1 (second identical input must not add)", cp.Count())
	}
	if st.Executions() != 2 {
		t.Fatalf("executions = %d, want 2", st.Executions())
	}
}

func TestScenario4CrashRoutesToObjectiveNotMainCorpus(t *testing.T) {
	engine, st, cp, _ := newHarness(t, nil, map[string]executors.ExitKind{"abcd": executors.Crash})
	rng := rand.New(rand.NewSource(1))
	if err := engine.EvaluateInput(context.Background(), rng, st, cp, nil, inputs.New([]byte("abcd"))); err != nil {
		t.Fatalf("evaluate_input: %v", err)
	}
	if cp.Count() != 0 {
		t.Fatalf("main corpus size = %d, want 0", cp.Count())
	}
	if engine.objective.Count() != 1 {
		t.Fatalf("objective corpus size = %d, want 1", engine.objective.Count())
	}
	v, ok := st.Metadata().Get("coverage")
	if ok {
		hist := v.(*feedbacks.MapFeedbackMetadata[uint8])
		if hist.NumCoveredIndex != 0 {
			t.Fatalf("coverage history must be untouched by a pure crash input")
		}
	}
}

func TestScenario5TimeoutBehavesLikeCrash(t *testing.T) {
	engine, st, cp, _ := newHarness(t, nil, map[string]executors.ExitKind{"slow": executors.Timeout})
	rng := rand.New(rand.NewSource(1))
	if err := engine.EvaluateInput(context.Background(), rng, st, cp, nil, inputs.New([]byte("slow"))); err != nil {
		t.Fatalf("evaluate_input: %v", err)
	}
	if cp.Count() != 0 {
		t.Fatalf("main corpus size = %d, want 0", cp.Count())
	}
	if engine.objective.Count() != 1 {
		t.Fatalf("objective corpus size = %d, want 1", engine.objective.Count())
	}
}

// Scenario 6: fuzz_one 1000 times with a no-op harness and no-op mutator.
func TestScenario6ResetIdempotence(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 16, 0)
	tuple := observers.NewTuple(obs)
	cov := feedbacks.NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	st := state.New(cov)

	exec := &scriptedExecutor{obs: obs, script: map[string][]int{"seed": {0}}}
	cp := corpus.NewInMemoryCorpus(nil)
	stage := stages.NewStdMutationalStage(identityMutator{}, 1)
	engine := NewEngine(nil, exec, tuple, []stages.Stage{stage}, nil)

	// Seed the corpus once, the way an embedder would before fuzz_loop.
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	if err := engine.EvaluateInput(ctx, rng, st, cp, nil, inputs.New([]byte("seed"))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if cp.Count() != 1 {
		t.Fatalf("seed not inserted")
	}

	for i := 0; i < 1000; i++ {
		if _, err := engine.FuzzOne(ctx, rng, st, cp, nil); err != nil {
			t.Fatalf("fuzz_one #%d: %v", i, err)
		}
	}

	// 1 seed execution + 1000 fuzz_one iterations, each running the
	// identity mutator once against the only corpus entry.
	if st.Executions() != 1001 {
		t.Fatalf("executions = %d, want 1001", st.Executions())
	}
	if cp.Count() != 1 {
		t.Fatalf("corpus size = %d, want 1 (no new novelty from identical re-execution)", cp.Count())
	}
}

func TestEngineFeedbackOrderIsDeclarationOrder(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 4, 0)
	tuple := observers.NewTuple(obs)
	var order []string
	first := &orderTrackingFeedback{name: "first", order: &order}
	second := &orderTrackingFeedback{name: "second", order: &order}
	st := state.New(first, second)
	exec := &scriptedExecutor{obs: obs}
	cp := corpus.NewInMemoryCorpus(nil)
	engine := NewEngine(nil, exec, tuple, nil, nil)

	engine.EvaluateInput(context.Background(), rand.New(rand.NewSource(1)), st, cp, nil, inputs.New([]byte("x")))
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("feedback order = %v, want [first second]", order)
	}
}

type orderTrackingFeedback struct {
	name  string
	order *[]string
}

func (f *orderTrackingFeedback) Name() string { return f.name }
func (f *orderTrackingFeedback) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	*f.order = append(*f.order, f.name)
	return false, nil
}
func (f *orderTrackingFeedback) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	return nil
}
func (f *orderTrackingFeedback) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	return nil
}
