package feedbacks

import (
	"context"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// CrashFeedback and TimeoutFeedback are "objective" feedbacks: they never
// touch the coverage history map (spec.md §8 scenario 4: "Main
// num_covered is updated only for the coverage feedback, not for the
// crash feedback"). They exist to route Crash/Timeout executions into the
// objective (crash) corpus via the same evaluate_input pipeline used for
// the main corpus, per SPEC_FULL.md §D. Named directly after
// original_source/fuzzers/lab/src/main.rs's `CrashFeedback::new()` used
// as the fuzzer's `objective`.

// ObjectiveMarker records which objective feedback routed a testcase into
// the objective corpus, so a downstream report can tell a crash finding
// from a timeout finding without re-running the target.
type ObjectiveMarker struct {
	Name string
}

func (m *ObjectiveMarker) Kind() string { return m.Name }

// CrashFeedback reports interesting exactly when the executor returned
// ExitKind Crash.
type CrashFeedback struct{}

func NewCrashFeedback() *CrashFeedback { return &CrashFeedback{} }

func (f *CrashFeedback) Name() string { return "crash" }

func (f *CrashFeedback) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	return exitKind == executors.Crash, nil
}

func (f *CrashFeedback) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	tc.Metadata.Insert(&ObjectiveMarker{Name: f.Name()})
	return nil
}

func (f *CrashFeedback) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	return nil
}

var _ state.Feedback = (*CrashFeedback)(nil)

// TimeoutFeedback reports interesting exactly when the executor returned
// ExitKind Timeout (spec.md §8 scenario 5: "core behavior identical to
// crash with a TimeoutFeedback in the pipeline").
type TimeoutFeedback struct{}

func NewTimeoutFeedback() *TimeoutFeedback { return &TimeoutFeedback{} }

func (f *TimeoutFeedback) Name() string { return "timeout" }

func (f *TimeoutFeedback) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	return exitKind == executors.Timeout, nil
}

func (f *TimeoutFeedback) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	tc.Metadata.Insert(&ObjectiveMarker{Name: f.Name()})
	return nil
}

func (f *TimeoutFeedback) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	return nil
}

var _ state.Feedback = (*TimeoutFeedback)(nil)
