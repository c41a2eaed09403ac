package diffobserver

import (
	"context"
	"testing"
	"time"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// stubResponseObserver mirrors httpexec.ResponseObserver for tests.
type stubResponseObserver struct {
	name string
	last *target.Response
}

func (o *stubResponseObserver) Name() string                   { return o.name }
func (o *stubResponseObserver) Reference() observers.Reference { return observers.Reference(o.name) }
func (o *stubResponseObserver) PreExec(ctx context.Context) error {
	return nil
}
func (o *stubResponseObserver) PostExec(ctx context.Context, exitKind executors.ExitKind) error {
	return nil
}
func (o *stubResponseObserver) Last() *target.Response { return o.last }

func TestFeedbackLearnsThenFlags(t *testing.T) {
	ctx := context.Background()

	config := DefaultAnalyzerConfig()
	config.BaselineConfig.MinSamples = 3
	analyzer := NewAnalyzer(config)

	obs := &stubResponseObserver{name: "http.response"}
	tuple := observers.NewTuple(obs)

	fb := NewFeedback(analyzer, obs.Reference(), "http://test.local")
	st := state.New(fb)

	normal := []byte(`<html><body><div class="content"><p>hello world welcome to the page</p></div></body></html>`)

	// Learning phase: nothing is interesting while the baseline trains.
	for i := 0; i < 3; i++ {
		obs.last = &target.Response{StatusCode: 200, Body: normal, ResponseTime: 100 * time.Millisecond}
		interesting, err := fb.IsInteresting(ctx, st, nil, inputs.New([]byte("seed")), tuple, executors.Ok)
		if err != nil {
			t.Fatalf("is_interesting during learning: %v", err)
		}
		if interesting {
			t.Fatal("learning-phase responses must not be interesting")
		}
	}
	if !analyzer.IsLearned() {
		t.Fatal("analyzer should be learned after min samples")
	}

	// Baseline-identical response stays uninteresting.
	obs.last = &target.Response{StatusCode: 200, Body: normal, ResponseTime: 100 * time.Millisecond}
	interesting, err := fb.IsInteresting(ctx, st, nil, inputs.New([]byte("same")), tuple, executors.Ok)
	if err != nil {
		t.Fatalf("is_interesting: %v", err)
	}
	if interesting {
		t.Error("baseline-identical response should not be interesting")
	}

	// Divergent response flags.
	divergent := []byte(`<pre>Fatal error: Uncaught exception with a very long stack trace and frames and padding and more padding to shift both structure and length well away from the baseline page shape entirely</pre>`)
	obs.last = &target.Response{StatusCode: 200, Body: divergent, ResponseTime: 900 * time.Millisecond}
	interesting, err = fb.IsInteresting(ctx, st, nil, inputs.New([]byte("evil")), tuple, executors.Ok)
	if err != nil {
		t.Fatalf("is_interesting: %v", err)
	}
	if !interesting {
		t.Fatal("divergent response should be interesting")
	}
	if fb.Score() == 0 {
		t.Error("interesting result should score above zero")
	}

	tc := corpus.NewTestcase(inputs.New([]byte("evil")), 1)
	if err := fb.AppendMetadata(ctx, st, nil, tuple, tc); err != nil {
		t.Fatalf("append_metadata: %v", err)
	}
	v, ok := tc.Metadata.Get(ResultKind)
	if !ok {
		t.Fatal("testcase missing analysis metadata")
	}
	if v.(*ResultMetadata).Result.AnomalyScore <= 0 {
		t.Error("attached analysis should carry its anomaly score")
	}
}

func TestFeedbackMissingObserverIsFatal(t *testing.T) {
	fb := NewFeedback(nil, "no-such-observer", "http://test.local")
	st := state.New(fb)

	_, err := fb.IsInteresting(context.Background(), st, nil, inputs.New([]byte("x")), observers.NewTuple(), executors.Ok)
	if err == nil {
		t.Fatal("missing observer reference must be an error")
	}
}

func TestFeedbackDiscard(t *testing.T) {
	ctx := context.Background()
	obs := &stubResponseObserver{name: "http.response"}
	fb := NewFeedback(nil, obs.Reference(), "http://test.local")
	st := state.New(fb)

	if err := fb.DiscardMetadata(ctx, st, inputs.New([]byte("x"))); err != nil {
		t.Fatalf("discard_metadata: %v", err)
	}
	if fb.Score() != 0 {
		t.Error("score must be zero after discard")
	}
}
