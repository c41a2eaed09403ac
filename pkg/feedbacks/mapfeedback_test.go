package feedbacks

import (
	"context"
	"testing"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// Scenario 1 (spec.md §8): empty corpus, first execution discovers one
// cell.
func TestScenario1FirstExecutionDiscoversOneCell(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 16, 0)
	tuple := observers.NewTuple(obs)
	fb := NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	st := state.New(fb)
	ctx := context.Background()

	obs.Set(0, 1)
	interesting, err := fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	if err != nil {
		t.Fatalf("is_interesting: %v", err)
	}
	if !interesting {
		t.Fatalf("expected interesting=true")
	}

	tc := corpus.NewTestcase(inputs.New([]byte("a")), 1)
	if err := fb.AppendMetadata(ctx, st, nil, tuple, tc); err != nil {
		t.Fatalf("append_metadata: %v", err)
	}

	v, ok := st.Metadata().Get("coverage")
	if !ok {
		t.Fatalf("history metadata missing")
	}
	hist := v.(*MapFeedbackMetadata[uint8])
	if hist.NumCoveredIndex != 1 {
		t.Fatalf("num_covered = %d, want 1", hist.NumCoveredIndex)
	}
	if hist.HistoryMap[0] != 1 {
		t.Fatalf("H[0] = %d, want 1", hist.HistoryMap[0])
	}

	idxMeta, ok := tc.Metadata.Get(MapIndexesMetadataKind)
	if !ok {
		t.Fatalf("MapIndexesMetadata missing")
	}
	indices := idxMeta.(*MapIndexesMetadata).Indices
	if len(indices) != 1 || indices[0] != 0 {
		t.Fatalf("indices = %v, want [0]", indices)
	}
}

// Scenario 2: second identical input produces no novelty.
func TestScenario2NoNoveltyOnRepeat(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 16, 0)
	tuple := observers.NewTuple(obs)
	fb := NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	st := state.New(fb)
	ctx := context.Background()

	obs.Set(0, 1)
	fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	tc := corpus.NewTestcase(inputs.New([]byte("a")), 1)
	fb.AppendMetadata(ctx, st, nil, tuple, tc)

	// Same observation again.
	obs.Set(0, 1)
	interesting, err := fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	if err != nil {
		t.Fatalf("is_interesting: %v", err)
	}
	if interesting {
		t.Fatalf("expected interesting=false on repeat")
	}
	if err := fb.DiscardMetadata(ctx, st, inputs.New([]byte("a"))); err != nil {
		t.Fatalf("discard_metadata: %v", err)
	}

	v, _ := st.Metadata().Get("coverage")
	hist := v.(*MapFeedbackMetadata[uint8])
	if hist.NumCoveredIndex != 1 {
		t.Fatalf("num_covered changed after discard: %d", hist.NumCoveredIndex)
	}
}

// Scenario 3: partial novelty.
func TestScenario3PartialNovelty(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 16, 0)
	tuple := observers.NewTuple(obs)
	fb := NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	st := state.New(fb)
	ctx := context.Background()

	obs.Set(0, 1)
	fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	tc1 := corpus.NewTestcase(inputs.New([]byte("a")), 1)
	fb.AppendMetadata(ctx, st, nil, tuple, tc1)

	obs.ResetMap()
	obs.Set(0, 1)
	obs.Set(1, 1)
	interesting, _ := fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	if !interesting {
		t.Fatalf("expected interesting=true for partial novelty")
	}
	tc2 := corpus.NewTestcase(inputs.New([]byte("ab")), 1)
	if err := fb.AppendMetadata(ctx, st, nil, tuple, tc2); err != nil {
		t.Fatalf("append_metadata: %v", err)
	}

	v, _ := st.Metadata().Get("coverage")
	hist := v.(*MapFeedbackMetadata[uint8])
	if hist.NumCoveredIndex != 2 {
		t.Fatalf("num_covered = %d, want 2", hist.NumCoveredIndex)
	}
	idxMeta, _ := tc2.Metadata.Get(MapIndexesMetadataKind)
	indices := idxMeta.(*MapIndexesMetadata).Indices
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 1 {
		t.Fatalf("indices = %v, want [0 1]", indices)
	}
}

func TestHistoryMapGrowsToObserverLength(t *testing.T) {
	obs := observers.NewMapObserver[uint8]("cov", 4, 0)
	tuple := observers.NewTuple(obs)
	fb := NewMaxMapFeedback[uint8]("coverage", observers.Reference("cov"))
	st := state.New(fb)
	ctx := context.Background()

	obs.Set(3, 1)
	fb.IsInteresting(ctx, st, nil, nil, tuple, executors.Ok)
	v, _ := st.Metadata().Get("coverage")
	hist := v.(*MapFeedbackMetadata[uint8])
	if len(hist.HistoryMap) < 4 {
		t.Fatalf("history map not grown: len=%d", len(hist.HistoryMap))
	}
}

func TestMissingObserverReferenceIsFatal(t *testing.T) {
	tuple := observers.NewTuple()
	fb := NewMaxMapFeedback[uint8]("coverage", observers.Reference("missing"))
	st := state.New(fb)
	_, err := fb.IsInteresting(context.Background(), st, nil, nil, tuple, executors.Ok)
	if err == nil {
		t.Fatalf("expected fatal error for missing observer reference")
	}
}

func TestMaxReducerAndDifferentIsNovel(t *testing.T) {
	var r MaxReducer[uint8]
	if r.Reduce(3, 5) != 5 {
		t.Fatalf("max reducer should keep the larger value")
	}
	if r.Reduce(5, 3) != 5 {
		t.Fatalf("max reducer should keep the larger value regardless of argument order")
	}
	var n DifferentIsNovel[uint8]
	if n.IsNovel(5, 5) {
		t.Fatalf("identical values must not be novel")
	}
	if !n.IsNovel(5, 6) {
		t.Fatalf("different values must be novel")
	}
}

func TestCrashAndTimeoutFeedbacksDoNotTouchCoverageHistory(t *testing.T) {
	crash := NewCrashFeedback()
	timeout := NewTimeoutFeedback()
	st := state.New(crash, timeout)
	ctx := context.Background()

	interesting, err := crash.IsInteresting(ctx, st, nil, nil, nil, executors.Crash)
	if err != nil || !interesting {
		t.Fatalf("crash feedback should flag Crash exit kind")
	}
	interesting, _ = crash.IsInteresting(ctx, st, nil, nil, nil, executors.Ok)
	if interesting {
		t.Fatalf("crash feedback must not flag Ok exit kind")
	}
	interesting, err = timeout.IsInteresting(ctx, st, nil, nil, nil, executors.Timeout)
	if err != nil || !interesting {
		t.Fatalf("timeout feedback should flag Timeout exit kind")
	}
	if st.Metadata().Len() != 0 {
		t.Fatalf("objective feedbacks must not write state metadata")
	}
}
