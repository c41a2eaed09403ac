// Package feedbacks implements the Coverage Feedback Engine: reducers and
// novelty predicates over a Map Observer's output, the metadata kinds
// they attach to testcases, and the crash/timeout feedbacks that feed the
// objective corpus. Grounded on original_source/fuzzers/lab/src/
// max_map_feedback.rs (CustomMapFeedback, MapFeedbackMetadata,
// MapIndexesMetadata, MapNoveltiesMetadata, MaxReducer, DifferentIsNovel)
// and on the teacher's internal/coverage/tracker.go (hit-count bucketing,
// cell-wise max merge).
package feedbacks

import (
	"context"
	"fmt"
	"strings"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/metadata"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// Reducer merges a newly observed cell value with the history map's
// current value for that cell. Must be associative; commutative only
// matters for cells read concurrently, which the single-threaded core
// never does. R(i, i) = i is required of every implementation.
type Reducer[T observers.Cell] interface {
	Reduce(old, new T) T
}

// MaxReducer is the canonical AFL-style reducer: history keeps the larger
// of the two hit-count-like values.
type MaxReducer[T observers.Cell] struct{}

func (MaxReducer[T]) Reduce(old, new T) T {
	if new > old {
		return new
	}
	return old
}

// Novelty decides whether a reduction produced a new history fact.
type Novelty[T observers.Cell] interface {
	IsNovel(old, reduced T) bool
}

// DifferentIsNovel is the canonical novelty predicate: any change from
// the prior history value is novel.
type DifferentIsNovel[T observers.Cell] struct{}

func (DifferentIsNovel[T]) IsNovel(old, reduced T) bool {
	return old != reduced
}

// MapIndexesMetadataKind is the stable metadata-bag key for
// MapIndexesMetadata.
const MapIndexesMetadataKind = "map_indexes"

// MapIndexesMetadata lists the map indices that were non-initial for the
// testcase it is attached to. RefCnt/SetRefCnt hold a single counter for
// the whole record, not one per index bucket; no code in this repository
// sets or reads it, so it stays 0, and no corpus minimization uses it.
type MapIndexesMetadata struct {
	Indices []int
	refcnt  int
}

func NewMapIndexesMetadata(indices []int) *MapIndexesMetadata {
	return &MapIndexesMetadata{Indices: indices}
}

func (m *MapIndexesMetadata) Kind() string    { return MapIndexesMetadataKind }
func (m *MapIndexesMetadata) RefCnt() int     { return m.refcnt }
func (m *MapIndexesMetadata) SetRefCnt(n int) { m.refcnt = n }

var _ metadata.HasRefCnt = (*MapIndexesMetadata)(nil)

// MapNoveltiesMetadataKind is the stable metadata-bag key for
// MapNoveltiesMetadata.
const MapNoveltiesMetadataKind = "map_novelties"

// MapNoveltiesMetadata lists indices that were novel relative to history
// at the moment of insertion. Read-only after attachment.
type MapNoveltiesMetadata struct {
	Indices []int
}

func NewMapNoveltiesMetadata(indices []int) *MapNoveltiesMetadata {
	return &MapNoveltiesMetadata{Indices: indices}
}

func (m *MapNoveltiesMetadata) Kind() string { return MapNoveltiesMetadataKind }

// MapFeedbackMetadata is the state-level metadata kind holding one
// feedback's history map: "H" in spec.md §3. It is keyed in the state
// metadata bag by the owning feedback's Name().
type MapFeedbackMetadata[T observers.Cell] struct {
	kindName        string
	HistoryMap      []T
	NumCoveredIndex int
	initial         T
}

func newMapFeedbackMetadata[T observers.Cell](kindName string, initial T) *MapFeedbackMetadata[T] {
	return &MapFeedbackMetadata[T]{kindName: kindName, initial: initial}
}

func (m *MapFeedbackMetadata[T]) Kind() string { return m.kindName }

// NumCovered returns the count of history-map cells moved off their
// initial value so far. Exposed as a plain int (rather than the struct
// itself) so packages like internal/report can summarize coverage
// progress without importing the Cell type parameter.
func (m *MapFeedbackMetadata[T]) NumCovered() int { return m.NumCoveredIndex }

// Size returns the current history-map length.
func (m *MapFeedbackMetadata[T]) Size() int { return len(m.HistoryMap) }

// grow extends the history map to at least n cells, padding new cells
// with initial (spec.md §3 "|H| >= |M| always, grown lazily").
func (m *MapFeedbackMetadata[T]) grow(n int) {
	if len(m.HistoryMap) >= n {
		return
	}
	grown := make([]T, n)
	copy(grown, m.HistoryMap)
	for i := len(m.HistoryMap); i < n; i++ {
		grown[i] = m.initial
	}
	m.HistoryMap = grown
}

// CustomMapFeedback is the generic map feedback: parameterized by
// observer reference, Reducer, Novelty predicate, and two tracking flags
// (spec.md §4.2). Named after original_source's CustomMapFeedback<C,N,O,
// R,T>; Go generics erase the observer-tuple type parameter C since
// observers.Tuple is already a single concrete type here.
type CustomMapFeedback[T observers.Cell] struct {
	name          string
	obsRef        observers.Reference
	reducer       Reducer[T]
	novelty       Novelty[T]
	trackIndices  bool
	trackNovelty  bool

	// novelties caches the novelty list collected during IsInteresting,
	// scoped to the same thread-of-control per spec.md §4.2 — safe here
	// because the core is single-threaded cooperative (spec.md §5).
	novelties []int
	lastScore int
}

// NewMaxMapFeedback builds the canonical AFL-style feedback: MaxReducer +
// DifferentIsNovel, tracking both indices and novelties, named after
// original_source's CustomMaxMapFeedback type alias.
func NewMaxMapFeedback[T observers.Cell](name string, obsRef observers.Reference) *CustomMapFeedback[T] {
	return NewCustomMapFeedback[T](name, obsRef, MaxReducer[T]{}, DifferentIsNovel[T]{}, true, true)
}

// NewCustomMapFeedback builds a feedback from explicit reducer/novelty
// choices and tracking flags.
func NewCustomMapFeedback[T observers.Cell](name string, obsRef observers.Reference, reducer Reducer[T], novelty Novelty[T], trackIndices, trackNovelty bool) *CustomMapFeedback[T] {
	return &CustomMapFeedback[T]{
		name:         strings.ToLower(name),
		obsRef:       obsRef,
		reducer:      reducer,
		novelty:      novelty,
		trackIndices: trackIndices,
		trackNovelty: trackNovelty,
	}
}

func (f *CustomMapFeedback[T]) Name() string { return f.name }

// Score implements state.Scorer: the count of novel cells found by the
// most recent IsInteresting call, or 1 for an interesting call when
// novelty tracking is off (SPEC_FULL.md Open Question 1).
func (f *CustomMapFeedback[T]) Score() int { return f.lastScore }

func (f *CustomMapFeedback[T]) resolveObserver(obs *observers.Tuple) (*observers.MapObserver[T], error) {
	o, ok := obs.Get(f.obsRef)
	if !ok {
		return nil, fmt.Errorf("feedbacks: %s: observer %q not in tuple (fatal: missing observer reference)", f.name, f.obsRef)
	}
	mo, ok := o.(*observers.MapObserver[T])
	if !ok {
		return nil, fmt.Errorf("feedbacks: %s: observer %q is not a MapObserver of the expected cell type (fatal)", f.name, f.obsRef)
	}
	return mo, nil
}

// IsInteresting implements the contract in spec.md §4.2: grows history to
// match the observer, walks non-initial cells computing the reduction,
// and reports novelty. Does not mutate history.
func (f *CustomMapFeedback[T]) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	mo, err := f.resolveObserver(obs)
	if err != nil {
		return false, err
	}

	bag := st.Metadata()
	v, ok := bag.Get(f.name)
	var hist *MapFeedbackMetadata[T]
	if !ok {
		hist = newMapFeedbackMetadata[T](f.name, mo.Initial())
		bag.Insert(hist)
	} else {
		hist, ok = v.(*MapFeedbackMetadata[T])
		if !ok {
			return false, fmt.Errorf("feedbacks: %s: metadata kind collision", f.name)
		}
	}
	hist.grow(mo.UsableCount())

	f.novelties = f.novelties[:0]
	interesting := false
	for i := 0; i < mo.UsableCount(); i++ {
		cell, err := mo.Get(i)
		if err != nil {
			return false, err
		}
		if cell == mo.Initial() {
			continue
		}
		reduced := f.reducer.Reduce(hist.HistoryMap[i], cell)
		if f.novelty.IsNovel(hist.HistoryMap[i], reduced) {
			interesting = true
			if f.trackNovelty {
				f.novelties = append(f.novelties, i)
			} else {
				break
			}
		}
	}
	if interesting {
		f.lastScore = 1
		if f.trackNovelty {
			f.lastScore = len(f.novelties)
			if f.lastScore == 0 {
				f.lastScore = 1
			}
		}
	} else {
		f.lastScore = 0
	}
	return interesting, nil
}

// AppendMetadata implements spec.md §4.2: folds the observer's cells into
// history, attaches MapIndexesMetadata/MapNoveltiesMetadata per the
// tracking flags, and fires UpdateUserStats.
func (f *CustomMapFeedback[T]) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	mo, err := f.resolveObserver(obs)
	if err != nil {
		return err
	}
	bag := st.Metadata()
	v, ok := bag.Get(f.name)
	if !ok {
		return fmt.Errorf("feedbacks: %s: append_metadata called before is_interesting (fatal)", f.name)
	}
	hist, ok := v.(*MapFeedbackMetadata[T])
	if !ok {
		return fmt.Errorf("feedbacks: %s: metadata kind collision", f.name)
	}
	hist.grow(mo.UsableCount())

	var indices []int
	for i := 0; i < mo.UsableCount(); i++ {
		cell, err := mo.Get(i)
		if err != nil {
			return err
		}
		if cell == mo.Initial() {
			continue
		}
		wasInitial := hist.HistoryMap[i] == mo.Initial()
		hist.HistoryMap[i] = f.reducer.Reduce(hist.HistoryMap[i], cell)
		if wasInitial && hist.HistoryMap[i] != mo.Initial() {
			hist.NumCoveredIndex++
		}
		indices = append(indices, i)
	}

	if f.trackIndices {
		tc.Metadata.Insert(NewMapIndexesMetadata(indices))
	}
	if f.trackNovelty {
		tc.Metadata.Insert(NewMapNoveltiesMetadata(append([]int(nil), f.novelties...)))
	}

	// Debug post-condition from spec.md §4.2/§8: covered count agreement.
	if actual := countNonInitial(hist.HistoryMap, mo.Initial()); actual != hist.NumCoveredIndex {
		return fmt.Errorf("feedbacks: %s: covered-count invariant violated: num_covered=%d actual=%d", f.name, hist.NumCoveredIndex, actual)
	}

	if mgr != nil {
		den := float64(len(hist.HistoryMap))
		num := float64(hist.NumCoveredIndex)
		_ = mgr.Fire(ctx, st, state.Event{
			Kind:      state.EventUpdateUserStats,
			StatName:  f.name,
			StatRatio: &state.Ratio{Num: num, Den: den},
			StatOp:    state.StatOpAvg,
		})
	}
	return nil
}

// DiscardMetadata releases the cached novelty scratch list. Must not
// touch history (spec.md §4.2, §8 "Discard purity").
func (f *CustomMapFeedback[T]) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	f.novelties = f.novelties[:0]
	f.lastScore = 0
	return nil
}

func countNonInitial[T observers.Cell](m []T, initial T) int {
	n := 0
	for _, v := range m {
		if v != initial {
			n++
		}
	}
	return n
}

var _ state.Feedback = (*CustomMapFeedback[uint8])(nil)
var _ state.Scorer = (*CustomMapFeedback[uint8])(nil)
