// Package observers implements the Map Observer: a typed, fixed-size view
// over an observation map the target writes into during one execution.
// The generic cell type is monomorphized on the history-map code path
// (spec.md §9).
package observers

import (
	"context"
	"fmt"
	"hash/maphash"

	"github.com/shafouz/libafl-go/pkg/executors"
)

// Cell is the set of numeric types a map cell may hold. Boolean maps (also
// named in spec.md §3) are represented by instantiating Cell with uint8
// and only ever writing 0/1, so they share the uint8 Reducer/Novelty
// implementations; there is no dedicated bool instantiation.
type Cell interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// Reference is the stable token a feedback uses to look an observer up in
// a Tuple, instead of holding a pointer to it (spec.md §9, avoiding
// owning back-edges).
type Reference string

// Observer is the non-generic face every observer exposes to the
// pipeline and to a Tuple. Concrete observers (MapObserver[T] included)
// implement it.
type Observer interface {
	Name() string
	Reference() Reference
	// PreExec must reset any per-execution state to its initial value
	// before the target runs.
	PreExec(ctx context.Context) error
	// PostExec runs after the target returns; exitKind is the result of
	// that run. Most observers no-op here; specialized ones finalize
	// (e.g. compute a hash of the map they just observed).
	PostExec(ctx context.Context, exitKind executors.ExitKind) error
}

var hashSeed = maphash.MakeSeed()

// MapObserver wraps an observation map of N cells of type T. It resets
// the map before each run and exposes read access and the canonical
// "initial" value to feedbacks.
type MapObserver[T Cell] struct {
	name    string
	ref     Reference
	data    []T
	initial T
	usable  int
}

// NewMapObserver allocates a map of size cells, all set to initial.
// usable defaults to size; call SetUsableCount to shrink the feedback-
// visible prefix without reallocating (spec.md §4.1 "may be less when
// over-allocated").
func NewMapObserver[T Cell](name string, size int, initial T) *MapObserver[T] {
	m := &MapObserver[T]{
		name:    name,
		ref:     Reference(name),
		data:    make([]T, size),
		initial: initial,
		usable:  size,
	}
	m.ResetMap()
	return m
}

// WrapMapObserver builds a MapObserver over memory owned elsewhere (a
// shared-memory region, typically), rather than allocating its own
// backing slice. The caller retains responsibility for the slice's
// lifetime.
func WrapMapObserver[T Cell](name string, backing []T, initial T) *MapObserver[T] {
	return &MapObserver[T]{
		name:    name,
		ref:     Reference(name),
		data:    backing,
		initial: initial,
		usable:  len(backing),
	}
}

func (m *MapObserver[T]) Name() string          { return m.name }
func (m *MapObserver[T]) Reference() Reference  { return m.ref }
func (m *MapObserver[T]) Len() int              { return len(m.data) }
func (m *MapObserver[T]) Initial() T            { return m.initial }
func (m *MapObserver[T]) UsableCount() int      { return m.usable }

// SetUsableCount shrinks or grows (up to Len) the feedback-visible prefix.
func (m *MapObserver[T]) SetUsableCount(n int) error {
	if n < 0 || n > len(m.data) {
		return fmt.Errorf("observers: usable count %d out of range [0,%d]", n, len(m.data))
	}
	m.usable = n
	return nil
}

// PreExec resets every cell to initial. Guarantees no residue from the
// prior execution (spec.md §4.1, invariant in §8 "Map reset").
func (m *MapObserver[T]) PreExec(ctx context.Context) error {
	m.ResetMap()
	return nil
}

// PostExec is a no-op for the base map observer; specialized observers
// embed MapObserver and override this to finalize.
func (m *MapObserver[T]) PostExec(ctx context.Context, exitKind executors.ExitKind) error {
	return nil
}

// ResetMap sets every cell back to initial.
func (m *MapObserver[T]) ResetMap() {
	for i := range m.data {
		m.data[i] = m.initial
	}
}

// Get returns the cell at i with a bounds check.
func (m *MapObserver[T]) Get(i int) (T, error) {
	if i < 0 || i >= len(m.data) {
		var zero T
		return zero, fmt.Errorf("observers: index %d out of range [0,%d)", i, len(m.data))
	}
	return m.data[i], nil
}

// Set writes v to cell i with a bounds check.
func (m *MapObserver[T]) Set(i int, v T) error {
	if i < 0 || i >= len(m.data) {
		return fmt.Errorf("observers: index %d out of range [0,%d)", i, len(m.data))
	}
	m.data[i] = v
	return nil
}

// CountBytes returns the number of cells != initial in [0, UsableCount).
func (m *MapObserver[T]) CountBytes() int {
	n := 0
	for _, v := range m.data[:m.usable] {
		if v != m.initial {
			n++
		}
	}
	return n
}

// HowManySet returns how many of the given indices hold a cell != initial.
func (m *MapObserver[T]) HowManySet(indices []int) int {
	n := 0
	for _, i := range indices {
		if i >= 0 && i < len(m.data) && m.data[i] != m.initial {
			n++
		}
	}
	return n
}

// ToSlice returns a defensive copy of the usable prefix.
func (m *MapObserver[T]) ToSlice() []T {
	out := make([]T, m.usable)
	copy(out, m.data[:m.usable])
	return out
}

// Backing exposes the raw slice for an executor or shared-memory provider
// to write into directly. Callers must respect the single-writer
// discipline documented in spec.md §5.
func (m *MapObserver[T]) Backing() []T {
	return m.data
}

// HashSimple is a stable, deterministic hash of the usable prefix, seeded
// with a fixed process-wide constant so identical maps always hash equal
// (spec.md §4.1). It is not a cryptographic hash.
func (m *MapObserver[T]) HashSimple() uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	buf := make([]byte, 0, m.usable*8)
	for _, v := range m.data[:m.usable] {
		buf = appendCell(buf, v)
	}
	h.Write(buf)
	return h.Sum64()
}

func appendCell[T Cell](buf []byte, v T) []byte {
	switch x := any(v).(type) {
	case uint8:
		return append(buf, x)
	case int8:
		return append(buf, byte(x))
	case uint16:
		return append(buf, byte(x), byte(x>>8))
	case int16:
		return append(buf, byte(x), byte(x>>8))
	case uint32:
		return append(buf, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
	case int32:
		return append(buf, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
	case uint64:
		return append(buf, byte(x), byte(x>>8), byte(x>>16), byte(x>>24), byte(x>>32), byte(x>>40), byte(x>>48), byte(x>>56))
	case int64:
		return append(buf, byte(x), byte(x>>8), byte(x>>16), byte(x>>24), byte(x>>32), byte(x>>40), byte(x>>48), byte(x>>56))
	case float32:
		return append(buf, fmt.Sprintf("%x", x)...)
	case float64:
		return append(buf, fmt.Sprintf("%x", x)...)
	default:
		return buf
	}
}

// Tuple is a heterogeneous, ordered collection of observers, looked up by
// stable Reference token rather than pointer (spec.md §9).
type Tuple struct {
	observers []Observer
	index     map[Reference]int
}

// NewTuple builds a Tuple preserving the given order.
func NewTuple(obs ...Observer) *Tuple {
	t := &Tuple{
		observers: obs,
		index:     make(map[Reference]int, len(obs)),
	}
	for i, o := range obs {
		t.index[o.Reference()] = i
	}
	return t
}

// PreExecAll invokes PreExec on every member, in tuple order, running
// every member even after an error; the first error encountered is
// returned once all have run.
func (t *Tuple) PreExecAll(ctx context.Context) error {
	var firstErr error
	for _, o := range t.observers {
		if err := o.PreExec(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("observers: %s pre_exec: %w", o.Name(), err)
		}
	}
	return firstErr
}

// PostExecAll invokes PostExec on every member, in tuple order, running
// every member even after an error so finalization is best-effort; the
// first error encountered is returned once all have run.
func (t *Tuple) PostExecAll(ctx context.Context, exitKind executors.ExitKind) error {
	var firstErr error
	for _, o := range t.observers {
		if err := o.PostExec(ctx, exitKind); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("observers: %s post_exec: %w", o.Name(), err)
		}
	}
	return firstErr
}

// Get looks an observer up by its stable reference token.
func (t *Tuple) Get(ref Reference) (Observer, bool) {
	i, ok := t.index[ref]
	if !ok {
		return nil, false
	}
	return t.observers[i], true
}

// Len reports the number of observers in the tuple.
func (t *Tuple) Len() int {
	return len(t.observers)
}

// All returns the observers in tuple order.
func (t *Tuple) All() []Observer {
	return t.observers
}
