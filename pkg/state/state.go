// Package state implements the run-local context object threaded through
// every component: the execution counter, start timestamp, state-level
// metadata, and the feedback list (spec.md §3). It also hosts the
// Feedback and EventManager interfaces, since both take *State as their
// first argument and defining them here avoids an import cycle with the
// packages that implement them (pkg/feedbacks, pkg/events).
package state

import (
	"context"
	"sync"
	"time"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/metadata"
	"github.com/shafouz/libafl-go/pkg/observers"
)

// Feedback decides whether an execution's observations are "interesting"
// and, when they are, folds them into persistent history (spec.md §4.2).
type Feedback interface {
	// Name identifies the feedback, used as its stats name and as the key
	// under which it stores history in the state metadata bag.
	Name() string
	// IsInteresting must not mutate history; see AppendMetadata.
	IsInteresting(ctx context.Context, st *State, mgr EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error)
	// AppendMetadata is called only after IsInteresting returned true and
	// the testcase has been decided to be kept.
	AppendMetadata(ctx context.Context, st *State, mgr EventManager, obs *observers.Tuple, tc *corpus.Testcase) error
	// DiscardMetadata releases per-input scratch state for an
	// uninteresting input; must not touch history.
	DiscardMetadata(ctx context.Context, st *State, input inputs.Input) error
}

// Scorer is an optional capability a Feedback may implement to contribute
// a richer-than-boolean fitness score (SPEC_FULL.md Open Question 1).
// When absent, a feedback contributes exactly 0 or 1.
type Scorer interface {
	// Score returns the contribution to overall fitness for the most
	// recent IsInteresting call. Only meaningful immediately after
	// IsInteresting returns true.
	Score() int
}

// Event is the payload passed through an EventManager. Exactly one of the
// typed fields below is populated per event, selected by Kind.
type Event struct {
	Kind EventKind

	// NewTestcase
	TestcaseIndex int
	Fitness       int

	// UpdateUserStats
	StatName  string
	StatRatio *Ratio
	StatOp    StatOp

	// UpdateStatsEvent
	Executions  uint64
	ExecPerSec  float64
	CorpusSize  int

	// LoadInitialEvent
	SeedIndex int

	// Log
	Level   LogLevel
	Message string
}

type EventKind int

const (
	EventNewTestcase EventKind = iota
	EventUpdateUserStats
	EventUpdateStats
	EventLoadInitial
	EventLog
)

// Ratio is a num/den pair, the one value shape Event carries for
// UpdateUserStats. Event has no field for a bare number: an
// UpdateUserStats event with StatRatio nil carries only StatName and
// StatOp.
type Ratio struct {
	Num float64
	Den float64
}

type StatOp int

const (
	StatOpAvg StatOp = iota
	StatOpSum
	StatOpNumber
)

type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarn
	LogError
)

// EventManager is the boundary between the core and logging/UI/multi-
// worker coordination (spec.md §6). Fire enqueues or immediately
// dispatches ev; Process drains any pending inbound events (e.g. from
// peer workers) and applies them to st. Process is only ever called
// between iterations, never mid-iteration (spec.md §5).
type EventManager interface {
	Fire(ctx context.Context, st *State, ev Event) error
	Process(ctx context.Context, st *State) error
}

// State is the run-local context threaded through every component. It is
// constructed once at startup and mutated throughout the run; it is not
// safe for concurrent use by more than one orchestrator (spec.md §5:
// parallelism is an outer concern, one State per worker).
type State struct {
	mu sync.Mutex

	executions int64
	startTime  time.Time

	metadata  *metadata.Bag
	feedbacks []Feedback
}

// New constructs a State with its start timestamp captured now. feedbacks
// are owned exclusively by the returned State from this point on
// (spec.md §3 Ownership).
func New(feedbacks ...Feedback) *State {
	return &State{
		startTime: time.Now(),
		metadata:  metadata.New(),
		feedbacks: feedbacks,
	}
}

// Feedbacks returns the feedback list in declaration order. Callers must
// not retain the slice across a call that might append to it; this core
// never appends after construction, so the returned slice is effectively
// immutable in practice.
func (s *State) Feedbacks() []Feedback {
	return s.feedbacks
}

// Metadata returns the state-level metadata bag (where, among other
// things, each feedback's history map lives, keyed by the feedback's
// Name()).
func (s *State) Metadata() *metadata.Bag {
	return s.metadata
}

// IncrementExecutions increments the execution counter by exactly one.
// Called once per completed run_target invocation, regardless of
// ExitKind (spec.md §4.4, §8 "Executions monotone").
func (s *State) IncrementExecutions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
}

// Executions returns the current execution count.
func (s *State) Executions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

// StartTime returns the timestamp captured at construction; it never
// changes afterward.
func (s *State) StartTime() time.Time {
	return s.startTime
}

// ExecutionsPerSecond computes executions / max(1, elapsed seconds).
func (s *State) ExecutionsPerSecond() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(s.Executions()) / elapsed
}
