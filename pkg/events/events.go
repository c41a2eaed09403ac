// Package events implements concrete state.EventManager sinks. Grounded
// on original_source/fuzzers/lab/src/main.rs's `SimpleMonitor`/
// `SimpleEventManager` (a synchronous, single-process sink) and on
// teacher's internal/requester patterns for slog-based structured
// logging.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shafouz/libafl-go/pkg/state"
)

// SimpleEventManager is a synchronous, in-process sink: Fire logs
// immediately through a *slog.Logger, Process is a no-op (there is
// nothing to drain: it never receives events from peers). Named after
// original_source's SimpleEventManager, the default wiring for a single
// worker.
type SimpleEventManager struct {
	logger *slog.Logger
	mu     sync.Mutex
	onFire func(state.Event)
}

// NewSimpleEventManager returns a sink logging through logger. A nil
// logger defaults to slog.Default().
func NewSimpleEventManager(logger *slog.Logger) *SimpleEventManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimpleEventManager{logger: logger}
}

// OnFire installs an optional observer callback invoked synchronously
// after logging, useful for tests and for wiring a second sink (the TUI,
// the web dashboard) without implementing CompositeManager's full
// fan-out.
func (m *SimpleEventManager) OnFire(f func(state.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFire = f
}

func (m *SimpleEventManager) Fire(ctx context.Context, st *state.State, ev state.Event) error {
	switch ev.Kind {
	case state.EventNewTestcase:
		m.logger.Info("new testcase", "index", ev.TestcaseIndex, "fitness", ev.Fitness)
	case state.EventUpdateUserStats:
		if ev.StatRatio != nil {
			m.logger.Info("stat", "name", ev.StatName, "num", ev.StatRatio.Num, "den", ev.StatRatio.Den)
		} else {
			m.logger.Info("stat", "name", ev.StatName)
		}
	case state.EventUpdateStats:
		m.logger.Info("stats", "executions", ev.Executions, "exec_per_sec", fmt.Sprintf("%.1f", ev.ExecPerSec), "corpus_size", ev.CorpusSize)
	case state.EventLoadInitial:
		m.logger.Info("loaded seed", "index", ev.SeedIndex)
	case state.EventLog:
		switch ev.Level {
		case state.LogWarn:
			m.logger.Warn(ev.Message)
		case state.LogError:
			m.logger.Error(ev.Message)
		default:
			m.logger.Info(ev.Message)
		}
	}
	m.mu.Lock()
	cb := m.onFire
	m.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
	return nil
}

func (m *SimpleEventManager) Process(ctx context.Context, st *state.State) error {
	return nil
}

var _ state.EventManager = (*SimpleEventManager)(nil)

// CompositeManager fans Fire out to every member sink in order and drains
// Process on every member. Used to wire the web dashboard alongside the
// SimpleEventManager's logging (internal/web).
type CompositeManager struct {
	members []state.EventManager
}

func NewCompositeManager(members ...state.EventManager) *CompositeManager {
	return &CompositeManager{members: members}
}

func (m *CompositeManager) Fire(ctx context.Context, st *state.State, ev state.Event) error {
	var firstErr error
	for _, member := range m.members {
		if err := member.Fire(ctx, st, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *CompositeManager) Process(ctx context.Context, st *state.State) error {
	var firstErr error
	for _, member := range m.members {
		if err := member.Process(ctx, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ state.EventManager = (*CompositeManager)(nil)

// ChannelEventManager is the outer multi-worker sink: Fire publishes
// locally (via an embedded SimpleEventManager) and also pushes the event
// onto a channel peers can drain; Process consumes any events peers have
// pushed onto Inbound and is always called between iterations, never
// mid-iteration, so it never races the history map (spec.md §5).
// Grounded on teacher's internal/cluster (coordinator/worker channel
// wiring) adapted away from its HTTP-RPC transport to the in-process
// channel boundary the core actually specifies.
type ChannelEventManager struct {
	*SimpleEventManager
	Outbound chan state.Event
	Inbound  chan state.Event
}

func NewChannelEventManager(logger *slog.Logger, bufSize int) *ChannelEventManager {
	return &ChannelEventManager{
		SimpleEventManager: NewSimpleEventManager(logger),
		Outbound:           make(chan state.Event, bufSize),
		Inbound:            make(chan state.Event, bufSize),
	}
}

func (m *ChannelEventManager) Fire(ctx context.Context, st *state.State, ev state.Event) error {
	if err := m.SimpleEventManager.Fire(ctx, st, ev); err != nil {
		return err
	}
	select {
	case m.Outbound <- ev:
	default:
		// Outbound is a best-effort broadcast; a full buffer means no
		// peer is currently listening, which is not a core error.
	}
	return nil
}

func (m *ChannelEventManager) Process(ctx context.Context, st *state.State) error {
	for {
		select {
		case ev := <-m.Inbound:
			if ev.Kind == state.EventNewTestcase {
				// Peer discovered a testcase; surface it through our own
				// sink so the running worker's logs/UI reflect it too.
				_ = m.SimpleEventManager.Fire(ctx, st, ev)
			}
		default:
			return nil
		}
	}
}

var _ state.EventManager = (*ChannelEventManager)(nil)
