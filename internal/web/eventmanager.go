package web

import (
	"context"

	"github.com/shafouz/libafl-go/pkg/state"
)

// EventManager adapts Server to state.EventManager (spec.md §6), turning
// the core's typed events into Server.UpdateStats and Server.BroadcastLog
// calls; it never calls BroadcastAnomaly. Plugging it
// into pkg/events.CompositeManager alongside a SimpleEventManager gives a
// run both a slog trail and a live websocket dashboard.
type EventManager struct {
	server *Server

	corpusSize int
	execs      uint64
	execPerSec float64
}

// NewEventManager builds an EventManager broadcasting onto server.
func NewEventManager(server *Server) *EventManager {
	return &EventManager{server: server}
}

func (m *EventManager) Fire(ctx context.Context, st *state.State, ev state.Event) error {
	switch ev.Kind {
	case state.EventUpdateStats:
		m.execs = ev.Executions
		m.execPerSec = ev.ExecPerSec
		m.corpusSize = ev.CorpusSize
		m.server.UpdateStats(int64(m.execs), int64(m.corpusSize), 0, 0, m.execPerSec, "")
	case state.EventNewTestcase:
		m.corpusSize = ev.TestcaseIndex + 1
		m.server.BroadcastLog(&RequestLog{
			ID:      "",
			Payload: "",
		})
	case state.EventLog:
		m.server.BroadcastLog(&RequestLog{Payload: ev.Message})
	}
	return nil
}

// Process is a no-op: Server has no inbound queue of its own, only the
// outbound broadcast channel Fire writes to.
func (m *EventManager) Process(ctx context.Context, st *state.State) error { return nil }

var _ state.EventManager = (*EventManager)(nil)
