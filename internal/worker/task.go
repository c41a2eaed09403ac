// Package worker runs many fuzzer instances concurrently and folds their
// findings into a shared event stream.
package worker

import (
	"time"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/fuzzer"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/state"
)

// InstanceSpec describes one independent fuzzer instance to launch. Unlike
// the teacher's FuzzTask, an instance carries its own engine and corpus
// rather than a single opaque unit of HTTP work: the campaign is fanned out
// at the engine level, not the request level.
type InstanceSpec struct {
	ID     string
	Engine *fuzzer.Engine
	State  *state.State
	Corpus corpus.Corpus
	Seeds  []inputs.Input
}

// InstanceReport summarizes one instance's run after it stops, replacing the
// teacher's FuzzResult (which described a single HTTP probe's outcome).
type InstanceReport struct {
	InstanceID string
	Executions int64
	CorpusSize int
	Err        error
	StoppedAt  time.Time
}
