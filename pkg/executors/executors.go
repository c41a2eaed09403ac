// Package executors defines the contract the core uses to drive a target:
// a single run_target operation plus the ExitKind it reports. Concrete
// executors (HTTP clients, fork-server clients, in-process harnesses) are
// out of the core's scope; this package only fixes the interface they
// implement.
package executors

import (
	"context"

	"github.com/shafouz/libafl-go/pkg/inputs"
)

// ExitKind is how a single execution of the target concluded.
type ExitKind int

const (
	// Ok means the target ran and returned normally.
	Ok ExitKind = iota
	// Timeout means the executor gave up waiting on the target.
	Timeout
	// Crash means the target terminated abnormally.
	Crash
	// Oom means the target was killed for exceeding a resource bound.
	Oom
	// Diff means a differential executor observed a disagreement between
	// two or more backends. Only meaningful when the executor reports
	// HasDiffCapability() == true.
	Diff
)

func (e ExitKind) String() string {
	switch e {
	case Ok:
		return "ok"
	case Timeout:
		return "timeout"
	case Crash:
		return "crash"
	case Oom:
		return "oom"
	case Diff:
		return "diff"
	default:
		return "unknown"
	}
}

// Executor runs a target on one input and reports how it went. The core
// treats this as a black box: it must be side-effect-free on the core's
// own data structures, though it may write into a shared observation map
// indirectly through the target.
type Executor interface {
	// RunTarget drives the target with input and returns its ExitKind. A
	// non-nil error is a fatal, per-iteration failure of the executor
	// itself (not of the target), distinct from Crash/Timeout/Oom.
	RunTarget(ctx context.Context, input inputs.Input) (ExitKind, error)
	// HasDiffCapability reports whether this executor can meaningfully
	// produce ExitKind Diff.
	HasDiffCapability() bool
}
