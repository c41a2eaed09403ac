package httpexec

import (
	"context"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/observers"
)

// ResponseObserver is a non-map pkg/observers.Observer: instead of a
// fixed-size cell array, it exposes the most recent HTTP response for
// downstream feedbacks (internal/diffobserver, internal/dictionary) that
// judge novelty by response shape rather than coverage bitmap (spec.md
// §4.1: "specialized observers may finalize"). Executor writes into it
// once per RunTarget, immediately before returning — the single-writer
// discipline spec.md §5 requires ("only the observer reads during
// POST_EXEC") is upheld because nothing else touches last between PreExec
// and the Executor's write.
type ResponseObserver struct {
	name string
	ref  observers.Reference
	last *target.Response
}

// NewResponseObserver builds an observer looked up by name in the tuple.
func NewResponseObserver(name string) *ResponseObserver {
	return &ResponseObserver{name: name, ref: observers.Reference(name)}
}

func (o *ResponseObserver) Name() string                 { return o.name }
func (o *ResponseObserver) Reference() observers.Reference { return o.ref }

// PreExec clears the prior response so a feedback can never observe a
// stale one if RunTarget fails before reaching the HTTP client.
func (o *ResponseObserver) PreExec(ctx context.Context) error {
	o.last = nil
	return nil
}

// PostExec is a no-op: Executor.RunTarget populates Last directly, since
// it alone has the response in hand and runs strictly between PreExec and
// PostExec (spec.md §4.5 steps 1-4).
func (o *ResponseObserver) PostExec(ctx context.Context, exitKind executors.ExitKind) error {
	return nil
}

// Last returns the response from the most recently completed RunTarget,
// or nil if none has run since the last PreExec.
func (o *ResponseObserver) Last() *target.Response { return o.last }

// SetLast records r as the response feedbacks will read this round.
// Called only by Executor.RunTarget.
func (o *ResponseObserver) SetLast(r *target.Response) { o.last = r }

var _ observers.Observer = (*ResponseObserver)(nil)
