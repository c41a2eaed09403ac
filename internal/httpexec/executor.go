package httpexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/valyala/fasthttp"
)

// Executor drives one HTTP target with the input's bytes as the request
// body, and is the concrete executors.Executor this repo ships (spec.md
// §6, SPEC_FULL.md §D: "the teacher's domain is HTTP, not forkserver
// IPC"). It wraps Client directly rather than the async Engine/WorkerPool
// pair, since RunTarget's contract is synchronous: one input in, one
// ExitKind out.
type Executor struct {
	client   *Client
	tgt      *target.Target
	response *ResponseObserver
}

// NewExecutor builds an Executor against one fuzz target. opts may be nil
// for DefaultClientOptions. response may be nil when no downstream
// feedback needs the raw HTTP response (pure coverage fuzzing); when set,
// RunTarget populates it every call so internal/diffobserver and
// internal/dictionary's response-side analyzers can read it from the
// observer tuple after POST_EXEC.
func NewExecutor(tgt *target.Target, opts *ClientOptions, response *ResponseObserver) *Executor {
	return &Executor{client: NewClient(opts), tgt: tgt, response: response}
}

// RunTarget implements executors.Executor: it substitutes input.Bytes()
// as the request body and classifies the HTTP outcome into an ExitKind.
// A request timeout or transport error (the target closed the connection,
// reset it, or refused it outright) maps to Timeout/Crash the same way
// the original lab fuzzer's forkserver executor maps a killed child
// process: the core cannot tell "the process died" from "the socket
// died," so both feed CrashFeedback identically.
func (x *Executor) RunTarget(ctx context.Context, input inputs.Input) (executors.ExitKind, error) {
	req := &Request{
		Method:  x.tgt.Method,
		URL:     x.tgt.URL,
		Headers: x.tgt.Headers,
		Body:    input.Bytes(),
	}

	resp := x.client.Do(req)

	if x.response != nil {
		x.response.SetLast(&target.Response{
			StatusCode:   resp.StatusCode,
			Body:         resp.Body,
			ResponseTime: resp.ResponseTime,
			Error:        resp.Error,
		})
	}

	if resp.Error != nil {
		if errors.Is(resp.Error, context.DeadlineExceeded) || errors.Is(resp.Error, fasthttp.ErrTimeout) {
			return executors.Timeout, nil
		}
		return executors.Crash, nil
	}
	if resp.StatusCode >= 500 {
		return executors.Crash, nil
	}
	return executors.Ok, nil
}

// HasDiffCapability reports false: a single-target HTTP executor has no
// second backend to disagree with. internal/diffobserver's structural
// comparison is against a learned baseline, not a second execution, so it
// rides ExitKind::Ok rather than requiring ExitKind::Diff support here.
func (x *Executor) HasDiffCapability() bool { return false }

var _ executors.Executor = (*Executor)(nil)

func (x *Executor) String() string {
	return fmt.Sprintf("httpexec.Executor(%s %s)", x.tgt.Method, x.tgt.URL)
}
