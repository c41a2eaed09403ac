package diffobserver

import (
	"context"
	"fmt"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/metadata"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// ResultKind is the metadata bag key ResultMetadata is filed under.
const ResultKind = "diffobserver.result"

// ResultMetadata attaches the analysis that made an input interesting to
// its testcase.
type ResultMetadata struct {
	Result *AnalysisResult
}

func (m *ResultMetadata) Kind() string { return ResultKind }

var _ metadata.Value = (*ResultMetadata)(nil)

// responseCarrier is the view of internal/httpexec.ResponseObserver this
// feedback reads through the observer tuple.
type responseCarrier interface {
	Last() *target.Response
}

// Feedback judges an input interesting when the target's response
// deviates structurally from the learned baseline. The first
// BaselineConfig.MinSamples responses train the baseline instead of being
// scored, so a campaign's seed runs double as the learning phase.
type Feedback struct {
	analyzer *Analyzer
	ref      observers.Reference
	url      string

	// pending is the analysis from the last IsInteresting call, installed
	// by AppendMetadata or dropped by DiscardMetadata.
	pending *AnalysisResult
}

// NewFeedback builds a Feedback reading the response observer named by
// ref out of the tuple at call time (spec-style stable-token lookup, no
// pointer held).
func NewFeedback(analyzer *Analyzer, ref observers.Reference, url string) *Feedback {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	return &Feedback{analyzer: analyzer, ref: ref, url: url}
}

func (f *Feedback) Name() string { return "diffobserver" }

// Analyzer exposes the underlying analyzer, e.g. for progress reporting.
func (f *Feedback) Analyzer() *Analyzer { return f.analyzer }

// IsInteresting resolves the response observer and scores the response.
// A missing observer reference is a configuration error and fatal; a
// missing response (transport failure) is simply not interesting.
func (f *Feedback) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	f.pending = nil

	o, ok := obs.Get(f.ref)
	if !ok {
		return false, fmt.Errorf("diffobserver: observer %q not in tuple", f.ref)
	}
	carrier, ok := o.(responseCarrier)
	if !ok {
		return false, fmt.Errorf("diffobserver: observer %q carries no response", f.ref)
	}

	resp := carrier.Last()
	if resp == nil {
		return false, nil
	}

	analysisInput := &AnalysisInput{
		URL:           f.url,
		Payload:       string(input.Bytes()),
		StatusCode:    resp.StatusCode,
		Body:          resp.Body,
		Headers:       resp.Headers,
		ResponseTime:  resp.ResponseTime,
		ContentLength: len(resp.Body),
	}

	if !f.analyzer.IsLearned() {
		f.analyzer.LearnBaseline(analysisInput)
		return false, nil
	}

	result := f.analyzer.Analyze(analysisInput)
	if !result.IsInteresting {
		return false, nil
	}

	f.pending = result
	return true, nil
}

// Score reports the anomaly score from the last IsInteresting call.
func (f *Feedback) Score() int {
	if f.pending == nil {
		return 0
	}
	return int(f.pending.AnomalyScore)
}

// AppendMetadata installs the pending analysis on the kept testcase.
func (f *Feedback) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	if f.pending == nil {
		return nil
	}
	tc.Metadata.Insert(&ResultMetadata{Result: f.pending})
	f.pending = nil
	return nil
}

// DiscardMetadata drops the analysis for an input the pipeline rejected.
func (f *Feedback) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	f.pending = nil
	return nil
}

var (
	_ state.Feedback = (*Feedback)(nil)
	_ state.Scorer   = (*Feedback)(nil)
)
