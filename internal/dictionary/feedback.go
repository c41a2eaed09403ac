package dictionary

import (
	"context"
	"time"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/executors"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/metadata"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

// FindingsKind is the metadata bag key FindingsMetadata is filed under.
const FindingsKind = "dictionary.findings"

// FindingsMetadata attaches the vulnerability findings a response
// triggered to the testcase that produced it, so post-run reporting can
// recover them straight from the corpus.
type FindingsMetadata struct {
	Findings []*Finding
}

func (m *FindingsMetadata) Kind() string { return FindingsKind }

var _ metadata.Value = (*FindingsMetadata)(nil)

// responseCarrier is the slice of internal/httpexec.ResponseObserver this
// feedback needs: the last response the executor saw. Matching by
// interface keeps dictionary free of an httpexec import.
type responseCarrier interface {
	Last() *target.Response
}

// Feedback is a state.Feedback that judges an input interesting when the
// target's response to it matches a vulnerability indicator pattern. It
// scores by finding count (state.Scorer), so richer reactions weigh
// heavier with a WeightedScheduler.
type Feedback struct {
	detector *Detector
	analyzer *ResponseAnalyzer
	method   string
	url      string
	headers  map[string]string

	// pending holds findings collected by the last IsInteresting call,
	// installed by AppendMetadata or dropped by DiscardMetadata. Valid
	// only within one evaluate_input pass (single-threaded pipeline).
	pending []*Finding
}

// NewFeedback builds a Feedback reporting findings against the given
// request shape. detector accumulates findings across the campaign so
// scan-style consumers (web dashboard, reports) see them too.
func NewFeedback(detector *Detector, method, url string, headers map[string]string) *Feedback {
	return &Feedback{
		detector: detector,
		analyzer: NewResponseAnalyzer(),
		method:   method,
		url:      url,
		headers:  headers,
	}
}

func (f *Feedback) Name() string { return "dictionary" }

// IsInteresting inspects the response the executor recorded in the
// observer tuple. No response (transport failure, non-HTTP executor)
// means nothing to match against — not interesting, never an error.
func (f *Feedback) IsInteresting(ctx context.Context, st *state.State, mgr state.EventManager, input inputs.Input, obs *observers.Tuple, exitKind executors.ExitKind) (bool, error) {
	f.pending = nil

	resp := lastResponse(obs)
	if resp == nil || len(resp.Body) == 0 {
		return false, nil
	}

	results := f.analyzer.AnalyzeAll(resp.Body)
	if len(results) == 0 {
		return false, nil
	}

	// One finding per matched vulnerability type; the first match is the
	// evidence.
	seen := make(map[VulnerabilityType]bool)
	for _, r := range results {
		if seen[r.Type] {
			continue
		}
		seen[r.Type] = true
		f.pending = append(f.pending, &Finding{
			Type:        r.Type,
			Severity:    severityFor(r.Type),
			URL:         f.url,
			Method:      f.method,
			Payload:     previewPayload(input.Bytes()),
			Evidence:    r.Match,
			Description: "Response matched " + string(r.Type) + " indicator",
			Confidence:  0.6,
			Timestamp:   time.Now(),
		})
	}

	return len(f.pending) > 0, nil
}

// Score reports the finding count from the last IsInteresting call.
func (f *Feedback) Score() int { return len(f.pending) }

// AppendMetadata installs the pending findings on the kept testcase and
// records them in the detector's campaign-wide tally.
func (f *Feedback) AppendMetadata(ctx context.Context, st *state.State, mgr state.EventManager, obs *observers.Tuple, tc *corpus.Testcase) error {
	if len(f.pending) == 0 {
		return nil
	}
	tc.Metadata.Insert(&FindingsMetadata{Findings: f.pending})
	if f.detector != nil {
		f.detector.AddFindings(f.pending)
	}
	f.pending = nil
	return nil
}

// DiscardMetadata drops findings collected for an input the pipeline
// decided not to keep.
func (f *Feedback) DiscardMetadata(ctx context.Context, st *state.State, input inputs.Input) error {
	f.pending = nil
	return nil
}

var (
	_ state.Feedback = (*Feedback)(nil)
	_ state.Scorer   = (*Feedback)(nil)
)

func lastResponse(obs *observers.Tuple) *target.Response {
	if obs == nil {
		return nil
	}
	for _, o := range obs.All() {
		if rc, ok := o.(responseCarrier); ok {
			if resp := rc.Last(); resp != nil {
				return resp
			}
		}
	}
	return nil
}

func severityFor(t VulnerabilityType) Severity {
	switch t {
	case SQLInjection, OSCommand, InsecureDeserialization:
		return Critical
	case XSS, XXE, SSRF, BrokenAccessControl, AuthenticationFailures, IDOR:
		return High
	case SensitiveDataExposure, SecurityMisconfig, CryptographicFailures:
		return Medium
	default:
		return Low
	}
}

func previewPayload(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
