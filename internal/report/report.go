// Package report summarizes a finished fuzzing campaign: it walks
// pkg/corpus.Corpus (both the main corpus and, if supplied, the objective
// corpus that crash/timeout feedbacks route testcases into) and pulls
// coverage provenance out of the state metadata bag
// (pkg/feedbacks.MapFeedbackMetadata) rather than re-deriving any of it
// from a separate anomaly log the way the teacher's scan command did.
// Grounded on the teacher's internal/report (Report/Generator/Manager
// shape) adapted so its input is spec.md §3's metadata bag and objective
// corpus instead of a standalone Anomaly slice a human operator fed it by
// hand.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shafouz/libafl-go/internal/dictionary"
	"github.com/shafouz/libafl-go/internal/diffobserver"
	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/feedbacks"
	"github.com/shafouz/libafl-go/pkg/state"
)

// Finding is one noteworthy testcase: an objective-corpus resident (a
// crash or timeout, per spec.md §8 scenario 4's objective-corpus split)
// or a main-corpus entry carrying vulnerability/anomaly metadata
// (internal/dictionary.FindingsMetadata, internal/diffobserver
// .ResultMetadata). Kind is "crash", "timeout", "vulnerability", or
// "anomaly".
type Finding struct {
	TestcaseIndex int    `json:"testcase_index"`
	Kind          string `json:"kind"`
	TestcaseID    string `json:"testcase_id"`
	Fitness       int    `json:"fitness"`
	Preview       string `json:"preview"`
	Severity      string `json:"severity,omitempty"`
	Description   string `json:"description,omitempty"`
	CWE           string `json:"cwe,omitempty"`
}

// CoverageSummary reports one coverage feedback's history-map progress
// (spec.md §3 "num_covered"), read from the state metadata bag's
// feedbacks.MapFeedbackMetadata entries rather than re-counting.
type CoverageSummary struct {
	Feedback    string  `json:"feedback"`
	NumCovered  int     `json:"num_covered"`
	MapSize     int     `json:"map_size"`
	CoveragePct float64 `json:"coverage_pct"`
}

// Statistics holds campaign-level counters, read from pkg/state.State and
// the corpuses rather than accumulated by hand during the run.
type Statistics struct {
	Executions    int64         `json:"executions"`
	ExecPerSec    float64       `json:"exec_per_sec"`
	Duration      time.Duration `json:"duration"`
	CorpusSize    int           `json:"corpus_size"`
	ObjectiveSize int           `json:"objective_size"`
	FindingsCount int           `json:"findings_count"`
}

// Report is the finished campaign summary. Build one with FromRun.
type Report struct {
	Title       string    `json:"title"`
	TargetURL   string    `json:"target_url"`
	GeneratedAt time.Time `json:"generated_at"`

	Statistics Statistics        `json:"statistics"`
	Coverage   []CoverageSummary `json:"coverage"`
	Findings   []Finding         `json:"findings"`

	KindCounts map[string]int `json:"kind_counts"`
}

// FromRun builds a Report by walking main and objective (may be nil)
// corpuses and st's metadata bag. This is the only constructor: a Report
// always reflects an actual run, never hand-assembled data, so every
// field traces back to a spec.md §3 data-model object.
func FromRun(title, targetURL string, st *state.State, main, objective corpus.Corpus) *Report {
	r := &Report{
		Title:       title,
		TargetURL:   targetURL,
		GeneratedAt: time.Now(),
		KindCounts:  make(map[string]int),
	}

	r.Statistics = Statistics{
		Executions: st.Executions(),
		ExecPerSec: st.ExecutionsPerSecond(),
		Duration:   time.Since(st.StartTime()),
		CorpusSize: main.Count(),
	}
	if objective != nil {
		r.Statistics.ObjectiveSize = objective.Count()
		r.collectFindings(objective)
	}
	r.collectVulnerabilities(main)
	r.Statistics.FindingsCount = len(r.Findings)

	r.collectCoverage(st)

	return r
}

// coverageReporter is satisfied by feedbacks.MapFeedbackMetadata[T] for
// any cell type T: the generic type parameter is erased behind these
// plain-int accessors so FromRun doesn't need to know which T a given
// pipeline used (spec.md §9: "monomorphize the history-map code path,
// erase everything above it").
type coverageReporter interface {
	Kind() string
	NumCovered() int
	Size() int
}

func (r *Report) collectCoverage(st *state.State) {
	bag := st.Metadata()
	for _, kind := range bag.Kinds() {
		v, ok := bag.Get(kind)
		if !ok {
			continue
		}
		cr, ok := v.(coverageReporter)
		if !ok {
			continue
		}
		size := cr.Size()
		covered := cr.NumCovered()
		pct := 0.0
		if size > 0 {
			pct = float64(covered) / float64(size) * 100
		}
		r.Coverage = append(r.Coverage, CoverageSummary{
			Feedback:    cr.Kind(),
			NumCovered:  covered,
			MapSize:     size,
			CoveragePct: pct,
		})
	}
}

// collectFindings walks an objective corpus; every resident entry is a
// finding by construction (EvaluateInput only routes a testcase there when
// a crash or timeout feedback reported it interesting). Kind is inferred
// from which objective feedback's name is present among the names stamped
// into the testcase's metadata bag kinds.
func (r *Report) collectFindings(objective corpus.Corpus) {
	for i, tc := range objective.Iter() {
		kind := "objective"
		for _, k := range tc.Metadata.Kinds() {
			switch k {
			case "crash":
				kind = "crash"
			case "timeout":
				kind = "timeout"
			}
		}
		preview := ""
		if tc.IsLoaded() {
			preview = previewBytes(tc.Input.Bytes())
		}
		severity := "critical"
		if kind == "timeout" {
			severity = "high"
		}
		r.Findings = append(r.Findings, Finding{
			TestcaseIndex: i,
			Kind:          kind,
			TestcaseID:    tc.ID,
			Fitness:       tc.Fitness,
			Preview:       preview,
			Severity:      severity,
			Description:   "target " + kind + " reproduced by preserved input",
		})
		r.KindCounts[kind]++
	}
}

// collectVulnerabilities walks the main corpus for testcases whose
// metadata bag carries dictionary findings or a diffobserver analysis,
// turning each into a report Finding with its severity.
func (r *Report) collectVulnerabilities(main corpus.Corpus) {
	if main == nil {
		return
	}
	for i, tc := range main.Iter() {
		if v, ok := tc.Metadata.Get(dictionary.FindingsKind); ok {
			fm, ok := v.(*dictionary.FindingsMetadata)
			if ok {
				for _, f := range fm.Findings {
					r.Findings = append(r.Findings, Finding{
						TestcaseIndex: i,
						Kind:          "vulnerability",
						TestcaseID:    tc.ID,
						Fitness:       tc.Fitness,
						Preview:       f.Payload,
						Severity:      string(f.Severity),
						Description:   f.Description,
						CWE:           f.CWE,
					})
					r.KindCounts["vulnerability"]++
				}
			}
		}
		if v, ok := tc.Metadata.Get(diffobserver.ResultKind); ok {
			rm, ok := v.(*diffobserver.ResultMetadata)
			if ok && rm.Result != nil {
				r.Findings = append(r.Findings, Finding{
					TestcaseIndex: i,
					Kind:          "anomaly",
					TestcaseID:    tc.ID,
					Fitness:       tc.Fitness,
					Severity:      anomalySeverity(rm.Result.AnomalyScore),
					Description:   rm.Result.Summary(),
				})
				r.KindCounts["anomaly"]++
			}
		}
	}
}

// anomalySeverity buckets a 0-100 anomaly score into the severity scale
// dictionary findings already use.
func anomalySeverity(score float64) string {
	switch {
	case score >= 90:
		return "critical"
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

// GetCriticalCount returns the count of critical-severity findings.
func (r *Report) GetCriticalCount() int { return r.countSeverity("critical") }

// GetHighCount returns the count of high-severity findings.
func (r *Report) GetHighCount() int { return r.countSeverity("high") }

// GetMediumCount returns the count of medium-severity findings.
func (r *Report) GetMediumCount() int { return r.countSeverity("medium") }

// GetLowCount returns the count of low-severity findings.
func (r *Report) GetLowCount() int { return r.countSeverity("low") }

func (r *Report) countSeverity(severity string) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}

func previewBytes(b []byte) string {
	const max = 80
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}

// CrashCount returns the count of crash findings.
func (r *Report) CrashCount() int { return r.KindCounts["crash"] }

// TimeoutCount returns the count of timeout findings.
func (r *Report) TimeoutCount() int { return r.KindCounts["timeout"] }

// FilterByKind returns findings of the given kind ("crash" or "timeout").
func (r *Report) FilterByKind(kind string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Generator renders a Report to w in one format.
type Generator interface {
	Generate(report *Report, w io.Writer) error
	Extension() string
}

// Manager dispatches Report rendering to a registered Generator by
// format name and handles the output-directory bookkeeping, mirroring
// the teacher's Manager.
type Manager struct {
	generators map[string]Generator
	outputDir  string
}

// NewManager creates a Manager with the standard json/html/markdown
// generators registered.
func NewManager(outputDir string) *Manager {
	m := &Manager{generators: make(map[string]Generator), outputDir: outputDir}
	m.RegisterGenerator("json", &JSONGenerator{Indent: true})
	m.RegisterGenerator("html", NewHTMLGenerator())
	m.RegisterGenerator("markdown", &MarkdownGenerator{})
	m.RegisterGenerator("md", &MarkdownGenerator{})
	return m
}

func (m *Manager) RegisterGenerator(format string, gen Generator) { m.generators[format] = gen }

func (m *Manager) GetGenerator(format string) (Generator, bool) {
	gen, ok := m.generators[format]
	return gen, ok
}

// Generate renders report in format and writes it under m.outputDir,
// returning the file path written.
func (m *Manager) Generate(report *Report, format string) (string, error) {
	gen, ok := m.generators[format]
	if !ok {
		return "", fmt.Errorf("report: unknown format %q", format)
	}
	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return "", fmt.Errorf("report: output dir: %w", err)
	}
	name := fmt.Sprintf("report_%s.%s", time.Now().Format("20060102_150405"), gen.Extension())
	path := filepath.Join(m.outputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create file: %w", err)
	}
	defer f.Close()
	if err := gen.Generate(report, f); err != nil {
		return "", fmt.Errorf("report: generate: %w", err)
	}
	return path, nil
}

// GenerateAll renders report in every registered format, skipping
// duplicate extensions (md and markdown both write .md).
func (m *Manager) GenerateAll(report *Report) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for format, gen := range m.generators {
		ext := gen.Extension()
		if seen[ext] {
			continue
		}
		seen[ext] = true
		path, err := m.Generate(report, format)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

var _ coverageReporter = (*feedbacks.MapFeedbackMetadata[uint8])(nil)
var _ coverageReporter = (*feedbacks.MapFeedbackMetadata[uint32])(nil)
