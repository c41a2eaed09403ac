package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/feedbacks"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/state"
)

func buildTestReport(t *testing.T) *Report {
	t.Helper()

	mapFeedback := feedbacks.NewMaxMapFeedback[uint8]("maxmap", observers.Reference("cov"))
	crashFeedback := feedbacks.NewCrashFeedback()
	st := state.New(mapFeedback, crashFeedback)

	ctx := context.Background()

	mo := observers.NewMapObserver[uint8]("cov", 64, 0)
	obsTuple := observers.NewTuple(mo)
	if err := mo.Set(3, 7); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := mo.Set(9, 2); err != nil {
		t.Fatalf("set cell: %v", err)
	}

	interesting, err := mapFeedback.IsInteresting(ctx, st, nil, inputs.New([]byte("a")), obsTuple, 0)
	if err != nil || !interesting {
		t.Fatalf("expected interesting input, got interesting=%v err=%v", interesting, err)
	}

	main := corpus.NewInMemoryCorpus(corpus.NewQueueScheduler())
	tc := corpus.NewTestcase(inputs.New([]byte("a")), 1)
	if err := mapFeedback.AppendMetadata(ctx, st, nil, obsTuple, tc); err != nil {
		t.Fatalf("append metadata: %v", err)
	}
	if _, err := main.Add(tc); err != nil {
		t.Fatalf("corpus add: %v", err)
	}

	objective := corpus.NewInMemoryCorpus(corpus.NewQueueScheduler())
	crashTc := corpus.NewTestcase(inputs.New([]byte("crashing payload")), 1)
	if err := crashFeedback.AppendMetadata(ctx, st, nil, obsTuple, crashTc); err != nil {
		t.Fatalf("append crash metadata: %v", err)
	}
	if _, err := objective.Add(crashTc); err != nil {
		t.Fatalf("objective add: %v", err)
	}

	return FromRun("test campaign", "http://target.test", st, main, objective)
}

func TestFromRunCoverage(t *testing.T) {
	r := buildTestReport(t)

	if len(r.Coverage) != 1 {
		t.Fatalf("expected one coverage summary, got %d", len(r.Coverage))
	}
	cov := r.Coverage[0]
	if cov.Feedback != "maxmap" {
		t.Errorf("feedback name = %q, want maxmap", cov.Feedback)
	}
	if cov.NumCovered != 2 {
		t.Errorf("num covered = %d, want 2", cov.NumCovered)
	}
	if cov.MapSize != 64 {
		t.Errorf("map size = %d, want 64", cov.MapSize)
	}
}

func TestFromRunFindings(t *testing.T) {
	r := buildTestReport(t)

	if r.Statistics.FindingsCount != 1 {
		t.Fatalf("findings count = %d, want 1", r.Statistics.FindingsCount)
	}
	if r.CrashCount() != 1 {
		t.Errorf("crash count = %d, want 1", r.CrashCount())
	}
	if r.TimeoutCount() != 0 {
		t.Errorf("timeout count = %d, want 0", r.TimeoutCount())
	}

	crashes := r.FilterByKind("crash")
	if len(crashes) != 1 {
		t.Fatalf("expected one crash finding, got %d", len(crashes))
	}
	if crashes[0].Preview != "crashing payload" {
		t.Errorf("preview = %q, want %q", crashes[0].Preview, "crashing payload")
	}
}

func TestJSONGenerator(t *testing.T) {
	r := buildTestReport(t)
	var buf bytes.Buffer
	gen := &JSONGenerator{Indent: true}
	if err := gen.Generate(r, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(buf.String(), "test campaign") {
		t.Errorf("json output missing title: %s", buf.String())
	}
	if gen.Extension() != "json" {
		t.Errorf("extension = %q, want json", gen.Extension())
	}
}

func TestHTMLGenerator(t *testing.T) {
	r := buildTestReport(t)
	var buf bytes.Buffer
	gen := NewHTMLGenerator()
	if err := gen.Generate(r, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<html") {
		t.Errorf("html output missing <html tag")
	}
	if !strings.Contains(out, "kind-crash") {
		t.Errorf("html output missing kind class for crash finding")
	}
}

func TestMarkdownGenerator(t *testing.T) {
	r := buildTestReport(t)
	var buf bytes.Buffer
	gen := &MarkdownGenerator{IncludeDetails: true}
	if err := gen.Generate(r, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "# test campaign") {
		t.Errorf("markdown output missing title heading: %s", out)
	}
	if !strings.Contains(out, "## Findings") {
		t.Errorf("markdown output missing findings section when IncludeDetails set")
	}
}

func TestMarkdownGeneratorWithoutDetails(t *testing.T) {
	r := buildTestReport(t)
	var buf bytes.Buffer
	gen := &MarkdownGenerator{}
	if err := gen.Generate(r, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(buf.String(), "## Findings") {
		t.Errorf("markdown output should omit findings table when IncludeDetails is false")
	}
}

func TestManagerGenerateAll(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	r := buildTestReport(t)

	paths, err := m.GenerateAll(r)
	if err != nil {
		t.Fatalf("generate all: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 distinct-extension reports (json/html/md), got %d: %v", len(paths), paths)
	}
}

func TestManagerUnknownFormat(t *testing.T) {
	m := NewManager(t.TempDir())
	if _, err := m.Generate(buildTestReport(t), "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
