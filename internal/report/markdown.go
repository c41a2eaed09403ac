package report

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownGenerator renders a Report as a Markdown document. Referenced
// by name throughout the teacher's test suite but never actually
// defined there; this is the real implementation that closes that gap.
type MarkdownGenerator struct {
	// IncludeDetails, when true, emits the per-finding table in addition
	// to the summary counts.
	IncludeDetails bool
}

func (g *MarkdownGenerator) Extension() string { return "md" }

func (g *MarkdownGenerator) Generate(report *Report, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", report.Title)
	fmt.Fprintf(&b, "Target: `%s`  \n", report.TargetURL)
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Executions: %d\n", report.Statistics.Executions)
	fmt.Fprintf(&b, "- Exec/sec: %.1f\n", report.Statistics.ExecPerSec)
	fmt.Fprintf(&b, "- Duration: %s\n", report.Statistics.Duration)
	fmt.Fprintf(&b, "- Corpus size: %d\n", report.Statistics.CorpusSize)
	fmt.Fprintf(&b, "- Objective size: %d\n", report.Statistics.ObjectiveSize)
	fmt.Fprintf(&b, "- Findings: %d (critical=%d, high=%d)\n\n",
		report.Statistics.FindingsCount, report.GetCriticalCount(), report.GetHighCount())

	if len(report.Coverage) > 0 {
		b.WriteString("## Coverage\n\n")
		b.WriteString("| Feedback | Covered | Map size | % |\n|---|---|---|---|\n")
		for _, c := range report.Coverage {
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f%% |\n", c.Feedback, c.NumCovered, c.MapSize, c.CoveragePct)
		}
		b.WriteString("\n")
	}

	if g.IncludeDetails && len(report.Findings) > 0 {
		b.WriteString("## Findings\n\n")
		b.WriteString("| # | Kind | Severity | Description | CWE |\n|---|---|---|---|---|\n")
		for _, f := range report.Findings {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", f.TestcaseIndex, f.Kind, f.Severity, f.Description, f.CWE)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
