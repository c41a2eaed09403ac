package report

import (
	"fmt"
	"html/template"
	"io"
)

// HTMLGenerator renders a Report as a standalone HTML page, grounded on
// the teacher's html.go (template.Must + FuncMap, kindClass helper
// driving a CSS class per row).
type HTMLGenerator struct {
	tmpl *template.Template
}

func NewHTMLGenerator() *HTMLGenerator {
	funcs := template.FuncMap{
		"kindClass": func(k string) string {
			switch k {
			case "crash":
				return "kind-crash"
			case "timeout":
				return "kind-timeout"
			default:
				return "kind-objective"
			}
		},
		"percent": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	}
	return &HTMLGenerator{tmpl: template.Must(template.New("report").Funcs(funcs).Parse(htmlReportTemplate))}
}

func (g *HTMLGenerator) Extension() string { return "html" }

func (g *HTMLGenerator) Generate(report *Report, w io.Writer) error {
	return g.tmpl.Execute(w, report)
}

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, sans-serif; margin: 2rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
th, td { border: 1px solid #ddd; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9rem; }
th { background: #f5f5f5; }
.kind-crash { color: #b30000; font-weight: bold; }
.kind-timeout { color: #b7950b; font-weight: bold; }
.kind-objective { color: #566573; }
.stats { display: flex; gap: 1.5rem; margin: 1rem 0; }
.stats div { background: #f5f5f5; border-radius: 4px; padding: 0.6rem 1rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Target: {{.TargetURL}}<br>Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

<div class="stats">
<div>Executions<br><strong>{{.Statistics.Executions}}</strong></div>
<div>Exec/sec<br><strong>{{printf "%.1f" .Statistics.ExecPerSec}}</strong></div>
<div>Corpus<br><strong>{{.Statistics.CorpusSize}}</strong></div>
<div>Objective<br><strong>{{.Statistics.ObjectiveSize}}</strong></div>
<div>Findings<br><strong>{{.Statistics.FindingsCount}}</strong></div>
</div>

<h2>Coverage</h2>
<table>
<tr><th>Feedback</th><th>Covered</th><th>Map size</th><th>%</th></tr>
{{range .Coverage}}
<tr><td>{{.Feedback}}</td><td>{{.NumCovered}}</td><td>{{.MapSize}}</td><td>{{percent .CoveragePct}}</td></tr>
{{end}}
</table>

<h2>Findings</h2>
<table>
<tr><th>#</th><th>Kind</th><th>Testcase</th><th>Fitness</th><th>Preview</th></tr>
{{range .Findings}}
<tr class="{{kindClass .Kind}}">
<td>{{.TestcaseIndex}}</td>
<td>{{.Kind}}</td>
<td>{{.TestcaseID}}</td>
<td>{{.Fitness}}</td>
<td>{{.Preview}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`
