package report

import (
	"encoding/json"
	"io"
)

// JSONGenerator renders a Report as JSON, matching the teacher's
// json.go (Indent option, same field).
type JSONGenerator struct {
	Indent bool
}

func (g *JSONGenerator) Extension() string { return "json" }

func (g *JSONGenerator) Generate(report *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	if g.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}

// GenerateBytes renders report to a byte slice, kept for callers (tests,
// internal/web) that want the payload without an io.Writer in hand.
func (g *JSONGenerator) GenerateBytes(report *Report) ([]byte, error) {
	if g.Indent {
		return json.MarshalIndent(report, "", "  ")
	}
	return json.Marshal(report)
}
