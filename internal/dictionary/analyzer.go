package dictionary

import (
	"regexp"
	"strings"
)

// ResponseAnalyzer matches HTTP response bodies against per-category
// vulnerability indicator patterns. Feedback uses it to turn a mutated
// request's response into concrete findings, which is what distinguishes
// "the payload was sent" from "the target reacted to the payload".
type ResponseAnalyzer struct {
	patterns map[VulnerabilityType][]*regexp.Regexp
}

// NewResponseAnalyzer creates a new response analyzer
func NewResponseAnalyzer() *ResponseAnalyzer {
	ra := &ResponseAnalyzer{
		patterns: make(map[VulnerabilityType][]*regexp.Regexp),
	}
	ra.initPatterns()
	return ra
}

func (ra *ResponseAnalyzer) initPatterns() {
	// SQL Injection patterns
	ra.patterns[SQLInjection] = []*regexp.Regexp{
		regexp.MustCompile(`(?i)sql\s*syntax`),
		regexp.MustCompile(`(?i)mysql.*error`),
		regexp.MustCompile(`(?i)postgresql.*error`),
		regexp.MustCompile(`(?i)sqlite.*error`),
		regexp.MustCompile(`(?i)ORA-\d{5}`),
		regexp.MustCompile(`(?i)quoted string not properly terminated`),
		regexp.MustCompile(`(?i)unclosed quotation`),
		regexp.MustCompile(`(?i)SQLSTATE\[`),
		regexp.MustCompile(`(?i)Warning:.*mysql_`),
		regexp.MustCompile(`(?i)Warning:.*pg_`),
		regexp.MustCompile(`(?i)Microsoft SQL Server`),
		regexp.MustCompile(`(?i)ODBC.*Driver`),
	}

	// XSS patterns (reflected input)
	ra.patterns[XSS] = []*regexp.Regexp{
		regexp.MustCompile(`<script[^>]*>.*?</script>`),
		regexp.MustCompile(`<img[^>]+onerror\s*=`),
		regexp.MustCompile(`<svg[^>]+onload\s*=`),
	}

	// Command Injection patterns
	ra.patterns[OSCommand] = []*regexp.Regexp{
		regexp.MustCompile(`uid=\d+\(.*?\)\s+gid=\d+`),
		regexp.MustCompile(`root:.*:0:0:`),
		regexp.MustCompile(`\[boot loader\]`),
		regexp.MustCompile(`(?i)volume\s+serial\s+number`),
	}

	// Path Traversal patterns
	ra.patterns[BrokenAccessControl] = []*regexp.Regexp{
		regexp.MustCompile(`root:x:0:0:`),
		regexp.MustCompile(`\[fonts\]`),
		regexp.MustCompile(`(?i)warning:.*include\(`),
		regexp.MustCompile(`(?i)failed to open stream`),
	}

	// XXE patterns
	ra.patterns[XXE] = []*regexp.Regexp{
		regexp.MustCompile(`(?i)external entity`),
		regexp.MustCompile(`(?i)entity.*not defined`),
		regexp.MustCompile(`SYSTEM.*file:`),
	}

	// SSRF patterns
	ra.patterns[SSRF] = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ami-[a-z0-9]+`),
		regexp.MustCompile(`(?i)instance-id`),
		regexp.MustCompile(`169\.254\.169\.254`),
	}

	// Information Disclosure patterns
	ra.patterns[SensitiveDataExposure] = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key\s*[:=]`),
		regexp.MustCompile(`(?i)secret[_-]?key\s*[:=]`),
		regexp.MustCompile(`(?i)aws[_-]?secret`),
		regexp.MustCompile(`-----BEGIN.*PRIVATE KEY-----`),
		regexp.MustCompile(`(?i)jdbc:.*://`),
		regexp.MustCompile(`(?i)mongodb://.*@`),
	}

	// Stack Trace / Error patterns
	ra.patterns[VerboseErrors] = []*regexp.Regexp{
		regexp.MustCompile(`(?i)stack\s*trace`),
		regexp.MustCompile(`(?i)exception\s+in\s+thread`),
		regexp.MustCompile(`(?i)traceback\s+\(most recent`),
		regexp.MustCompile(`(?i)Parse\s+error:`),
		regexp.MustCompile(`(?i)Fatal\s+error:`),
		regexp.MustCompile(`(?i)undefined\s+index`),
	}
}

// AnalysisResult represents one pattern match in a response body.
type AnalysisResult struct {
	Type     VulnerabilityType
	Pattern  string
	Match    string
	Position int
}

// Analyze matches a response body against one vulnerability type's patterns.
func (ra *ResponseAnalyzer) Analyze(body []byte, vulnType VulnerabilityType) []AnalysisResult {
	var results []AnalysisResult
	bodyStr := string(body)

	patterns, ok := ra.patterns[vulnType]
	if !ok {
		return results
	}

	for _, pattern := range patterns {
		matches := pattern.FindAllString(bodyStr, -1)
		for _, match := range matches {
			results = append(results, AnalysisResult{
				Type:     vulnType,
				Pattern:  pattern.String(),
				Match:    match,
				Position: strings.Index(bodyStr, match),
			})
		}
	}

	return results
}

// AnalyzeAll matches a response body against every known pattern set.
func (ra *ResponseAnalyzer) AnalyzeAll(body []byte) []AnalysisResult {
	var results []AnalysisResult
	for vulnType := range ra.patterns {
		results = append(results, ra.Analyze(body, vulnType)...)
	}
	return results
}
