package diffobserver

import (
	"regexp"
	"unicode"
)

// FilterResult says whether a response was excluded from analysis, and why.
type FilterResult struct {
	Filtered   bool
	Reason     string
	FilterName string
}

// NotFiltered returns a FilterResult that passed all filters.
func NotFiltered() *FilterResult {
	return &FilterResult{Filtered: false}
}

// FilteredBy returns a FilterResult excluded by the named filter.
func FilteredBy(name, reason string) *FilterResult {
	return &FilterResult{Filtered: true, FilterName: name, Reason: reason}
}

// Filter excludes known-noise responses before they reach the anomaly
// scoring pipeline.
type Filter interface {
	Name() string
	Apply(input *FilterInput) *FilterResult
}

// FilterInput is the response view filters operate on.
type FilterInput struct {
	StatusCode    int
	Body          []byte
	ContentLength int
	Headers       map[string]string

	bodyString string
	wordCount  int
}

// NewFilterInput creates a FilterInput from response data
func NewFilterInput(statusCode int, body []byte, headers map[string]string) *FilterInput {
	return &FilterInput{
		StatusCode:    statusCode,
		Body:          body,
		ContentLength: len(body),
		Headers:       headers,
	}
}

// BodyString returns the body as a string, converted at most once.
func (f *FilterInput) BodyString() string {
	if f.bodyString == "" && len(f.Body) > 0 {
		f.bodyString = string(f.Body)
	}
	return f.bodyString
}

// WordCount returns the body's word count, computed at most once.
func (f *FilterInput) WordCount() int {
	if f.wordCount == 0 && len(f.Body) > 0 {
		f.wordCount = countWords(f.BodyString())
	}
	return f.wordCount
}

func countWords(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if !inWord {
				inWord = true
				count++
			}
		} else {
			inWord = false
		}
	}
	return count
}

// StatusCodeFilter filters responses based on status codes
type StatusCodeFilter struct {
	// HideCodes are status codes to filter out.
	HideCodes map[int]bool

	// ShowCodes, when non-empty, are the only status codes let through
	// (overrides HideCodes).
	ShowCodes map[int]bool
}

// NewStatusCodeFilter creates a filter that hides specific status codes
func NewStatusCodeFilter(hideCodes ...int) *StatusCodeFilter {
	hide := make(map[int]bool)
	for _, code := range hideCodes {
		hide[code] = true
	}
	return &StatusCodeFilter{HideCodes: hide}
}

// NewStatusCodeShowFilter creates a filter that only shows specific status codes
func NewStatusCodeShowFilter(showCodes ...int) *StatusCodeFilter {
	show := make(map[int]bool)
	for _, code := range showCodes {
		show[code] = true
	}
	return &StatusCodeFilter{ShowCodes: show}
}

func (f *StatusCodeFilter) Name() string { return "status_code" }

func (f *StatusCodeFilter) Apply(input *FilterInput) *FilterResult {
	if len(f.ShowCodes) > 0 {
		if !f.ShowCodes[input.StatusCode] {
			return FilteredBy(f.Name(), "status code not in show list")
		}
		return NotFiltered()
	}

	if f.HideCodes[input.StatusCode] {
		return FilteredBy(f.Name(), "status code in hide list")
	}

	return NotFiltered()
}

// LengthFilter filters responses based on content length
type LengthFilter struct {
	MinLength    int
	MaxLength    int // 0 means no max
	ExactLengths map[int]bool
}

// NewLengthFilter creates a filter for a length range.
func NewLengthFilter(minLength, maxLength int) *LengthFilter {
	return &LengthFilter{
		MinLength:    minLength,
		MaxLength:    maxLength,
		ExactLengths: make(map[int]bool),
	}
}

// NewExactLengthFilter creates a filter that hides specific lengths —
// the classic "hide the 1234-byte error page" fuzzing filter.
func NewExactLengthFilter(lengths ...int) *LengthFilter {
	exact := make(map[int]bool)
	for _, l := range lengths {
		exact[l] = true
	}
	return &LengthFilter{ExactLengths: exact}
}

func (f *LengthFilter) Name() string { return "length" }

func (f *LengthFilter) Apply(input *FilterInput) *FilterResult {
	length := input.ContentLength

	if f.ExactLengths[length] {
		return FilteredBy(f.Name(), "exact length match")
	}

	if f.MinLength > 0 && length < f.MinLength {
		return FilteredBy(f.Name(), "length below minimum")
	}

	if f.MaxLength > 0 && length > f.MaxLength {
		return FilteredBy(f.Name(), "length above maximum")
	}

	return NotFiltered()
}

// RegexFilter filters responses whose body matches (or fails to match) a
// pattern.
type RegexFilter struct {
	Pattern     *regexp.Regexp
	PatternName string
	HideMatch   bool // true = hide matches, false = hide non-matches
}

// NewRegexFilter creates a filter that hides responses matching the pattern
func NewRegexFilter(pattern string, name string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{Pattern: re, PatternName: name, HideMatch: true}, nil
}

// NewRegexShowFilter creates a filter that only shows responses matching the pattern
func NewRegexShowFilter(pattern string, name string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{Pattern: re, PatternName: name, HideMatch: false}, nil
}

func (f *RegexFilter) Name() string { return "regex:" + f.PatternName }

func (f *RegexFilter) Apply(input *FilterInput) *FilterResult {
	matches := f.Pattern.MatchString(input.BodyString())

	if f.HideMatch && matches {
		return FilteredBy(f.Name(), "pattern matched")
	}
	if !f.HideMatch && !matches {
		return FilteredBy(f.Name(), "pattern not matched")
	}

	return NotFiltered()
}

// FilterMode determines how multiple filters are combined
type FilterMode int

const (
	// FilterModeAny filters if ANY filter triggers (OR logic)
	FilterModeAny FilterMode = iota

	// FilterModeAll filters only if ALL filters trigger (AND logic)
	FilterModeAll
)

// FilterChain combines multiple filters
type FilterChain struct {
	filters []Filter
	mode    FilterMode
}

// NewFilterChain creates a new filter chain
func NewFilterChain(mode FilterMode, filters ...Filter) *FilterChain {
	return &FilterChain{filters: filters, mode: mode}
}

// Add adds a filter to the chain
func (fc *FilterChain) Add(f Filter) {
	fc.filters = append(fc.filters, f)
}

// Apply applies all filters in the chain
func (fc *FilterChain) Apply(input *FilterInput) *FilterResult {
	if len(fc.filters) == 0 {
		return NotFiltered()
	}

	filteredCount := 0
	for _, f := range fc.filters {
		result := f.Apply(input)
		if result.Filtered {
			filteredCount++
			if fc.mode == FilterModeAny {
				return result
			}
		} else if fc.mode == FilterModeAll {
			return NotFiltered()
		}
	}

	if fc.mode == FilterModeAll && filteredCount == len(fc.filters) {
		return FilteredBy("chain", "all filters triggered")
	}

	return NotFiltered()
}

// Filters returns the list of filters in the chain
func (fc *FilterChain) Filters() []Filter {
	return fc.filters
}

// DefaultErrorFilter hides common error responses.
func DefaultErrorFilter() *StatusCodeFilter {
	return NewStatusCodeFilter(404, 502, 503, 504)
}

// InterestingStatusFilter shows only potentially interesting status codes.
func InterestingStatusFilter() *StatusCodeFilter {
	return NewStatusCodeShowFilter(200, 201, 301, 302, 400, 401, 403, 405, 500)
}
