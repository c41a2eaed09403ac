package session

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractorType defines the type of extraction method
type ExtractorType int

const (
	ExtractorRegex ExtractorType = iota
	ExtractorJSONPath
	ExtractorHeader
	ExtractorCookie
	ExtractorCustom
)

func (t ExtractorType) String() string {
	switch t {
	case ExtractorRegex:
		return "regex"
	case ExtractorJSONPath:
		return "jsonpath"
	case ExtractorHeader:
		return "header"
	case ExtractorCookie:
		return "cookie"
	case ExtractorCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ExtractionRule defines a single extraction rule
type ExtractionRule struct {
	// Name is the identifier for the extracted value
	Name string `json:"name" yaml:"name"`

	// Type is the extraction method type
	Type ExtractorType `json:"type" yaml:"type"`

	// Pattern is the extraction pattern (regex, jsonpath, header name, ...)
	Pattern string `json:"pattern" yaml:"pattern"`

	// Group is the regex capture group index (for regex type)
	Group int `json:"group,omitempty" yaml:"group,omitempty"`

	// Required indicates if extraction failure should be an error
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default is the fallback value if extraction fails
	Default string `json:"default,omitempty" yaml:"default,omitempty"`

	// Transform is an optional transformation function name
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`

	compiledRegex *regexp.Regexp
}

// ExtractionResult contains the result of an extraction attempt
type ExtractionResult struct {
	Name   string
	Value  string
	Found  bool
	Error  error
	Source string
}

// TransformFunc is a function that transforms extracted values
type TransformFunc func(string) string

// Extractor pulls values out of HTTP responses by rule.
type Extractor struct {
	rules      []*ExtractionRule
	transforms map[string]TransformFunc
}

// NewExtractor creates a new Extractor
func NewExtractor() *Extractor {
	e := &Extractor{
		transforms: make(map[string]TransformFunc),
	}

	e.RegisterTransform("trim", strings.TrimSpace)
	e.RegisterTransform("lower", strings.ToLower)
	e.RegisterTransform("upper", strings.ToUpper)
	e.RegisterTransform("htmlunescape", htmlUnescape)

	return e
}

// AddRule adds an extraction rule
func (e *Extractor) AddRule(rule *ExtractionRule) error {
	if rule.Type == ExtractorRegex && rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return err
		}
		rule.compiledRegex = re
	}

	e.rules = append(e.rules, rule)
	return nil
}

// AddRules adds multiple extraction rules
func (e *Extractor) AddRules(rules []*ExtractionRule) error {
	for _, rule := range rules {
		if err := e.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// RegisterTransform registers a custom transform function
func (e *Extractor) RegisterTransform(name string, fn TransformFunc) {
	e.transforms[name] = fn
}

// ExtractionInput contains the data to extract from
type ExtractionInput struct {
	Body        []byte
	Headers     map[string]string
	Cookies     map[string]string
	StatusCode  int
	ContentType string
}

// Extract extracts values from the input using all configured rules
func (e *Extractor) Extract(input *ExtractionInput) []ExtractionResult {
	results := make([]ExtractionResult, 0, len(e.rules))
	for _, rule := range e.rules {
		results = append(results, e.extractSingle(input, rule))
	}
	return results
}

// ExtractToMap extracts values and returns them as a map
func (e *Extractor) ExtractToMap(input *ExtractionInput) (map[string]string, error) {
	results := e.Extract(input)
	values := make(map[string]string)
	var errs []string

	for _, result := range results {
		if result.Found {
			values[result.Name] = result.Value
		} else if result.Error != nil {
			errs = append(errs, result.Name+": "+result.Error.Error())
		}
	}

	if len(errs) > 0 {
		return values, errors.New("extraction errors: " + strings.Join(errs, "; "))
	}

	return values, nil
}

func (e *Extractor) extractSingle(input *ExtractionInput, rule *ExtractionRule) ExtractionResult {
	result := ExtractionResult{Name: rule.Name}

	var value string
	var found bool

	switch rule.Type {
	case ExtractorRegex:
		value, found = e.extractRegex(input.Body, rule)
		result.Source = "body"

	case ExtractorJSONPath:
		value, found = e.extractJSONPath(input.Body, rule.Pattern)
		result.Source = "body"

	case ExtractorHeader:
		value, found = extractHeader(input.Headers, rule.Pattern)
		result.Source = "header"

	case ExtractorCookie:
		value, found = input.Cookies[rule.Pattern], input.Cookies[rule.Pattern] != ""
		result.Source = "cookie"

	case ExtractorCustom:
		value, found = e.extractCustom(input, rule)
		result.Source = "custom"

	default:
		result.Error = errors.New("unknown extractor type")
		return result
	}

	if found {
		result.Found = true
		result.Value = e.applyTransform(value, rule.Transform)
	} else if rule.Default != "" {
		result.Found = true
		result.Value = rule.Default
	} else if rule.Required {
		result.Error = errors.New("required value not found")
	}

	return result
}

func (e *Extractor) extractRegex(body []byte, rule *ExtractionRule) (string, bool) {
	if rule.compiledRegex == nil {
		return "", false
	}

	matches := rule.compiledRegex.FindSubmatch(body)
	if matches == nil {
		return "", false
	}

	group := rule.Group
	if group >= len(matches) {
		group = 0
	}
	if group == 0 && len(matches) > 1 {
		group = 1
	}

	return string(matches[group]), true
}

func (e *Extractor) extractJSONPath(body []byte, path string) (string, bool) {
	if !json.Valid(body) {
		return "", false
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}

func extractHeader(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

func (e *Extractor) extractCustom(input *ExtractionInput, rule *ExtractionRule) (string, bool) {
	switch rule.Pattern {
	case "status_code":
		return strconv.Itoa(input.StatusCode), true
	case "content_type":
		return input.ContentType, input.ContentType != ""
	case "body_length":
		return strconv.Itoa(len(input.Body)), true
	default:
		// Fall back to treating the pattern as a regex over the body.
		if re, err := regexp.Compile(rule.Pattern); err == nil {
			if m := re.FindSubmatch(input.Body); m != nil {
				if len(m) > 1 {
					return string(m[1]), true
				}
				return string(m[0]), true
			}
		}
		return "", false
	}
}

func (e *Extractor) applyTransform(value, transformName string) string {
	if transformName == "" {
		return value
	}
	if fn, exists := e.transforms[transformName]; exists {
		return fn(value)
	}
	return value
}

func htmlUnescape(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&apos;", "'",
	)
	return replacer.Replace(s)
}

// CSRFTokenRule creates a rule for extracting CSRF tokens
func CSRFTokenRule() *ExtractionRule {
	return &ExtractionRule{
		Name:    "csrf_token",
		Type:    ExtractorRegex,
		Pattern: `(?:csrf[_-]?token|_token|authenticity_token)["\s]*[=:]\s*["']?([^"'\s<>]+)["']?`,
		Group:   1,
	}
}

// SessionIDRule creates a rule for extracting session IDs
func SessionIDRule() *ExtractionRule {
	return &ExtractionRule{
		Name:    "session_id",
		Type:    ExtractorCookie,
		Pattern: "PHPSESSID",
	}
}

// BearerTokenRule creates a rule for extracting bearer tokens from JSON
func BearerTokenRule() *ExtractionRule {
	return &ExtractionRule{
		Name:    "access_token",
		Type:    ExtractorJSONPath,
		Pattern: "access_token",
	}
}

// RedirectLocationRule creates a rule for extracting redirect location
func RedirectLocationRule() *ExtractionRule {
	return &ExtractionRule{
		Name:    "redirect_location",
		Type:    ExtractorHeader,
		Pattern: "Location",
	}
}
