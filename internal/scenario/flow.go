package scenario

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPClient issues one request per step; internal/httpexec.Client is
// adapted to this shape by the embedder.
type HTTPClient interface {
	Do(req *Request) (*Response, error)
}

// Request represents an HTTP request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// TemplateSubstitutor resolves {{var}} templates; internal/session's
// StateManager satisfies it.
type TemplateSubstitutor interface {
	Substitute(input string) string
	SetVariable(name, value string)
}

// Executor runs a scenario step by step, threading extracted values into
// later steps through the substitutor.
type Executor struct {
	client      HTTPClient
	substitutor TemplateSubstitutor

	maxSteps int
	timeout  time.Duration
	onStep   func(result *StepResult)
}

// ExecutorOption configures the Executor
type ExecutorOption func(*Executor)

// WithMaxSteps sets the maximum number of steps to execute (loop protection)
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxSteps = n
	}
}

// WithTimeout sets the overall execution timeout
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithStepCallback sets a callback for each step completion
func WithStepCallback(fn func(*StepResult)) ExecutorOption {
	return func(e *Executor) {
		e.onStep = fn
	}
}

// NewExecutor creates a new scenario executor
func NewExecutor(client HTTPClient, substitutor TemplateSubstitutor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:      client,
		substitutor: substitutor,
		maxSteps:    100,
		timeout:     5 * time.Minute,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs the scenario and returns the result
func (e *Executor) Execute(scenario *Scenario) (*ExecutionResult, error) {
	return e.ExecuteWithContext(context.Background(), scenario)
}

// ExecuteWithContext runs the scenario with context
func (e *Executor) ExecuteWithContext(ctx context.Context, scenario *Scenario) (*ExecutionResult, error) {
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if e.substitutor != nil {
		for name, value := range scenario.Variables {
			e.substitutor.SetVariable(name, value)
		}
	}

	result := &ExecutionResult{
		ScenarioName: scenario.Name,
		StartTime:    time.Now(),
		StepResults:  make([]StepResult, 0, len(scenario.Steps)),
		Variables:    make(map[string]string),
	}

	for k, v := range scenario.Variables {
		result.Variables[k] = v
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stepCount := 0
	currentStepIdx := 0

	for currentStepIdx < len(scenario.Steps) && stepCount < e.maxSteps {
		select {
		case <-execCtx.Done():
			result.Success = false
			result.Error = "execution timeout"
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(result.StartTime)
			return result, nil
		default:
		}

		step := &scenario.Steps[currentStepIdx]
		stepCount++

		if step.Condition != "" && !e.evaluateCondition(step.Condition) {
			currentStepIdx++
			continue
		}

		if step.Delay > 0 {
			select {
			case <-execCtx.Done():
				result.Success = false
				result.Error = "execution timeout during delay"
			case <-time.After(step.Delay):
			}
		}

		stepResult := e.executeStepWithRetry(execCtx, step)
		result.StepResults = append(result.StepResults, *stepResult)

		if e.onStep != nil {
			e.onStep(stepResult)
		}

		for name, value := range stepResult.Extractions {
			result.Variables[name] = value
		}

		if stepResult.Success {
			if step.OnSuccess != "" {
				if _, nextIdx := scenario.GetStepByName(step.OnSuccess); nextIdx >= 0 {
					currentStepIdx = nextIdx
					continue
				}
			}
		} else {
			if step.OnFailure != "" {
				if _, nextIdx := scenario.GetStepByName(step.OnFailure); nextIdx >= 0 {
					currentStepIdx = nextIdx
					continue
				}
			}
			// No on_failure handler: stop the scenario here.
			result.Success = false
			result.Error = fmt.Sprintf("step '%s' failed: %s", step.Name, stepResult.Error)
			break
		}

		currentStepIdx++
	}

	if stepCount >= e.maxSteps {
		result.Error = "max steps exceeded (possible infinite loop)"
		result.Success = false
	} else if result.Error == "" {
		result.Success = true
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	return result, nil
}

// executeStepWithRetry executes a step with retry logic
func (e *Executor) executeStepWithRetry(ctx context.Context, step *Step) *StepResult {
	maxRetries := 0
	retryDelay := time.Second
	retryStatuses := map[int]bool{}

	if step.Retry != nil {
		maxRetries = step.Retry.Count
		if step.Retry.Delay > 0 {
			retryDelay = step.Retry.Delay
		}
		for _, status := range step.Retry.OnStatus {
			retryStatuses[status] = true
		}
	}

	var lastResult *StepResult

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastResult.Error = "retry cancelled: context done"
				return lastResult
			case <-time.After(retryDelay):
			}
		}

		lastResult = e.executeStep(ctx, step)
		lastResult.RetryCount = attempt

		if lastResult.Success {
			return lastResult
		}

		if len(retryStatuses) > 0 && !retryStatuses[lastResult.StatusCode] {
			return lastResult
		}
	}

	return lastResult
}

// executeStep executes a single step
func (e *Executor) executeStep(ctx context.Context, step *Step) *StepResult {
	result := &StepResult{
		StepName:    step.Name,
		Timestamp:   time.Now(),
		Extractions: make(map[string]string),
		Assertions:  make([]AssertionResult, 0, len(step.Assert)),
	}

	req := &Request{
		Method:  step.Request.Method,
		URL:     step.Request.URL,
		Headers: make(map[string]string),
		Timeout: step.Request.Timeout,
	}

	if e.substitutor != nil {
		req.URL = e.substitutor.Substitute(req.URL)
		if step.Request.Body != "" {
			req.Body = []byte(e.substitutor.Substitute(step.Request.Body))
		}
	} else if step.Request.Body != "" {
		req.Body = []byte(step.Request.Body)
	}

	for k, v := range step.Request.Headers {
		if e.substitutor != nil {
			req.Headers[k] = e.substitutor.Substitute(v)
		} else {
			req.Headers[k] = v
		}
	}

	if step.Request.ContentType != "" {
		req.Headers["Content-Type"] = step.Request.ContentType
	}

	if e.client == nil {
		result.Error = "HTTP client not configured"
		return result
	}

	resp, err := e.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		return result
	}

	result.StatusCode = resp.StatusCode
	result.ResponseTime = resp.Duration
	result.BodyLength = len(resp.Body)

	for _, extract := range step.Extract {
		value, found := e.extractValue(resp, &extract)
		if found {
			result.Extractions[extract.Name] = value
			if e.substitutor != nil {
				e.substitutor.SetVariable(extract.Name, value)
			}
		} else if extract.Default != "" {
			result.Extractions[extract.Name] = extract.Default
			if e.substitutor != nil {
				e.substitutor.SetVariable(extract.Name, extract.Default)
			}
		} else if extract.Required {
			result.Error = fmt.Sprintf("required extraction '%s' not found", extract.Name)
			return result
		}
	}

	allPassed := true
	for _, assert := range step.Assert {
		assertResult := e.runAssertion(resp, &assert)
		result.Assertions = append(result.Assertions, assertResult)
		if !assertResult.Passed {
			allPassed = false
		}
	}

	result.Success = allPassed && result.Error == ""
	return result
}

// extractValue extracts a value from the response
func (e *Executor) extractValue(resp *Response, extract *ExtractionRule) (string, bool) {
	switch strings.ToLower(extract.Type) {
	case "regex":
		return extractRegex(resp.Body, extract.Pattern, extract.Group)
	case "jsonpath":
		result := gjson.GetBytes(resp.Body, extract.Pattern)
		if !result.Exists() {
			return "", false
		}
		return result.String(), true
	case "header":
		for k, v := range resp.Headers {
			if strings.EqualFold(k, extract.Pattern) {
				return v, true
			}
		}
		return "", false
	case "cookie":
		return extractCookie(resp.Headers, extract.Pattern)
	default:
		return "", false
	}
}

func extractRegex(body []byte, pattern string, group int) (string, bool) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false
	}

	matches := re.FindSubmatch(body)
	if len(matches) == 0 {
		return "", false
	}
	if group <= 0 && len(matches) > 1 {
		group = 1
	}
	if group < len(matches) {
		return string(matches[group]), true
	}
	return string(matches[0]), true
}

// extractCookie extracts a cookie value from a Set-Cookie header.
func extractCookie(headers map[string]string, name string) (string, bool) {
	setCookie := headers["Set-Cookie"]
	if setCookie == "" {
		setCookie = headers["set-cookie"]
	}
	if setCookie == "" {
		return "", false
	}

	for _, part := range strings.Split(setCookie, ";") {
		part = strings.TrimSpace(part)
		if idx := strings.Index(part, "="); idx > 0 {
			if part[:idx] == name {
				return part[idx+1:], true
			}
		}
	}
	return "", false
}

// runAssertion runs a single assertion
func (e *Executor) runAssertion(resp *Response, assert *Assertion) AssertionResult {
	result := AssertionResult{
		Type:     assert.Type,
		Expected: assert.Expected,
		Message:  assert.Message,
	}

	var passed bool

	switch assert.Type {
	case AssertStatus:
		result.Actual = strconv.Itoa(resp.StatusCode)
		if expected, err := strconv.Atoi(assert.Expected); err == nil {
			passed = resp.StatusCode == expected
		}

	case AssertContains:
		result.Actual = fmt.Sprintf("body length: %d", len(resp.Body))
		passed = strings.Contains(string(resp.Body), assert.Expected)

	case AssertNotContains:
		result.Actual = fmt.Sprintf("body length: %d", len(resp.Body))
		passed = !strings.Contains(string(resp.Body), assert.Expected)

	case AssertRegex:
		re, err := regexp.Compile(assert.Expected)
		if err != nil {
			result.Message = fmt.Sprintf("invalid regex: %v", err)
		} else {
			passed = re.Match(resp.Body)
			result.Actual = fmt.Sprintf("matches: %v", passed)
		}

	case AssertJSONPath:
		value := gjson.GetBytes(resp.Body, assert.Target)
		result.Actual = value.String()
		passed = value.String() == assert.Expected

	case AssertHeader:
		var value string
		for k, v := range resp.Headers {
			if strings.EqualFold(k, assert.Target) {
				value = v
				break
			}
		}
		result.Actual = value
		passed = value == assert.Expected

	case AssertLength:
		result.Actual = strconv.Itoa(len(resp.Body))
		switch {
		case strings.HasPrefix(assert.Expected, ">"):
			expected, _ := strconv.Atoi(strings.TrimPrefix(assert.Expected, ">"))
			passed = len(resp.Body) > expected
		case strings.HasPrefix(assert.Expected, "<"):
			expected, _ := strconv.Atoi(strings.TrimPrefix(assert.Expected, "<"))
			passed = len(resp.Body) < expected
		default:
			if expected, err := strconv.Atoi(assert.Expected); err == nil {
				passed = len(resp.Body) == expected
			}
		}

	case AssertTime:
		result.Actual = resp.Duration.String()
		if expected, err := time.ParseDuration(assert.Expected); err == nil {
			passed = resp.Duration <= expected
		}

	default:
		result.Message = fmt.Sprintf("unknown assertion type: %s", assert.Type)
	}

	if assert.Negate {
		passed = !passed
	}

	result.Passed = passed
	if !passed && result.Message == "" {
		result.Message = fmt.Sprintf("expected %s to be %s, got %s", assert.Type, assert.Expected, result.Actual)
	}

	return result
}

// evaluateCondition evaluates a condition string. Supports exists:var,
// !exists:var, var==value, var!=value, and bare variable truthiness.
func (e *Executor) evaluateCondition(condition string) bool {
	if e.substitutor == nil {
		return true
	}

	condition = strings.TrimSpace(condition)

	negate := false
	if strings.HasPrefix(condition, "!") {
		negate = true
		condition = strings.TrimPrefix(condition, "!")
	}

	resolved := func(varName string) bool {
		substituted := e.substitutor.Substitute("{{" + varName + "}}")
		return substituted != "{{"+varName+"}}"
	}

	var result bool
	switch {
	case strings.HasPrefix(condition, "exists:"):
		result = resolved(strings.TrimPrefix(condition, "exists:"))
	case strings.Contains(condition, "=="):
		parts := strings.SplitN(condition, "==", 2)
		left := e.substitutor.Substitute("{{" + strings.TrimSpace(parts[0]) + "}}")
		result = left == strings.TrimSpace(parts[1])
	case strings.Contains(condition, "!="):
		parts := strings.SplitN(condition, "!=", 2)
		left := e.substitutor.Substitute("{{" + strings.TrimSpace(parts[0]) + "}}")
		result = left != strings.TrimSpace(parts[1])
	default:
		result = resolved(condition)
	}

	if negate {
		return !result
	}
	return result
}
