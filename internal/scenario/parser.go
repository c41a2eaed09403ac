package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Parser handles parsing of scenario YAML files
type Parser struct {
	strictMode bool
}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

// NewStrictParser creates a parser that fails on unknown fields
func NewStrictParser() *Parser {
	return &Parser{strictMode: true}
}

// ParseFile reads and parses a scenario from a YAML file
func (p *Parser) ParseFile(path string) (*Scenario, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return p.Parse(data)
}

// Parse parses a scenario from YAML bytes
func (p *Parser) Parse(data []byte) (*Scenario, error) {
	var scenario Scenario

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if p.strictMode {
		decoder.KnownFields(true)
	}

	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	p.applyDefaults(&scenario)

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &scenario, nil
}

// applyDefaults sets default values for optional fields
func (p *Parser) applyDefaults(s *Scenario) {
	if s.Version == "" {
		s.Version = "1.0"
	}

	if s.Variables == nil {
		s.Variables = make(map[string]string)
	}

	for i := range s.Steps {
		step := &s.Steps[i]

		if step.Request.Method == "" {
			step.Request.Method = "GET"
		}
		step.Request.Method = strings.ToUpper(step.Request.Method)

		if step.Request.Timeout == 0 {
			step.Request.Timeout = 30 * time.Second
		}

		if step.Request.Headers == nil {
			step.Request.Headers = make(map[string]string)
		}

		if step.Request.Body != "" {
			if step.Request.ContentType == "" && step.Request.Headers["Content-Type"] == "" {
				step.Request.ContentType = p.inferContentType(step.Request.Body)
			}
		}

		if step.Retry != nil && step.Retry.Count == 0 {
			step.Retry.Count = 3
		}
		if step.Retry != nil && step.Retry.Delay == 0 {
			step.Retry.Delay = 1 * time.Second
		}
	}
}

// inferContentType tries to determine content type from body
func (p *Parser) inferContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "application/json"
	}
	if strings.HasPrefix(trimmed, "<?xml") || strings.HasPrefix(trimmed, "<") {
		return "application/xml"
	}
	if strings.Contains(trimmed, "=") && !strings.Contains(trimmed, " ") {
		return "application/x-www-form-urlencoded"
	}
	return "text/plain"
}

// ParseMultiple parses every scenario file in a directory.
func (p *Parser) ParseMultiple(dir string) ([]*Scenario, error) {
	var scenarios []*Scenario

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		scenario, err := p.ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		scenarios = append(scenarios, scenario)
	}

	return scenarios, nil
}

// ValidateOnly parses and validates without returning the scenario
func (p *Parser) ValidateOnly(data []byte) error {
	_, err := p.Parse(data)
	return err
}
