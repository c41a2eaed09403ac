// Package dictionary provides OWASP Top 10 vulnerability detection: a
// payload dictionary with per-category checkers, a response-pattern
// analyzer, and the adapters that wire both into the fuzzing core
// (Feedback in feedback.go, InsertMutator in mutator.go).
package dictionary

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// VulnerabilityType represents OWASP Top 10 vulnerability types
type VulnerabilityType string

const (
	// A01:2021 - Broken Access Control
	BrokenAccessControl VulnerabilityType = "A01_BROKEN_ACCESS_CONTROL"
	IDOR                VulnerabilityType = "A01_IDOR"
	PrivilegeEscalation VulnerabilityType = "A01_PRIVILEGE_ESCALATION"

	// A02:2021 - Cryptographic Failures
	CryptographicFailures VulnerabilityType = "A02_CRYPTOGRAPHIC_FAILURES"
	SensitiveDataExposure VulnerabilityType = "A02_SENSITIVE_DATA_EXPOSURE"

	// A03:2021 - Injection
	SQLInjection   VulnerabilityType = "A03_SQL_INJECTION"
	NoSQLInjection VulnerabilityType = "A03_NOSQL_INJECTION"
	LDAPInjection  VulnerabilityType = "A03_LDAP_INJECTION"
	OSCommand      VulnerabilityType = "A03_OS_COMMAND"
	XSS            VulnerabilityType = "A03_XSS"

	// A05:2021 - Security Misconfiguration
	SecurityMisconfig VulnerabilityType = "A05_SECURITY_MISCONFIG"
	VerboseErrors     VulnerabilityType = "A05_VERBOSE_ERRORS"
	XXE               VulnerabilityType = "A05_XXE"

	// A07:2021 - Authentication Failures
	AuthenticationFailures VulnerabilityType = "A07_AUTH_FAILURES"

	// A08:2021 - Data Integrity Failures
	InsecureDeserialization VulnerabilityType = "A08_INSECURE_DESERIALIZATION"

	// A10:2021 - SSRF
	SSRF VulnerabilityType = "A10_SSRF"
)

// Severity levels
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
	Info     Severity = "info"
)

// Finding represents a detected vulnerability
type Finding struct {
	Type        VulnerabilityType `json:"type"`
	Severity    Severity          `json:"severity"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Parameter   string            `json:"parameter"`
	Payload     string            `json:"payload"`
	Evidence    string            `json:"evidence"`
	Description string            `json:"description"`
	Remediation string            `json:"remediation"`
	CWE         string            `json:"cwe"`
	CVSS        float64           `json:"cvss"`
	Confidence  float64           `json:"confidence"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Target represents a scan target
type Target struct {
	URL        string
	Method     string
	Headers    map[string]string
	Parameters map[string]string
	Body       []byte
	Cookies    map[string]string
}

// VulnerabilityChecker interface for vulnerability checks
type VulnerabilityChecker interface {
	Check(ctx context.Context, target *Target) ([]*Finding, error)
	Type() VulnerabilityType
	Name() string
}

// DetectorConfig holds detector configuration
type DetectorConfig struct {
	EnabledChecks  []VulnerabilityType // nil enables every registered checker
	MaxConcurrency int
	Timeout        time.Duration
	UserAgent      string
}

// DefaultDetectorConfig returns default configuration
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		EnabledChecks:  nil,
		MaxConcurrency: 10,
		Timeout:        30 * time.Second,
		UserAgent:      "FluxFuzzer/1.0",
	}
}

// DetectorStats holds detection statistics
type DetectorStats struct {
	TotalChecks int64                       `json:"total_checks"`
	Findings    int64                       `json:"findings"`
	BySeverity  map[Severity]int64          `json:"by_severity"`
	ByType      map[VulnerabilityType]int64 `json:"by_type"`
	Duration    time.Duration               `json:"duration"`
}

// Detector runs every enabled checker against a target and accumulates
// findings across scans.
type Detector struct {
	checkers []VulnerabilityChecker
	findings []*Finding
	config   *DetectorConfig
	stats    *DetectorStats
	mu       sync.RWMutex
}

// NewDetector creates a detector with the default checker set registered.
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}

	d := &Detector{
		config: config,
		stats: &DetectorStats{
			BySeverity: make(map[Severity]int64),
			ByType:     make(map[VulnerabilityType]int64),
		},
	}

	d.RegisterChecker(NewSQLInjectionChecker())
	d.RegisterChecker(NewXSSChecker())
	d.RegisterChecker(NewSSRFChecker())
	d.RegisterChecker(NewIDORChecker())
	d.RegisterChecker(NewXXEChecker())
	d.RegisterChecker(NewCommandInjectionChecker())
	d.RegisterChecker(NewAuthChecker())
	d.RegisterChecker(NewMisconfigChecker())
	d.RegisterChecker(NewCryptoChecker())
	d.RegisterChecker(NewDeserializationChecker())

	return d
}

// RegisterChecker registers a vulnerability checker
func (d *Detector) RegisterChecker(checker VulnerabilityChecker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkers = append(d.checkers, checker)
}

// Scan runs every enabled checker against target concurrently (bounded by
// MaxConcurrency) and returns the combined findings.
func (d *Detector) Scan(ctx context.Context, target *Target) ([]*Finding, error) {
	startTime := time.Now()
	var allFindings []*Finding
	var wg sync.WaitGroup
	findingsChan := make(chan []*Finding, len(d.checkers))
	sem := make(chan struct{}, d.config.MaxConcurrency)

	for _, checker := range d.checkers {
		if !d.isCheckerEnabled(checker.Type()) {
			continue
		}

		wg.Add(1)
		go func(c VulnerabilityChecker) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			findings, err := c.Check(ctx, target)
			if err == nil && len(findings) > 0 {
				findingsChan <- findings
			}
		}(checker)
	}

	go func() {
		wg.Wait()
		close(findingsChan)
	}()

	for findings := range findingsChan {
		allFindings = append(allFindings, findings...)
	}

	d.mu.Lock()
	d.stats.TotalChecks++
	d.stats.Duration = time.Since(startTime)
	d.recordLocked(allFindings)
	d.mu.Unlock()

	return allFindings, nil
}

// AddFindings records findings discovered outside Scan (e.g. by Feedback's
// response analysis during a fuzzing campaign) so GetFindings/GetStats
// reflect the whole run regardless of which path produced them.
func (d *Detector) AddFindings(findings []*Finding) {
	if len(findings) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordLocked(findings)
}

func (d *Detector) recordLocked(findings []*Finding) {
	d.findings = append(d.findings, findings...)
	for _, f := range findings {
		d.stats.Findings++
		d.stats.BySeverity[f.Severity]++
		d.stats.ByType[f.Type]++
	}
}

func (d *Detector) isCheckerEnabled(t VulnerabilityType) bool {
	if len(d.config.EnabledChecks) == 0 {
		return true
	}
	for _, enabled := range d.config.EnabledChecks {
		if enabled == t {
			return true
		}
	}
	return false
}

// GetFindings returns all findings recorded so far.
func (d *Detector) GetFindings() []*Finding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	findings := make([]*Finding, len(d.findings))
	copy(findings, d.findings)
	return findings
}

// GetStats returns a copy of the detection statistics.
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DetectorStats{
		TotalChecks: d.stats.TotalChecks,
		Findings:    d.stats.Findings,
		Duration:    d.stats.Duration,
		BySeverity:  make(map[Severity]int64),
		ByType:      make(map[VulnerabilityType]int64),
	}
	for k, v := range d.stats.BySeverity {
		stats.BySeverity[k] = v
	}
	for k, v := range d.stats.ByType {
		stats.ByType[k] = v
	}
	return stats
}

// ClearFindings clears all findings
func (d *Detector) ClearFindings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findings = nil
}

// GetCheckerCount returns the number of registered checkers
func (d *Detector) GetCheckerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.checkers)
}

type contextKey string

const rateLimiterKey contextKey = "rateLimiter"

// WithRateLimiter returns a new context carrying the given rate limiter;
// checkers that issue requests call WaitRateLimit before each one.
func WithRateLimiter(ctx context.Context, limiter *rate.Limiter) context.Context {
	return context.WithValue(ctx, rateLimiterKey, limiter)
}

// WaitRateLimit waits on the context's rate limiter, if any.
func WaitRateLimit(ctx context.Context) error {
	if limiter, ok := ctx.Value(rateLimiterKey).(*rate.Limiter); ok {
		return limiter.Wait(ctx)
	}
	return nil
}
