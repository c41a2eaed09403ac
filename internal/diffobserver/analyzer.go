// Package diffobserver implements structural differential analysis over a
// target's responses: a baseline learned from the first N responses,
// compared against each candidate via SimHash (structure), TLSH (content),
// and response-shape statistics. Feedback (feedback.go) wires the
// composite anomaly score into the fuzzing core as a state.Feedback.
package diffobserver

import (
	"sync"
	"time"
)

// ResponseClassification categorizes the response type
type ResponseClassification int

const (
	ClassificationNormal ResponseClassification = iota
	ClassificationAnomaly
	ClassificationInteresting
	ClassificationError
	ClassificationFiltered
)

func (c ResponseClassification) String() string {
	switch c {
	case ClassificationNormal:
		return "normal"
	case ClassificationAnomaly:
		return "anomaly"
	case ClassificationInteresting:
		return "interesting"
	case ClassificationError:
		return "error"
	case ClassificationFiltered:
		return "filtered"
	default:
		return "unknown"
	}
}

// AnalysisInput contains all data needed for analysis
type AnalysisInput struct {
	URL     string
	Payload string
	Method  string

	StatusCode    int
	Body          []byte
	Headers       map[string]string
	ResponseTime  time.Duration
	ContentLength int
	WordCount     int
}

// AnalysisResult is the outcome of analyzing one response.
type AnalysisResult struct {
	Timestamp    time.Time
	AnalysisTime time.Duration

	Input *AnalysisInput

	Filtered     bool
	FilterResult *FilterResult

	BaselineAnomaly *AnomalyResult

	SimHashDistance   int
	SimHashSimilarity float64
	TLSHDistance      int
	TLSHSimilarity    float64

	// AnomalyScore is 0-100; higher means further from baseline.
	AnomalyScore    float64
	IsInteresting   bool
	InterestReasons []string

	Classification ResponseClassification
}

// IsAnomaly returns true if the result is classified as an anomaly
func (r *AnalysisResult) IsAnomaly() bool {
	return r.Classification == ClassificationAnomaly
}

// Summary returns a one-line human-readable description.
func (r *AnalysisResult) Summary() string {
	if r.Filtered {
		return "filtered: " + r.FilterResult.Reason
	}
	summary := r.Classification.String()
	if len(r.InterestReasons) > 0 {
		summary += " - " + r.InterestReasons[0]
	}
	return summary
}

// AnalyzerConfig holds configuration for the Analyzer
type AnalyzerConfig struct {
	BaselineConfig *BaselineConfig
	TLSHConfig     *TLSHConfig

	SimHashNGramSize int

	// AnomalyScoreThreshold classifies anomalies; InterestingScoreThreshold
	// classifies "worth keeping" below that.
	AnomalyScoreThreshold     float64
	InterestingScoreThreshold float64

	// SimilarityThreshold: similarity (0-100) below this is notable.
	SimilarityThreshold float64

	// Weights for composite scoring.
	TimeWeight       float64
	LengthWeight     float64
	SimHashWeight    float64
	TLSHWeight       float64
	StatusCodeWeight float64

	EnableBaseline bool
	EnableSimHash  bool
	EnableTLSH     bool
}

// DefaultAnalyzerConfig returns sensible defaults
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		BaselineConfig: &BaselineConfig{
			MinSamples:                20,
			MaxSamples:                100,
			TimeThresholdMultiplier:   3.0,
			LengthThresholdMultiplier: 3.0,
			StdDevThreshold:           2.0,
		},
		TLSHConfig:                DefaultTLSHConfig(),
		SimHashNGramSize:          3,
		AnomalyScoreThreshold:     70.0,
		InterestingScoreThreshold: 40.0,
		SimilarityThreshold:       80.0,
		TimeWeight:                0.2,
		LengthWeight:              0.2,
		SimHashWeight:             0.3,
		TLSHWeight:                0.2,
		StatusCodeWeight:          0.1,
		EnableBaseline:            true,
		EnableSimHash:             true,
		EnableTLSH:                true,
	}
}

// AnalyzerStats tracks analysis statistics
type AnalyzerStats struct {
	TotalAnalyzed    int
	TotalFiltered    int
	TotalAnomalies   int
	TotalInteresting int
	AverageScore     float64
}

// Analyzer is the analysis engine combining baseline, SimHash, and TLSH
// comparison behind one Analyze call.
type Analyzer struct {
	config *AnalyzerConfig
	mu     sync.RWMutex

	baseline     *Baseline
	simhasher    *SimHasher
	tlshAnalyzer *TLSHAnalyzer
	filterChain  *FilterChain

	baselineSimHash SimHash
	baselineTLSH    *TLSHHash
	baselineBody    []byte

	stats AnalyzerStats
}

// NewAnalyzer creates a new Analyzer with the given configuration
func NewAnalyzer(config *AnalyzerConfig) *Analyzer {
	if config == nil {
		config = DefaultAnalyzerConfig()
	}

	a := &Analyzer{
		config:      config,
		filterChain: NewFilterChain(FilterModeAny),
	}

	if config.EnableBaseline {
		a.baseline = NewBaseline(config.BaselineConfig)
	}
	if config.EnableSimHash {
		a.simhasher = NewSimHasher(WithNGramSize(config.SimHashNGramSize))
	}
	if config.EnableTLSH {
		a.tlshAnalyzer = NewTLSHAnalyzer(config.TLSHConfig)
	}

	return a
}

// AddFilter adds a filter to the analyzer's filter chain
func (a *Analyzer) AddFilter(f Filter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filterChain.Add(f)
}

// LearnBaseline feeds one sample to the learning phase; returns true once
// the baseline is established. The first learned body also seeds the
// SimHash/TLSH reference hashes.
func (a *Analyzer) LearnBaseline(input *AnalysisInput) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.baseline == nil {
		return true
	}

	learned := a.baseline.AddSample(Sample{
		ResponseTime:   input.ResponseTime,
		ResponseLength: input.ContentLength,
		WordCount:      input.WordCount,
		StatusCode:     input.StatusCode,
	})

	if learned && a.baselineBody == nil && len(input.Body) > 0 {
		a.baselineBody = input.Body

		if a.simhasher != nil {
			a.baselineSimHash = a.simhasher.ComputeFromHTML(string(input.Body))
		}
		if a.tlshAnalyzer != nil {
			if hash, err := a.tlshAnalyzer.ComputeHash(input.Body); err == nil {
				a.baselineTLSH = hash
			}
		}
	}

	return learned
}

// IsLearned returns true once the baseline has been established.
func (a *Analyzer) IsLearned() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.baseline == nil {
		return true
	}
	return a.baseline.IsLearned()
}

// LearningProgress returns the baseline learning progress (0-100)
func (a *Analyzer) LearningProgress() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.baseline == nil {
		return 100.0
	}
	return a.baseline.Progress()
}

// Analyze scores one response against the learned baseline.
func (a *Analyzer) Analyze(input *AnalysisInput) *AnalysisResult {
	startTime := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	result := &AnalysisResult{
		Timestamp:       startTime,
		Input:           input,
		InterestReasons: make([]string, 0),
		Classification:  ClassificationNormal,
	}

	filterResult := a.filterChain.Apply(&FilterInput{
		StatusCode:    input.StatusCode,
		Body:          input.Body,
		ContentLength: input.ContentLength,
		Headers:       input.Headers,
	})
	result.FilterResult = filterResult

	if filterResult.Filtered {
		result.Filtered = true
		result.Classification = ClassificationFiltered
		a.stats.TotalFiltered++
		result.AnalysisTime = time.Since(startTime)
		return result
	}

	if a.baseline != nil && a.baseline.IsLearned() {
		anomaly := a.baseline.CheckAnomaly(Sample{
			ResponseTime:   input.ResponseTime,
			ResponseLength: input.ContentLength,
			WordCount:      input.WordCount,
			StatusCode:     input.StatusCode,
		})
		result.BaselineAnomaly = &anomaly

		if anomaly.IsAnomaly {
			result.InterestReasons = append(result.InterestReasons, anomaly.Reason)
		}
	}

	if a.simhasher != nil && a.baselineSimHash != 0 {
		currentHash := a.simhasher.ComputeFromHTML(string(input.Body))
		result.SimHashDistance = a.baselineSimHash.Distance(currentHash)
		result.SimHashSimilarity = a.baselineSimHash.Similarity(currentHash)

		if result.SimHashSimilarity < a.config.SimilarityThreshold {
			result.InterestReasons = append(result.InterestReasons,
				"structural change detected (SimHash)")
		}
	}

	if a.tlshAnalyzer != nil && a.baselineTLSH != nil && len(input.Body) >= a.config.TLSHConfig.MinDataSize {
		if currentHash, err := a.tlshAnalyzer.ComputeHash(input.Body); err == nil {
			result.TLSHDistance = a.baselineTLSH.Distance(currentHash)
			result.TLSHSimilarity = a.baselineTLSH.Similarity(currentHash)

			if result.TLSHSimilarity < a.config.SimilarityThreshold {
				result.InterestReasons = append(result.InterestReasons,
					"content change detected (TLSH)")
			}
		}
	}

	result.AnomalyScore = a.calculateAnomalyScore(result)
	result.Classification = a.classify(result)
	result.IsInteresting = result.Classification == ClassificationAnomaly ||
		result.Classification == ClassificationInteresting

	a.stats.TotalAnalyzed++
	if result.Classification == ClassificationAnomaly {
		a.stats.TotalAnomalies++
	}
	if result.IsInteresting {
		a.stats.TotalInteresting++
	}
	a.stats.AverageScore = (a.stats.AverageScore*float64(a.stats.TotalAnalyzed-1) +
		result.AnomalyScore) / float64(a.stats.TotalAnalyzed)

	result.AnalysisTime = time.Since(startTime)
	return result
}

func (a *Analyzer) calculateAnomalyScore(result *AnalysisResult) float64 {
	score := 0.0
	weights := 0.0

	if result.BaselineAnomaly != nil && result.BaselineAnomaly.TimeSkew > 0 {
		timeScore := clampScore((result.BaselineAnomaly.TimeSkew - 1.0) * 50.0)
		score += timeScore * a.config.TimeWeight
		weights += a.config.TimeWeight
	}

	if result.BaselineAnomaly != nil && result.BaselineAnomaly.LengthSkew > 0 {
		lengthScore := clampScore((result.BaselineAnomaly.LengthSkew - 1.0) * 50.0)
		score += lengthScore * a.config.LengthWeight
		weights += a.config.LengthWeight
	}

	if result.SimHashSimilarity > 0 || result.SimHashDistance > 0 {
		score += (100.0 - result.SimHashSimilarity) * a.config.SimHashWeight
		weights += a.config.SimHashWeight
	}

	if result.TLSHSimilarity > 0 || result.TLSHDistance > 0 {
		score += (100.0 - result.TLSHSimilarity) * a.config.TLSHWeight
		weights += a.config.TLSHWeight
	}

	if result.BaselineAnomaly != nil {
		for _, t := range result.BaselineAnomaly.Types {
			if t == AnomalyUnexpectedStatus {
				score += 100.0 * a.config.StatusCodeWeight
				weights += a.config.StatusCodeWeight
				break
			}
		}
	}

	if weights > 0 {
		return score / weights
	}
	return 0.0
}

func clampScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return s
}

func (a *Analyzer) classify(result *AnalysisResult) ResponseClassification {
	if result.Input.StatusCode >= 500 {
		return ClassificationError
	}
	if result.AnomalyScore >= a.config.AnomalyScoreThreshold {
		return ClassificationAnomaly
	}
	if result.AnomalyScore >= a.config.InterestingScoreThreshold {
		return ClassificationInteresting
	}
	if result.BaselineAnomaly != nil && result.BaselineAnomaly.IsAnomaly {
		return ClassificationAnomaly
	}
	return ClassificationNormal
}

// Stats returns the current analysis statistics
func (a *Analyzer) Stats() AnalyzerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// BaselineStats returns the learned baseline statistics, nil when the
// baseline component is disabled.
func (a *Analyzer) BaselineStats() *BaselineStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.baseline == nil {
		return nil
	}
	stats := a.baseline.Stats()
	return &stats
}

// Reset clears all learned data and statistics
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.baseline != nil {
		a.baseline.Reset()
	}

	a.baselineSimHash = 0
	a.baselineTLSH = nil
	a.baselineBody = nil
	a.stats = AnalyzerStats{}
}
