package diffobserver

import (
	"errors"

	"github.com/glaslos/tlsh"
)

// TLSHHash wraps a computed TLSH digest.
type TLSHHash struct {
	hash *tlsh.TLSH
	raw  string
}

// TLSHConfig holds configuration for TLSH analysis
type TLSHConfig struct {
	// MinDataSize is the minimum content size for a meaningful hash;
	// TLSH needs at least 50 bytes.
	MinDataSize int

	// SimilarityThreshold is the maximum distance for content to count as
	// similar (typical: 30-100).
	SimilarityThreshold int

	// HighSimilarityThreshold for very similar content (typical: 10-30).
	HighSimilarityThreshold int
}

// DefaultTLSHConfig returns sensible default configuration
func DefaultTLSHConfig() *TLSHConfig {
	return &TLSHConfig{
		MinDataSize:             50,
		SimilarityThreshold:     100,
		HighSimilarityThreshold: 30,
	}
}

// TLSHAnalyzer provides TLSH-based similarity analysis
type TLSHAnalyzer struct {
	config   *TLSHConfig
	baseline *TLSHHash
}

// NewTLSHAnalyzer creates a new TLSH analyzer
func NewTLSHAnalyzer(config *TLSHConfig) *TLSHAnalyzer {
	if config == nil {
		config = DefaultTLSHConfig()
	}
	return &TLSHAnalyzer{config: config}
}

// ComputeHash computes the TLSH hash for the given content
func (a *TLSHAnalyzer) ComputeHash(content []byte) (*TLSHHash, error) {
	if len(content) < a.config.MinDataSize {
		return nil, errors.New("content too small for TLSH computation")
	}

	hash, err := tlsh.HashBytes(content)
	if err != nil {
		return nil, err
	}

	return &TLSHHash{hash: hash, raw: hash.String()}, nil
}

// SetBaseline sets the baseline hash for comparison
func (a *TLSHAnalyzer) SetBaseline(hash *TLSHHash) {
	a.baseline = hash
}

// SetBaselineFromContent computes and sets baseline from content
func (a *TLSHAnalyzer) SetBaselineFromContent(content []byte) error {
	hash, err := a.ComputeHash(content)
	if err != nil {
		return err
	}
	a.baseline = hash
	return nil
}

// HasBaseline returns true if a baseline has been set
func (a *TLSHAnalyzer) HasBaseline() bool {
	return a.baseline != nil
}

// TLSHResult represents the result of TLSH comparison
type TLSHResult struct {
	Distance        int
	Similarity      float64
	IsSimilar       bool
	IsHighlySimilar bool
	BaselineHash    string
	CurrentHash     string
}

// Compare compares the given content against the baseline
func (a *TLSHAnalyzer) Compare(content []byte) (*TLSHResult, error) {
	if a.baseline == nil {
		return nil, errors.New("baseline not set")
	}

	currentHash, err := a.ComputeHash(content)
	if err != nil {
		return nil, err
	}

	return a.CompareHashes(a.baseline, currentHash), nil
}

// CompareHashes compares two TLSH hashes directly
func (a *TLSHAnalyzer) CompareHashes(hash1, hash2 *TLSHHash) *TLSHResult {
	distance := hash1.hash.Diff(hash2.hash)

	return &TLSHResult{
		Distance:        distance,
		Similarity:      tlshSimilarity(distance),
		IsSimilar:       distance <= a.config.SimilarityThreshold,
		IsHighlySimilar: distance <= a.config.HighSimilarityThreshold,
		BaselineHash:    hash1.raw,
		CurrentHash:     hash2.raw,
	}
}

// String returns the hash string representation
func (h *TLSHHash) String() string {
	if h == nil || h.hash == nil {
		return ""
	}
	return h.raw
}

// Distance calculates distance between two TLSHHash values; -1 when
// either side is missing.
func (h *TLSHHash) Distance(other *TLSHHash) int {
	if h == nil || other == nil || h.hash == nil || other.hash == nil {
		return -1
	}
	return h.hash.Diff(other.hash)
}

// Similarity returns similarity percentage between two hashes
func (h *TLSHHash) Similarity(other *TLSHHash) float64 {
	distance := h.Distance(other)
	if distance < 0 {
		return 0
	}
	return tlshSimilarity(distance)
}

// tlshSimilarity maps a TLSH distance (0 to ~300+) onto a 0-100
// percentage, clamped at zero.
func tlshSimilarity(distance int) float64 {
	const maxDistance = 300.0
	similarity := (1.0 - float64(distance)/maxDistance) * 100.0
	if similarity < 0 {
		return 0
	}
	return similarity
}
