package diffobserver

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shafouz/libafl-go/internal/diskcorpus"
)

// SimHashBits is the fingerprint width.
const SimHashBits = 64

// SimHash is a locality-sensitive fingerprint of a response; close
// fingerprints mean structurally close content.
type SimHash uint64

// Distance is the Hamming distance between two fingerprints, 0 (identical)
// to SimHashBits (nothing shared).
func (h SimHash) Distance(other SimHash) int {
	return diskcorpus.HammingDistance(uint64(h), uint64(other))
}

// Similarity returns the similarity percentage (0-100).
func (h SimHash) Similarity(other SimHash) float64 {
	return (1.0 - float64(h.Distance(other))/float64(SimHashBits)) * 100.0
}

// IsSimilar reports whether the Hamming distance is within threshold.
func (h SimHash) IsSimilar(other SimHash, threshold int) bool {
	return h.Distance(other) <= threshold
}

// SimHasher tokenizes a response into features and fingerprints them via
// diskcorpus's SimHash core. Volatile tokens (timestamps, hashes, CSRF
// tokens) are stripped first so two renders of the same page fingerprint
// identically.
type SimHasher struct {
	nGramSize      int
	caseSensitive  bool
	stripHTML      bool
	ignoreNumbers  bool
	ignorePatterns []*regexp.Regexp

	core *diskcorpus.SimHash
}

// SimHasherOption is a functional option for SimHasher configuration
type SimHasherOption func(*SimHasher)

// WithNGramSize sets the n-gram size for tokenization
func WithNGramSize(n int) SimHasherOption {
	return func(s *SimHasher) {
		if n > 0 {
			s.nGramSize = n
		}
	}
}

// WithStripHTML enables HTML tag stripping
func WithStripHTML(enabled bool) SimHasherOption {
	return func(s *SimHasher) {
		s.stripHTML = enabled
	}
}

// WithIgnorePatterns adds regex patterns to strip before hashing.
func WithIgnorePatterns(patterns []string) SimHasherOption {
	return func(s *SimHasher) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				s.ignorePatterns = append(s.ignorePatterns, re)
			}
		}
	}
}

// NewSimHasher creates a new SimHasher with the given options
func NewSimHasher(opts ...SimHasherOption) *SimHasher {
	s := &SimHasher{
		nGramSize:     3,
		stripHTML:     true,
		ignoreNumbers: true,
		core:          diskcorpus.NewSimHash(SimHashBits),
	}

	// Volatile content that changes every render without meaning anything.
	defaultPatterns := []string{
		`\d{4}-\d{2}-\d{2}`,  // date
		`\d{2}:\d{2}:\d{2}`,  // time
		`[a-f0-9]{32}`,       // MD5
		`[a-f0-9]{40}`,       // SHA1
		`[a-f0-9]{64}`,       // SHA256
		`[A-Za-z0-9_-]{20,}`, // long tokens/IDs
		`csrf[_-]?token["\s:=]+["']?[^"'\s<>]+["']?`,
	}
	for _, p := range defaultPatterns {
		if re, err := regexp.Compile(p); err == nil {
			s.ignorePatterns = append(s.ignorePatterns, re)
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Compute fingerprints the normalized text content.
func (s *SimHasher) Compute(content string) SimHash {
	features := s.extractFeatures(s.preprocess(content))
	if len(features) == 0 {
		return 0
	}
	return SimHash(s.core.HashFeatures(features))
}

// ComputeFromHTML fingerprints the DOM structure rather than the text, so
// content churn inside a stable layout does not move the hash.
func (s *SimHasher) ComputeFromHTML(html string) SimHash {
	features := ExtractHTMLStructure(html)
	if len(features) == 0 {
		return 0
	}
	return SimHash(s.core.HashFeatures(features))
}

func (s *SimHasher) preprocess(content string) string {
	result := content

	if s.stripHTML {
		result = stripHTMLTags(result)
	}

	for _, re := range s.ignorePatterns {
		result = re.ReplaceAllString(result, " ")
	}

	result = normalizeWhitespace(result)

	if !s.caseSensitive {
		result = strings.ToLower(result)
	}

	if s.ignoreNumbers {
		result = removeNumbers(result)
	}

	return result
}

func (s *SimHasher) extractFeatures(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	if len(words) < s.nGramSize {
		return words
	}

	features := make([]string, 0, len(words)-s.nGramSize+1)
	for i := 0; i <= len(words)-s.nGramSize; i++ {
		features = append(features, strings.Join(words[i:i+s.nGramSize], " "))
	}
	return features
}

var htmlTagRe = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)

// ExtractHTMLStructure extracts tag-path features ("html>body>div") from
// HTML content, ignoring text and attributes.
func ExtractHTMLStructure(html string) []string {
	features := make([]string, 0)
	matches := htmlTagRe.FindAllStringSubmatch(html, -1)

	var path []string
	for _, match := range matches {
		isClosing := match[1] == "/"
		tagName := strings.ToLower(match[2])

		if isSelfClosingTag(tagName) {
			continue
		}

		if isClosing {
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		} else {
			path = append(path, tagName)
			features = append(features, strings.Join(path, ">"))
		}
	}

	return features
}

func isSelfClosingTag(tag string) bool {
	switch tag {
	case "br", "hr", "img", "input", "meta", "link", "area", "base",
		"col", "embed", "param", "source", "track", "wbr":
		return true
	}
	return false
}

var (
	stripTagsRe  = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func stripHTMLTags(content string) string {
	return stripTagsRe.ReplaceAllString(content, " ")
}

func normalizeWhitespace(content string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(content, " "))
}

func removeNumbers(content string) string {
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if !unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// CompareStructure compares two HTML documents structurally, returning
// the Hamming distance (0 = identical structure).
func CompareStructure(html1, html2 string) int {
	hasher := NewSimHasher()
	return hasher.ComputeFromHTML(html1).Distance(hasher.ComputeFromHTML(html2))
}

// StructuralSimilarity returns the structural similarity percentage (0-100).
func StructuralSimilarity(html1, html2 string) float64 {
	hasher := NewSimHasher()
	return hasher.ComputeFromHTML(html1).Similarity(hasher.ComputeFromHTML(html2))
}
