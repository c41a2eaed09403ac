// Package corpus implements the Corpus Store: an ordered collection of
// testcases with pluggable scheduling, lazy on-disk paging, and the
// refcounted metadata lifecycle feedbacks attach to each entry.
package corpus

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/metadata"
)

// Testcase wraps one Input plus its fitness and metadata. It is created by
// the feedback engine when an input is deemed interesting and destroyed
// when the corpus evicts it or on shutdown (spec.md §3).
type Testcase struct {
	ID       string
	Input    inputs.Input
	Fitness  int
	Metadata *metadata.Bag

	// diskPath is set for entries backed by an on-disk corpus whose
	// input body has not been loaded into Input yet (lazy load).
	diskPath string
	loaded   bool
}

// NewTestcase builds a resident (already-loaded) testcase around input.
func NewTestcase(input inputs.Input, fitness int) *Testcase {
	return &Testcase{
		ID:       uuid.NewString(),
		Input:    input,
		Fitness:  fitness,
		Metadata: metadata.New(),
		loaded:   true,
	}
}

// IsLoaded reports whether Input is resident in memory.
func (t *Testcase) IsLoaded() bool {
	return t.loaded
}

// Corpus is the storage contract the orchestrator and feedback engine
// depend on (spec.md §4.3).
type Corpus interface {
	// Add appends testcase and returns its stable index.
	Add(tc *Testcase) (int, error)
	// Get returns the testcase at index.
	Get(index int) (*Testcase, error)
	// LoadTestcase ensures the testcase at index has its input resident,
	// reading from the backing store if necessary.
	LoadTestcase(index int) (*Testcase, error)
	// Next asks the scheduler for the next testcase to work on.
	Next(rng *rand.Rand) (*Testcase, int, error)
	// Count reports the number of resident testcases (including
	// not-yet-loaded ones).
	Count() int
	// Iter returns every testcase in insertion order. Entries that are
	// not yet loaded are returned as-is (Input may be nil); callers that
	// need bodies should call LoadTestcase.
	Iter() []*Testcase
}

// Scheduler selects the next testcase index out of a corpus of the given
// size, using rng for any randomness it needs.
type Scheduler interface {
	Next(rng *rand.Rand, size int, weights []float64) int
}

// QueueScheduler is the simplest scheduler: strict round-robin over
// indices, named after original_source's schedulers::QueueScheduler
// (fuzzers/lab/src/main.rs) — the default the core ships with.
type QueueScheduler struct {
	mu   sync.Mutex
	next int
}

func NewQueueScheduler() *QueueScheduler {
	return &QueueScheduler{}
}

func (s *QueueScheduler) Next(rng *rand.Rand, size int, weights []float64) int {
	if size == 0 {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.next % size
	s.next++
	return idx
}

// WeightedScheduler favors higher-weighted entries, weight per index
// supplied by the caller. The corpora give every entry weight 1.0 on Add
// and change it only through SetWeight; nothing in this repository derives
// weights from MapIndexesMetadata or its refcount. Falls back to uniform
// selection when all weights are zero.
type WeightedScheduler struct{}

func NewWeightedScheduler() *WeightedScheduler {
	return &WeightedScheduler{}
}

func (s *WeightedScheduler) Next(rng *rand.Rand, size int, weights []float64) int {
	if size == 0 {
		return -1
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return rng.Intn(size)
	}
	target := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target <= acc {
			return i
		}
	}
	return size - 1
}

// InMemoryCorpus keeps every testcase resident. Grounded on teacher's
// coverage.Corpus (internal/coverage/corpus.go), minus the automatic disk
// persistence — that is OnDiskCorpus's job here.
type InMemoryCorpus struct {
	mu        sync.RWMutex
	entries   []*Testcase
	scheduler Scheduler
	weights   []float64
}

func NewInMemoryCorpus(scheduler Scheduler) *InMemoryCorpus {
	if scheduler == nil {
		scheduler = NewQueueScheduler()
	}
	return &InMemoryCorpus{scheduler: scheduler}
}

func (c *InMemoryCorpus) Add(tc *Testcase) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, tc)
	c.weights = append(c.weights, 1.0)
	return len(c.entries) - 1, nil
}

func (c *InMemoryCorpus) Get(index int) (*Testcase, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.entries) {
		return nil, fmt.Errorf("corpus: index %d out of range [0,%d)", index, len(c.entries))
	}
	return c.entries[index], nil
}

func (c *InMemoryCorpus) LoadTestcase(index int) (*Testcase, error) {
	return c.Get(index)
}

func (c *InMemoryCorpus) Next(rng *rand.Rand) (*Testcase, int, error) {
	c.mu.RLock()
	size := len(c.entries)
	weights := append([]float64(nil), c.weights...)
	c.mu.RUnlock()
	idx := c.scheduler.Next(rng, size, weights)
	if idx < 0 {
		return nil, -1, fmt.Errorf("corpus: empty corpus")
	}
	tc, err := c.Get(idx)
	return tc, idx, err
}

func (c *InMemoryCorpus) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *InMemoryCorpus) Iter() []*Testcase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Testcase, len(c.entries))
	copy(out, c.entries)
	return out
}

// SetWeight updates the scheduling weight for index, used by
// WeightedScheduler. Safe to call concurrently with Add/Next.
func (c *InMemoryCorpus) SetWeight(index int, weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.weights) {
		c.weights[index] = weight
	}
}

// PageCache caches testcase bodies between page-ins so a recovered
// on-disk corpus does not re-read the same file on every schedule hit.
// internal/diskcorpus provides the implementations (MemoryCache,
// TieredCache).
type PageCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// persistedTestcase is the on-disk metadata record written alongside each
// input file. The input file is named <ID>.bin after the testcase ID
// alone; the fitness is stored only in this <ID>.json record, not in the
// file name.
type persistedTestcase struct {
	ID      string `json:"id"`
	Fitness int    `json:"fitness"`
	Kinds   []string `json:"metadata_kinds"`
}

// OnDiskCorpus serializes inputs to a directory; testcase bodies are
// lazily paged in. Used for both the main queue (when configured) and the
// crash/objective corpus (spec.md §4.3, §6). The on-disk layout is
// identical between queue and crash corpuses so inputs may be promoted
// between them by simply copying the pair of files.
type OnDiskCorpus struct {
	mu        sync.RWMutex
	dir       string
	entries   []*Testcase
	scheduler Scheduler
	weights   []float64
	cache     PageCache
}

// NewOnDiskCorpus creates (if needed) dir and returns a corpus backed by
// it. Existing entries are not auto-loaded; call Load to recover a prior
// run's state. LoadTestcase re-reads from disk on every page-in unless a
// PageCache is installed via SetPageCache.
func NewOnDiskCorpus(dir string, scheduler Scheduler) (*OnDiskCorpus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("corpus: create dir: %w", err)
	}
	if scheduler == nil {
		scheduler = NewQueueScheduler()
	}
	return &OnDiskCorpus{dir: dir, scheduler: scheduler}, nil
}

func (c *OnDiskCorpus) inputPath(id string) string {
	return filepath.Join(c.dir, id+".bin")
}

func (c *OnDiskCorpus) metaPath(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c *OnDiskCorpus) Add(tc *Testcase) (int, error) {
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	if err := os.WriteFile(c.inputPath(tc.ID), tc.Input.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("corpus: write input: %w", err)
	}
	rec := persistedTestcase{ID: tc.ID, Fitness: tc.Fitness, Kinds: tc.Metadata.Kinds()}
	buf, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("corpus: marshal metadata: %w", err)
	}
	if err := os.WriteFile(c.metaPath(tc.ID), buf, 0o644); err != nil {
		return 0, fmt.Errorf("corpus: write metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tc.diskPath = c.inputPath(tc.ID)
	tc.loaded = true
	c.entries = append(c.entries, tc)
	c.weights = append(c.weights, 1.0)
	return len(c.entries) - 1, nil
}

func (c *OnDiskCorpus) Get(index int) (*Testcase, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.entries) {
		return nil, fmt.Errorf("corpus: index %d out of range [0,%d)", index, len(c.entries))
	}
	return c.entries[index], nil
}

func (c *OnDiskCorpus) LoadTestcase(index int) (*Testcase, error) {
	tc, err := c.Get(index)
	if err != nil {
		return nil, err
	}
	if tc.IsLoaded() {
		return tc, nil
	}

	if c.cache != nil {
		if data, ok := c.cache.Get(tc.ID); ok {
			tc.Input = inputs.New(data)
			tc.loaded = true
			return tc, nil
		}
	}

	data, err := os.ReadFile(tc.diskPath)
	if err != nil {
		return nil, fmt.Errorf("corpus: page in %s: %w", tc.diskPath, err)
	}
	if c.cache != nil {
		c.cache.Set(tc.ID, data)
	}
	tc.Input = inputs.New(data)
	tc.loaded = true
	return tc, nil
}

// SetPageCache installs cache in front of disk reads. Install before the
// first LoadTestcase; bodies already resident are unaffected.
func (c *OnDiskCorpus) SetPageCache(cache PageCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = cache
}

func (c *OnDiskCorpus) Next(rng *rand.Rand) (*Testcase, int, error) {
	c.mu.RLock()
	size := len(c.entries)
	weights := append([]float64(nil), c.weights...)
	c.mu.RUnlock()
	idx := c.scheduler.Next(rng, size, weights)
	if idx < 0 {
		return nil, -1, fmt.Errorf("corpus: empty corpus")
	}
	tc, err := c.LoadTestcase(idx)
	if err != nil {
		return nil, -1, err
	}
	return tc, idx, nil
}

func (c *OnDiskCorpus) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *OnDiskCorpus) Iter() []*Testcase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Testcase, len(c.entries))
	copy(out, c.entries)
	return out
}

// Load recovers a prior run's entries from dir: every *.json record with
// a matching *.bin file becomes an unloaded Testcase (paged in on first
// LoadTestcase/Next).
func (c *OnDiskCorpus) Load() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("corpus: read dir: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		var rec persistedTestcase
		if err := json.Unmarshal(buf, &rec); err != nil {
			continue
		}
		inputPath := c.inputPath(rec.ID)
		if _, err := os.Stat(inputPath); err != nil {
			continue
		}
		c.entries = append(c.entries, &Testcase{
			ID:       rec.ID,
			Fitness:  rec.Fitness,
			Metadata: metadata.New(),
			diskPath: inputPath,
			loaded:   false,
		})
		c.weights = append(c.weights, 1.0)
	}
	return nil
}

// SetWeight updates the scheduling weight for index.
func (c *OnDiskCorpus) SetWeight(index int, weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.weights) {
		c.weights[index] = weight
	}
}
