// Package telemetry records server request metrics in a local SQLite
// database. Nothing leaves the machine.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Event is one served request.
type Event struct {
	Action      string
	Query       string // empty for non-search actions
	ResultCount int
	Latency     time.Duration
	Failed      bool
	Timestamp   time.Time
}

func (e Event) zeroResult() bool {
	return e.Query != "" && !e.Failed && e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// queryKeywords are query-language tokens that are not search terms.
var queryKeywords = map[string]bool{"and": true, "or": true, "not": true}

// ExtractTerms splits a query into lowercased terms of at least three
// characters. Field prefixes like "function:" are dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if i := strings.IndexByte(w, ':'); i >= 0 {
			w = w[i+1:]
		}
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len(w) < 3 || queryKeywords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the in-memory metrics.
type Snapshot struct {
	ActionCounts        map[string]int64        `json:"action_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	TotalRequests       int64                   `json:"total_requests"`
	FailedRequests      int64                   `json:"failed_requests"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches with no results.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalRequests) * 100
}

// Store persists aggregated metrics.
type Store interface {
	SaveActionCounts(date string, counts map[string]int64) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	UpsertTermCounts(terms map[string]int64) error
	AddZeroResultQuery(query string, ts time.Time) error
	Close() error
}

// Config tunes a Metrics collector.
type Config struct {
	TopTermsCapacity      int
	ZeroResultsCapacity   int
	RecentQueriesCapacity int
	// FlushInterval is how often deltas are written; 0 disables auto-flush.
	FlushInterval time.Duration
}

// DefaultConfig returns the default collector settings.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

type zeroResult struct {
	query string
	at    time.Time
}

// Metrics aggregates request events in memory and periodically writes the
// increments since the last flush to a Store. Safe for concurrent use; a
// nil *Metrics ignores every call.
type Metrics struct {
	mu sync.Mutex

	actions     map[string]int64
	latencies   map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	recent      *lru.Cache[uint64, struct{}]
	total       int64
	failed      int64
	zeroCount   int64
	repeats     int64
	since       time.Time

	// increments not yet flushed
	pendingActions   map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingZero      []zeroResult

	store  Store
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a collector. store may be nil for memory-only metrics.
func New(store Store, cfg Config) *Metrics {
	d := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = d.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = d.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = d.RecentQueriesCapacity
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[uint64, struct{}](cfg.RecentQueriesCapacity)

	m := &Metrics{
		actions:          make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		terms:            terms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recent:           recent,
		since:            time.Now(),
		pendingActions:   make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingTerms:     make(map[string]int64),
		store:            store,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *Metrics) flushLoop(every time.Duration) {
	defer close(m.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

// Record adds one event.
func (m *Metrics) Record(ev Event) {
	if m == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	m.actions[ev.Action]++
	m.pendingActions[ev.Action]++
	bucket := LatencyToBucket(ev.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++
	if ev.Failed {
		m.failed++
	}
	if ev.Query == "" {
		return
	}

	for _, term := range ExtractTerms(ev.Query) {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
		m.pendingTerms[term]++
	}
	if ev.zeroResult() {
		m.zeroCount++
		m.zeroResults.Add(ev.Query)
		m.pendingZero = append(m.pendingZero, zeroResult{ev.Query, ev.Timestamp})
	}
	h := xxhash.Sum64String(ev.Action + "\x00" + strings.ToLower(strings.TrimSpace(ev.Query)))
	if _, seen := m.recent.Get(h); seen {
		m.repeats++
	}
	m.recent.Add(h, struct{}{})
}

// Snapshot returns the in-memory totals since the collector started.
func (m *Metrics) Snapshot() *Snapshot {
	if m == nil {
		return &Snapshot{ActionCounts: map[string]int64{}, LatencyDistribution: map[LatencyBucket]int64{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		ActionCounts:        make(map[string]int64, len(m.actions)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(m.latencies)),
		ZeroResultQueries:   m.zeroResults.Items(),
		TotalRequests:       m.total,
		FailedRequests:      m.failed,
		ZeroResultCount:     m.zeroCount,
		ExactRepeatCount:    m.repeats,
		Since:               m.since,
	}
	for k, v := range m.actions {
		s.ActionCounts[k] = v
	}
	for k, v := range m.latencies {
		s.LatencyDistribution[k] = v
	}
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	sort.SliceStable(s.TopTerms, func(i, j int) bool { return s.TopTerms[i].Count > s.TopTerms[j].Count })
	return s
}

// Flush writes the increments recorded since the previous flush. On a
// store error the increments are kept for the next attempt.
func (m *Metrics) Flush() error {
	if m == nil || m.store == nil {
		return nil
	}

	m.mu.Lock()
	actions, latencies, terms, zero := m.pendingActions, m.pendingLatencies, m.pendingTerms, m.pendingZero
	m.pendingActions = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	err := m.store.SaveActionCounts(today, actions)
	if err == nil {
		err = m.store.SaveLatencyCounts(today, latencies)
	}
	if err == nil {
		err = m.store.UpsertTermCounts(terms)
	}
	for i := 0; err == nil && i < len(zero); i++ {
		err = m.store.AddZeroResultQuery(zero[i].query, zero[i].at)
	}
	if err != nil {
		m.restore(actions, latencies, terms, zero)
	}
	return err
}

func (m *Metrics) restore(actions map[string]int64, latencies map[LatencyBucket]int64, terms map[string]int64, zero []zeroResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range actions {
		m.pendingActions[k] += v
	}
	for k, v := range latencies {
		m.pendingLatencies[k] += v
	}
	for k, v := range terms {
		m.pendingTerms[k] += v
	}
	m.pendingZero = append(zero, m.pendingZero...)
}

// Close stops auto-flush, writes remaining increments and closes the store.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	err := m.Flush()
	if m.store != nil {
		if cerr := m.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
