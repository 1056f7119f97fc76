package telemetry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(10*time.Millisecond))
	assert.Equal(t, BucketP100, LatencyToBucket(99*time.Millisecond))
	assert.Equal(t, BucketP500, LatencyToBucket(100*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(2*time.Second))
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"parse", "lexer", "foo_bar"}, ExtractTerms(`function:parse AND (text:"lexer" OR foo_bar) NOT ab`))
	assert.Nil(t, ExtractTerms("   "))
}

func TestCircularBuffer_Wraps(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Equal(t, 3, b.Size())
}

func TestMetrics_RecordAndSnapshot(t *testing.T) {
	// Given: a memory-only collector
	m := New(nil, Config{})
	defer m.Close()

	// When: recording a mix of events
	m.Record(Event{Action: "query", Query: "function:parse", ResultCount: 2, Latency: 3 * time.Millisecond})
	m.Record(Event{Action: "query", Query: "function:parse", ResultCount: 0, Latency: 20 * time.Millisecond})
	m.Record(Event{Action: "index_stats", Latency: time.Millisecond})
	m.Record(Event{Action: "query", Query: "broken(", Failed: true})

	// Then
	s := m.Snapshot()
	assert.Equal(t, int64(4), s.TotalRequests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.Equal(t, int64(3), s.ActionCounts["query"])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"function:parse"}, s.ZeroResultQueries)
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.Equal(t, int64(3), s.LatencyDistribution[BucketP10])
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "parse", Count: 2}, s.TopTerms[0])
	assert.InDelta(t, 25.0, s.ZeroResultPercentage(), 0.001)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Record(Event{Action: "ping"})
	assert.NoError(t, m.Flush())
	assert.NoError(t, m.Close())
	assert.Zero(t, m.Snapshot().TotalRequests)
}

func TestMetrics_FlushWritesDeltasOnly(t *testing.T) {
	// Given: a collector over a real database
	store := openTestStore(t)
	m := New(store, Config{FlushInterval: 0})
	today := time.Now().Format("2006-01-02")

	m.Record(Event{Action: "query", Query: "lexer", Latency: time.Millisecond})
	require.NoError(t, m.Flush())
	// A second flush with nothing new must not double count
	require.NoError(t, m.Flush())
	m.Record(Event{Action: "query", Query: "lexer", ResultCount: 1, Latency: time.Millisecond})
	require.NoError(t, m.Flush())

	counts, err := store.GetActionCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"query": 2}, counts)

	lat, err := store.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lat[BucketP10])

	terms, err := store.GetTopTerms(5)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "lexer", Count: 2}}, terms)

	zero, err := store.GetZeroResultQueries(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"lexer"}, zero)
}

type failingStore struct{ fail bool }

func (f *failingStore) SaveActionCounts(string, map[string]int64) error {
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}
func (f *failingStore) SaveLatencyCounts(string, map[LatencyBucket]int64) error { return nil }
func (f *failingStore) UpsertTermCounts(map[string]int64) error                 { return nil }
func (f *failingStore) AddZeroResultQuery(string, time.Time) error              { return nil }
func (f *failingStore) Close() error                                            { return nil }

func TestMetrics_FailedFlushKeepsIncrements(t *testing.T) {
	fs := &failingStore{fail: true}
	m := New(fs, Config{})
	defer m.Close()
	m.Record(Event{Action: "ping"})

	require.Error(t, m.Flush())

	m.mu.Lock()
	assert.Equal(t, int64(1), m.pendingActions["ping"])
	m.mu.Unlock()

	fs.fail = false
	require.NoError(t, m.Flush())
	m.mu.Lock()
	assert.Empty(t, m.pendingActions)
	m.mu.Unlock()
}

func TestStore_ZeroResultRingIsBounded(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for i := 0; i < maxZeroResultQueries+10; i++ {
		require.NoError(t, s.AddZeroResultQuery("q", now))
	}
	got, err := s.GetZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, got, maxZeroResultQueries)
}

func TestMetrics_CloseFlushesAndClosesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	m := New(store, Config{FlushInterval: time.Hour})
	m.Record(Event{Action: "status"})

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	today := time.Now().Format("2006-01-02")
	counts, err := reopened.GetActionCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["status"])
}
