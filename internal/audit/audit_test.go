package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	batches int
	failN   int
}

func (m *memSink) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("db down")
	}
	m.batches++
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type gaugeStub struct {
	mu sync.Mutex
	v  float64
}

func (g *gaugeStub) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func TestTrailDrainsOnStop(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, Options{BatchSize: 10, FlushInterval: time.Hour, BufferFill: &gaugeStub{}}, zap.NewNop())
	trail.Start()

	for i := 0; i < 25; i++ {
		trail.Log(Entry{Type: EntryDecision, PolicyHash: "0xabc"})
	}
	trail.Stop()

	assert.Equal(t, 25, sink.count())
	assert.Equal(t, 3, sink.batches, "two full batches and one final flush")
	for _, e := range sink.entries {
		assert.NotEmpty(t, e.ID)
		assert.NotZero(t, e.TS)
	}

	trail.Log(Entry{Type: EntryDecision})
	assert.Equal(t, int64(1), trail.Dropped())
	trail.Stop()
}

func TestTrailConcurrentLogAndStop(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, Options{BufferSize: 64, BatchSize: 8}, zap.NewNop())
	trail.Start()

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				trail.Log(Entry{Type: EntryDecision})
			}
		}()
	}
	// Stop посреди записи: ни паники, ни потерянного учёта.
	time.Sleep(time.Millisecond)
	trail.Stop()
	wg.Wait()

	assert.Equal(t, int64(writers*perWriter), int64(sink.count())+trail.Dropped())
}

func TestTrailFlushesOnTicker(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, Options{FlushInterval: 20 * time.Millisecond}, zap.NewNop())
	trail.Start()
	defer trail.Stop()

	trail.Log(Entry{Type: EntryExecution, TxHash: "0x01"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTrailShedsLoadWhenFull(t *testing.T) {
	sink := &memSink{}
	trail := NewTrail(sink, Options{BufferSize: 2}, zap.NewNop())
	// воркер не запущен: буфер не разгружается
	trail.Log(Entry{})
	trail.Log(Entry{})
	trail.Log(Entry{})
	assert.Equal(t, int64(1), trail.Dropped())
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "decisions.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	paused := false
	err = sink.WriteBatch(context.Background(), []Entry{
		{ID: "1", Type: EntryDecision, TS: 10, PolicyHash: "0xaa", Decision: domain.ActionAllow, Paused: &paused,
			Intent: domain.Intent{ChainID: 8453, To: "0x1111111111111111111111111111111111111111", Selector: "0xa9059cbb", Amount: "5"}},
		{ID: "2", Type: EntryExecution, TS: 11, PolicyHash: "0xaa", TxHash: "0xdead", Amount: "5"},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Reopen())
	require.NoError(t, sink.WriteBatch(context.Background(), []Entry{{ID: "3", Type: EntryDecision}}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "decision", lines[0]["type"])
	assert.Equal(t, "allow", lines[0]["decision"])
	assert.Equal(t, false, lines[0]["paused"])
	assert.Equal(t, "0xdead", lines[1]["txHash"])

	assert.Error(t, sink.WriteBatch(context.Background(), []Entry{{}}))
}

func TestReliableSinkRetries(t *testing.T) {
	sink := &memSink{failN: 2}
	rs := NewReliableSink(sink, ReliabilityOptions{WriteTimeout: time.Second}, zap.NewNop())

	require.NoError(t, rs.WriteBatch(context.Background(), []Entry{{ID: "x"}}))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, "closed", rs.State())
}

func TestReliableSinkOpensBreaker(t *testing.T) {
	sink := &memSink{failN: 1000}
	gauge := &gaugeStub{}
	rs := NewReliableSink(sink, ReliabilityOptions{MaxFailures: 1, BreakerStatus: gauge}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_ = rs.WriteBatch(context.Background(), []Entry{{}})
	}
	assert.Equal(t, "open", rs.State())
	gauge.mu.Lock()
	assert.Equal(t, float64(1), gauge.v)
	gauge.mu.Unlock()
}
