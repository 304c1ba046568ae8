package audit

/*
Файл trail.go — неблокирующий журнал решений движка.

- Non-blocking: Log никогда не ждёт записи, решение не зависит от диска/БД.
- Batching: события копятся и пишутся пачкой по таймеру или по достижении batchSize.
- Drain: Stop закрывает канал, воркер вычитывает остаток и делает финальный flush.
- Load shedding: при переполнении буфера запись теряется с ошибкой в лог, а не тормозит hot path.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink — куда физически уходят записи (JSONL, Postgres).
type Sink interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Auditor — то, что видит движок.
type Auditor interface {
	Log(entry Entry)
}

// Gauge — заполненность буфера. prometheus.Gauge подходит как есть.
type Gauge interface {
	Set(float64)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	BufferFill    Gauge
}

type Trail struct {
	ch            chan Entry
	sink          Sink
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	fill          Gauge
	wg            sync.WaitGroup
	mu            sync.RWMutex // отправка в ch под RLock, close под Lock
	closed        bool
	dropped       atomic.Int64
}

func NewTrail(sink Sink, opts Options, logger *zap.Logger) *Trail {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Entry, opts.BufferSize),
		sink:          sink,
		logger:        logger.With(zap.String("mod", "audit")),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		fill:          opts.BufferFill,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход и ждёт, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped", zap.Int64("dropped", t.dropped.Load()))
}

func (t *Trail) Log(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TS == 0 {
		entry.TS = time.Now().UnixMilli()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped.Add(1)
		t.logger.Warn("audit entry dropped: trail is stopping", zap.String("id", entry.ID))
		return
	}

	select {
	case t.ch <- entry:
		if t.fill != nil {
			t.fill.Set(float64(len(t.ch)))
		}
	default:
		t.dropped.Add(1)
		t.logger.Error("audit_buffer_overflow",
			zap.String("type", string(entry.Type)),
			zap.String("op_id", entry.OpID),
			zap.String("trace_id", entry.TraceID),
		)
	}
}

// Dropped — сколько записей потеряно из-за переполнения или остановки.
func (t *Trail) Dropped() int64 { return t.dropped.Load() }

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Entry, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту давно завершён
		if err := t.sink.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if t.fill != nil {
			t.fill.Set(float64(len(t.ch)))
		}
	}

	for {
		select {
		case entry, ok := <-t.ch:
			if !ok {
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
