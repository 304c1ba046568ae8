package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerGauge — состояние предохранителя (0 - закрыт, 1 - открыт).
type BreakerGauge interface {
	Set(float64)
}

// ReliableSink оборачивает Sink ретраями и Circuit Breaker: короткий сбой БД
// переживается повтором, длинный — быстрым отказом без очереди из зависших flush.
type ReliableSink struct {
	next   Sink
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

type ReliabilityOptions struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration // через сколько CB попробует "закрыться"
	MaxFailures   uint32        // подряд, после которых открываемся
	WriteTimeout  time.Duration
	BreakerStatus BreakerGauge
}

func NewReliableSink(next Sink, opts ReliabilityOptions, logger *zap.Logger) *ReliableSink {
	if opts.Name == "" {
		opts.Name = "audit-sink"
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = 3
	}
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	log := logger.With(zap.String("mod", "audit-sink"), zap.String("breaker", opts.Name))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
			if opts.BreakerStatus != nil {
				if to == gobreaker.StateOpen {
					opts.BreakerStatus.Set(1)
				} else {
					opts.BreakerStatus.Set(0)
				}
			}
		},
	})

	return &ReliableSink{next: &timeoutSink{next: next, timeout: opts.WriteTimeout}, cb: cb, logger: log}
}

func (s *ReliableSink) WriteBatch(ctx context.Context, entries []Entry) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.LastErrorOnly(true),
		).Do(func() error {
			return s.next.WriteBatch(ctx, entries)
		})
	})
	if err != nil {
		return fmt.Errorf("audit sink: %w", err)
	}
	return nil
}

// State — текущее состояние предохранителя, для /status.
func (s *ReliableSink) State() string {
	return s.cb.State().String()
}

type timeoutSink struct {
	next    Sink
	timeout time.Duration
}

func (t *timeoutSink) WriteBatch(ctx context.Context, entries []Entry) error {
	if t.timeout <= 0 {
		return t.next.WriteBatch(ctx, entries)
	}
	tCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.WriteBatch(tCtx, entries)
}
