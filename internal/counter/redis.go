package counter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const (
	fieldUsed        = "used"
	fieldWindowStart = "window_start"
)

// RedisStore хранит окно в hash <prefix><key>{used, window_start}.
// Read-modify-write идёт через WATCH/MULTI: конкурентный Add на тот же ключ
// проваливает транзакцию, и она повторяется, а не затирает чужой инкремент.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	attempts uint
	logger   *zap.Logger
}

func NewRedisStore(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		rdb:      rdb,
		prefix:   prefix,
		attempts: 25,
		logger:   logger.With(zap.String("mod", "counter-redis")),
	}
}

func (s *RedisStore) GetWindow(ctx context.Context, key string, windowMs, now int64) (domain.CounterWindow, error) {
	vals, err := s.rdb.HMGet(ctx, s.prefix+key, fieldUsed, fieldWindowStart).Result()
	if err != nil {
		return domain.CounterWindow{}, fmt.Errorf("counter: redis get %s: %w", key, err)
	}
	stored, err := decodeWindow(vals)
	if err != nil {
		return domain.CounterWindow{}, fmt.Errorf("counter: redis decode %s: %w", key, err)
	}
	return current(stored, windowMs, now), nil
}

func (s *RedisStore) Add(ctx context.Context, key string, amount *big.Int, windowMs, now int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	rkey := s.prefix + key
	ttl := time.Duration(2*windowMs) * time.Millisecond

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, rkey, fieldUsed, fieldWindowStart).Result()
		if err != nil {
			return err
		}
		stored, err := decodeWindow(vals)
		if err != nil {
			return err
		}
		next := apply(stored, amount, windowMs, now)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rkey, fieldUsed, next.Used.String(), fieldWindowStart, next.WindowStart)
			pipe.PExpire(ctx, rkey, ttl)
			return nil
		})
		return err
	}

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(5*time.Millisecond),
		retry.MaxDelay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, redis.TxFailedErr)
		}),
	).Do(func() error {
		return s.rdb.Watch(ctx, txf, rkey)
	})
	if err != nil {
		s.logger.Error("counter add failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("counter: redis add %s: %w", key, err)
	}
	return nil
}

// Load проверяет доступность Redis. Состояние живёт на сервере, поднимать нечего.
func (s *RedisStore) Load(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis unavailable at load", zap.Error(err))
	}
	return nil
}

// Persist — каждый Add уже атомарно записан.
func (s *RedisStore) Persist(context.Context) error { return nil }

func decodeWindow(vals []interface{}) (*domain.CounterWindow, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	usedStr, _ := vals[0].(string)
	startStr, _ := vals[1].(string)
	used, ok := new(big.Int).SetString(usedStr, 10)
	if !ok {
		return nil, fmt.Errorf("malformed used %q", usedStr)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed window_start %q: %w", startStr, err)
	}
	return &domain.CounterWindow{Used: used, WindowStart: start}, nil
}
