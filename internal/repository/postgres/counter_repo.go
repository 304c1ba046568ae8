package postgres

/*
Файл counter_repo.go — хранилище оконных счётчиков в PostgreSQL.
Каждый Add — один UPSERT: смена bucket и инкремент решаются внутри выражения,
поэтому строка блокируется на время одного оператора и конкурентные Add не теряются.
*/

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const counterSchema = `
CREATE TABLE IF NOT EXISTS policy_counters (
	key          TEXT PRIMARY KEY,
	used         NUMERIC(78, 0) NOT NULL CHECK (used >= 0),
	window_start BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type CounterRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewCounterRepo(pool *pgxpool.Pool, logger *zap.Logger) *CounterRepo {
	return &CounterRepo{pool: pool, logger: logger.Named("counter-repo")}
}

var _ counter.Store = (*CounterRepo)(nil)

func (r *CounterRepo) GetWindow(ctx context.Context, key string, windowMs, now int64) (domain.CounterWindow, error) {
	start := counter.BucketStart(now, windowMs)

	var usedStr string
	var storedStart int64
	err := r.pool.QueryRow(ctx,
		`SELECT used::text, window_start FROM policy_counters WHERE key = $1`, key,
	).Scan(&usedStr, &storedStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CounterWindow{Used: new(big.Int), WindowStart: start}, nil
		}
		return domain.CounterWindow{}, fmt.Errorf("postgres: get counter %s: %w", key, err)
	}

	if storedStart != start {
		return domain.CounterWindow{Used: new(big.Int), WindowStart: start}, nil
	}
	used, ok := new(big.Int).SetString(usedStr, 10)
	if !ok {
		return domain.CounterWindow{}, fmt.Errorf("postgres: malformed counter %s=%q", key, usedStr)
	}
	return domain.CounterWindow{Used: used, WindowStart: start}, nil
}

func (r *CounterRepo) Add(ctx context.Context, key string, amount *big.Int, windowMs, now int64) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: counter amount must be non-negative, got %v", amount)
	}
	start := counter.BucketStart(now, windowMs)

	query := `
		INSERT INTO policy_counters (key, used, window_start)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (key) DO UPDATE SET
			used = CASE
				WHEN policy_counters.window_start = EXCLUDED.window_start
				THEN policy_counters.used + EXCLUDED.used
				ELSE EXCLUDED.used
			END,
			window_start = EXCLUDED.window_start,
			updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, key, amount.String(), start); err != nil {
		r.logger.Error("counter add failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("postgres: add counter %s: %w", key, err)
	}
	return nil
}

// Load создаёт таблицу, если её нет. Состояние читается из БД на каждый запрос,
// поэтому сбой здесь не фатален: последующие Add вернут ошибку сами.
func (r *CounterRepo) Load(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, counterSchema); err != nil {
		r.logger.Error("ensure counter schema failed", zap.Error(err))
	}
	return nil
}

// Persist — каждый Add уже закоммичен.
func (r *CounterRepo) Persist(context.Context) error { return nil }
