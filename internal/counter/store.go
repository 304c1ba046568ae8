package counter

/*
Пакет counter — учёт использования лимитов в фиксированных окнах.
Окно адресуется непрозрачным ключом и границей bucket = now - now%windowMs.
При смене bucket старое значение отбрасывается целиком (не скользящее окно).
*/

import (
	"context"
	"math/big"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const (
	HourMs int64 = 60 * 60 * 1000
	DayMs  int64 = 24 * HourMs
)

// Store — контракт хранилища счётчиков. Все изменения идут только через Add.
type Store interface {
	// GetWindow только читает: устаревшее окно возвращается как used=0, но не сбрасывается.
	GetWindow(ctx context.Context, key string, windowMs, now int64) (domain.CounterWindow, error)
	// Add заменяет окно при смене bucket, иначе увеличивает used.
	Add(ctx context.Context, key string, amount *big.Int, windowMs, now int64) error
	// Load поднимает состояние до обслуживания запросов. Persist сбрасывает его на носитель.
	Load(ctx context.Context) error
	Persist(ctx context.Context) error
}

// BucketStart — начало фиксированного окна, в которое попадает now.
func BucketStart(now, windowMs int64) int64 {
	if windowMs <= 0 {
		return now
	}
	start := now - now%windowMs
	if now < 0 && now%windowMs != 0 {
		start -= windowMs
	}
	return start
}

// emptyWindow — пустое окно для текущего bucket.
func emptyWindow(windowMs, now int64) domain.CounterWindow {
	return domain.CounterWindow{Used: new(big.Int), WindowStart: BucketStart(now, windowMs)}
}

// apply — чистая функция перехода окна, общая для всех бэкендов.
func apply(prev *domain.CounterWindow, amount *big.Int, windowMs, now int64) domain.CounterWindow {
	start := BucketStart(now, windowMs)
	if prev == nil || prev.Used == nil || prev.WindowStart != start {
		return domain.CounterWindow{Used: new(big.Int).Set(amount), WindowStart: start}
	}
	return domain.CounterWindow{Used: new(big.Int).Add(prev.Used, amount), WindowStart: start}
}

// current — окно, каким его видит GetWindow.
func current(stored *domain.CounterWindow, windowMs, now int64) domain.CounterWindow {
	start := BucketStart(now, windowMs)
	if stored == nil || stored.Used == nil || stored.WindowStart != start {
		return emptyWindow(windowMs, now)
	}
	return domain.CounterWindow{Used: new(big.Int).Set(stored.Used), WindowStart: start}
}
