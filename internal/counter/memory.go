package counter

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// MemoryStore — потокобезопасная мапа окон. Load/Persist ничего не делают.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]domain.CounterWindow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]domain.CounterWindow)}
}

func (s *MemoryStore) GetWindow(_ context.Context, key string, windowMs, now int64) (domain.CounterWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return emptyWindow(windowMs, now), nil
	}
	return current(&w, windowMs, now), nil
}

func (s *MemoryStore) Add(_ context.Context, key string, amount *big.Int, windowMs, now int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addLocked(key, amount, windowMs, now)
	return nil
}

func (s *MemoryStore) Load(context.Context) error    { return nil }
func (s *MemoryStore) Persist(context.Context) error { return nil }

// addLocked возвращает предыдущее окно (ok=false, если его не было) для отката.
func (s *MemoryStore) addLocked(key string, amount *big.Int, windowMs, now int64) (domain.CounterWindow, bool) {
	prev, ok := s.windows[key]
	var prevPtr *domain.CounterWindow
	if ok {
		prevPtr = &prev
	}
	s.windows[key] = apply(prevPtr, amount, windowMs, now)
	return prev, ok
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("counter: amount must be non-negative, got %v", amount)
	}
	return nil
}
