package counter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// FileStore — MemoryStore с синхронной записью полного снимка на диск после каждого Add.
// Формат: {"counters":{"<key>":{"used":"<digits>","windowStart":<ms>}}}.
type FileStore struct {
	mem    *MemoryStore
	path   string
	logger *zap.Logger
}

type fileSnapshot struct {
	Counters map[string]fileWindow `json:"counters"`
}

type fileWindow struct {
	Used        string `json:"used"`
	WindowStart int64  `json:"windowStart"`
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		mem:    NewMemoryStore(),
		path:   path,
		logger: logger.With(zap.String("mod", "counter-file"), zap.String("path", path)),
	}
}

func (s *FileStore) GetWindow(ctx context.Context, key string, windowMs, now int64) (domain.CounterWindow, error) {
	return s.mem.GetWindow(ctx, key, windowMs, now)
}

// Add меняет окно и переписывает файл под одним локом. При ошибке записи
// изменение в памяти откатывается, а ошибка уходит вызывающему.
func (s *FileStore) Add(_ context.Context, key string, amount *big.Int, windowMs, now int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	prev, existed := s.mem.addLocked(key, amount, windowMs, now)
	if err := s.persistLocked(); err != nil {
		if existed {
			s.mem.windows[key] = prev
		} else {
			delete(s.mem.windows, key)
		}
		return err
	}
	return nil
}

// Load читает снимок целиком. Нечитаемый или битый файл — старт с пустого состояния.
func (s *FileStore) Load(_ context.Context) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	s.mem.windows = make(map[string]domain.CounterWindow)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("counter snapshot unreadable, starting empty", zap.Error(err))
		}
		return nil
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("counter snapshot corrupted, starting empty", zap.Error(err))
		return nil
	}

	for key, w := range snap.Counters {
		used, ok := new(big.Int).SetString(w.Used, 10)
		if !ok || used.Sign() < 0 {
			s.logger.Warn("skipping malformed counter", zap.String("key", key), zap.String("used", w.Used))
			continue
		}
		s.mem.windows[key] = domain.CounterWindow{Used: used, WindowStart: w.WindowStart}
	}
	s.logger.Info("counters loaded", zap.Int("count", len(s.mem.windows)))
	return nil
}

func (s *FileStore) Persist(_ context.Context) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	return s.persistLocked()
}

// persistLocked пишет во временный файл и переименовывает: читатель не увидит половину снимка.
func (s *FileStore) persistLocked() error {
	snap := fileSnapshot{Counters: make(map[string]fileWindow, len(s.mem.windows))}
	for key, w := range s.mem.windows {
		snap.Counters[key] = fileWindow{Used: w.Used.String(), WindowStart: w.WindowStart}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("counter: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("counter: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("counter: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("counter: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("counter: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("counter: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("counter: replace snapshot: %w", err)
	}
	return nil
}
