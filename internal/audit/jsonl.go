package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink дописывает записи в файл построчно (по умолчанию logs/decisions.jsonl).
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	s := &JSONLSink{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLSink) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", s.path, err)
	}
	s.f = f
	return nil
}

func (s *JSONLSink) WriteBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("audit: sink closed")
	}
	w := bufio.NewWriter(s.f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("audit: encode entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return s.f.Sync()
}

// Reopen закрывает и заново открывает файл — для внешней ротации логов.
func (s *JSONLSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f != nil {
		if err := s.f.Close(); err != nil {
			return fmt.Errorf("audit: close: %w", err)
		}
		s.f = nil
	}
	return s.open()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
