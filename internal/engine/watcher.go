package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader следит за файлом политики и перезагружает её после записи.
// Смотрим каталог, а не файл: редакторы сохраняют через rename, и наблюдение за
// самим файлом после этого теряется.
type Reloader struct {
	watcher  *fsnotify.Watcher
	engine   *Engine
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	reloads int
}

func NewReloader(e *Engine, path string, debounce time.Duration) (*Reloader, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Reloader{
		watcher:  watcher,
		engine:   e,
		path:     abs,
		debounce: debounce,
		logger:   e.logger.Named("reloader").With(zap.String("path", abs)),
	}, nil
}

// Run блокируется до отмены ctx.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: ждём паузу после последней записи
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	if err := r.engine.LoadPolicyFile(r.path); err != nil {
		// Невалидный файл не трогает активную политику
		r.logger.Error("hot-reload failed", zap.Error(err))
		return
	}
	r.mu.Lock()
	r.reloads++
	r.mu.Unlock()
	r.logger.Info("hot-reload: policy reloaded", zap.String("fingerprint", r.engine.Fingerprint()))
}

// Reloads — число успешных перезагрузок.
func (r *Reloader) Reloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads
}
