package engine

/*
Файл engine.go — ядро допуска транзакций.

Движок держит одну активную пару (политика, fingerprint) за atomic.Pointer:
горячая замена политики — одна запись указателя, оценка всегда видит целый снимок.

Между Evaluate и RecordExecution есть окно check-then-act: два параллельных интента
могут оба увидеть запас под лимитом и оба быть записаны. Резервирования ёмкости нет,
сериализовать исполнение в пределах политики — обязанность вызывающего.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/policy"
	"github.com/xela07ax/spaceai-policy-runtime/internal/risk"
)

var (
	ErrPolicyNotLoaded = errors.New("engine: policy not loaded")
	ErrAmountRequired  = errors.New("amount required")
	ErrAmountMismatch  = errors.New("amount and amount_human disagree")
	ErrBadTarget       = errors.New("malformed target or selector")
)

// Recorder — метрики решений. Передаётся явно, без глобального состояния.
type Recorder interface {
	ObserveDecision(d domain.Decision, elapsed time.Duration)
	ObserveExecution()
	ObservePolicyLoad(fingerprint string, err error)
	ObservePause(paused bool)
}

// RegistryLoader загружает реестр токенов по пути (пустой путь — env/дефолт).
type RegistryLoader func(path string) denom.Registry

type snapshot struct {
	policy      *domain.Policy
	fingerprint string
	registry    denom.Registry
}

type Engine struct {
	store        counter.Store
	auditor      audit.Auditor
	metrics      Recorder
	risk         *risk.Analyzer
	logger       *zap.Logger
	loadRegistry RegistryLoader
	registryPath string

	state atomic.Pointer[snapshot]

	allowed atomic.Int64
	denied  atomic.Int64
}

type Option func(*Engine)

// WithRegistryPath — путь к реестру, если политика не указала свой.
func WithRegistryPath(path string) Option {
	return func(e *Engine) { e.registryPath = path }
}

func WithRegistryLoader(l RegistryLoader) Option {
	return func(e *Engine) { e.loadRegistry = l }
}

// New собирает движок. auditor и metrics могут быть nil.
func New(store counter.Store, auditor audit.Auditor, metrics Recorder, logger *zap.Logger, opts ...Option) *Engine {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	log := logger.Named("engine")
	e := &Engine{
		store:   store,
		auditor: auditor,
		metrics: metrics,
		risk:    risk.NewAnalyzer(log),
		logger:  log,
	}
	e.loadRegistry = func(path string) denom.Registry { return denom.LoadRegistry(path, log) }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadPolicy валидирует, нормализует и атомарно подменяет активную политику.
// Пустой fingerprint вычисляется по нормализованной политике. При ошибке схемы
// предыдущая политика остаётся активной.
func (e *Engine) LoadPolicy(raw []byte, fingerprint string) error {
	doc, err := policy.Validate(raw)
	if err != nil {
		e.metrics.ObservePolicyLoad("", err)
		return err
	}

	path := doc.RegistryPath()
	if path == "" {
		path = e.registryPath
	}
	reg := e.loadRegistry(path)

	p, err := policy.Normalize(doc, reg)
	if err != nil {
		e.metrics.ObservePolicyLoad("", err)
		return err
	}
	if fingerprint == "" {
		if fingerprint, err = policy.Fingerprint(p); err != nil {
			e.metrics.ObservePolicyLoad("", err)
			return err
		}
	}

	prev := e.state.Swap(&snapshot{policy: p, fingerprint: fingerprint, registry: reg})
	e.metrics.ObservePolicyLoad(fingerprint, nil)
	e.metrics.ObservePause(p.Pause)

	fields := []zap.Field{
		zap.String("fingerprint", fingerprint),
		zap.Int("allowlist", len(p.Allowlist)),
		zap.Int("registry_tokens", len(reg)),
		zap.Bool("paused", p.Pause),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.fingerprint))
	}
	e.logger.Info("policy loaded", fields...)
	return nil
}

// LoadPolicyFile читает JSON/YAML файл и загружает его.
func (e *Engine) LoadPolicyFile(path string) error {
	raw, err := policy.ReadFile(path)
	if err != nil {
		return err
	}
	if err := e.LoadPolicy(raw, ""); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// SetPause меняет флаг паузы, не трогая fingerprint: счётчики переживают паузу.
func (e *Engine) SetPause(paused bool) error {
	for {
		cur := e.state.Load()
		if cur == nil {
			return ErrPolicyNotLoaded
		}
		next := &snapshot{policy: cur.policy.WithPause(paused), fingerprint: cur.fingerprint, registry: cur.registry}
		if e.state.CompareAndSwap(cur, next) {
			e.metrics.ObservePause(paused)
			e.logger.Warn("pause toggled", zap.Bool("paused", paused), zap.String("fingerprint", cur.fingerprint))
			return nil
		}
	}
}

// Status — сводка для /status.
type Status struct {
	Loaded      bool   `json:"loaded"`
	Fingerprint string `json:"policyHash,omitempty"`
	Paused      bool   `json:"paused"`
	Allowlist   int    `json:"allowlist"`
	Allowed     int64  `json:"allowed"` // решений allow с момента старта
	Denied      int64  `json:"denied"`
}

func (e *Engine) Status() Status {
	st := Status{Allowed: e.allowed.Load(), Denied: e.denied.Load()}
	if cur := e.state.Load(); cur != nil {
		st.Loaded = true
		st.Fingerprint = cur.fingerprint
		st.Paused = cur.policy.Pause
		st.Allowlist = len(cur.policy.Allowlist)
	}
	return st
}

// Fingerprint активной политики ("" если не загружена).
func (e *Engine) Fingerprint() string {
	if cur := e.state.Load(); cur != nil {
		return cur.fingerprint
	}
	return ""
}

// Policy — активная политика (только чтение).
func (e *Engine) Policy() *domain.Policy {
	if cur := e.state.Load(); cur != nil {
		return cur.policy
	}
	return nil
}

func (e *Engine) log(ctx context.Context, entry audit.Entry) {
	if e.auditor == nil {
		return
	}
	entry.TraceID = TraceID(ctx)
	e.auditor.Log(entry)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(domain.Decision, time.Duration) {}
func (nopRecorder) ObserveExecution()                              {}
func (nopRecorder) ObservePolicyLoad(string, error)                {}
func (nopRecorder) ObservePause(bool)                              {}
