package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra/auth"
	"github.com/xela07ax/spaceai-policy-runtime/internal/repository/postgres"
	"github.com/xela07ax/spaceai-policy-runtime/internal/server"
)

// App — собранный демон: хранилище, аудит, движок, HTTP.
type App struct {
	cfg      *infra.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *engine.Metrics

	store    counter.Store
	rdb      *redis.Client
	trail    *audit.Trail
	logs     *audit.JSONLSink
	closers  []func() error
	engine   *engine.Engine
	reloader *engine.Reloader
	handler  http.Handler
}

// New поднимает все зависимости по конфигу. Политика загружается сразу:
// без валидной политики демон не стартует.
func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger.Named("app"),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = engine.NewMetrics(a.registry)

	if err := a.initRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	auditor, err := a.initAudit(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine = engine.New(a.store, auditor, a.metrics, logger,
		engine.WithRegistryPath(cfg.Policy.TokensRegistryPath))
	if err := a.engine.LoadPolicyFile(cfg.Policy.Path); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Policy.Watch {
		r, err := engine.NewReloader(a.engine, cfg.Policy.Path, cfg.Policy.WatchDebounce)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.reloader = r
	}

	validator, err := buildValidator(cfg.Auth)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := server.Options{
		Validator: validator,
		Gatherer:  a.registry,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}
	if a.logs != nil {
		opts.Logs = a.logs
	}
	a.handler = server.New(a.engine, opts, logger)
	return a, nil
}

func (a *App) initRedis(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, a.rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case infra.StoreMemory:
		a.store = counter.NewMemoryStore()
	case infra.StoreFile:
		a.store = counter.NewFileStore(a.cfg.Store.FilePath, a.logger)
	case infra.StoreRedis:
		a.store = counter.NewRedisStore(a.rdb, a.cfg.Store.KeyPrefix, a.logger)
	case infra.StorePostgres:
		pool, err := postgres.NewPool(ctx, a.cfg.Database.URL, a.cfg.Database.MaxConns, a.cfg.Database.MinConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.store = postgres.NewCounterRepo(pool, a.logger)
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	if err := a.store.Load(ctx); err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	a.logger.Info("counter store ready", zap.String("backend", a.cfg.Store.Backend))
	return nil
}

// initAudit: sink -> ретраи и CB -> неблокирующий Trail. nil — аудит выключен.
func (a *App) initAudit(ctx context.Context) (audit.Auditor, error) {
	ac := a.cfg.Audit
	var sink audit.Sink
	switch ac.Backend {
	case infra.AuditNone, "":
		return nil, nil
	case infra.AuditJSONL:
		s, err := audit.NewJSONLSink(ac.Path)
		if err != nil {
			return nil, err
		}
		a.logs = s
		a.closers = append(a.closers, s.Close)
		sink = s
	case infra.AuditPostgres:
		db, err := postgres.OpenDB(a.cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewAuditRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sink = repo
	default:
		return nil, fmt.Errorf("unknown audit backend %q", ac.Backend)
	}

	reliable := audit.NewReliableSink(sink, audit.ReliabilityOptions{
		Name:          "audit-" + ac.Backend,
		Timeout:       ac.CBTimeout,
		MaxFailures:   ac.CBMaxFailures,
		WriteTimeout:  ac.WriteTimeout,
		BreakerStatus: a.metrics.AuditBreakerState,
	}, a.logger)
	a.trail = audit.NewTrail(reliable, audit.Options{
		BufferSize:    ac.BufferSize,
		BatchSize:     ac.BatchSize,
		FlushInterval: ac.FlushInterval,
		BufferFill:    a.metrics.AuditBufferFill,
	}, a.logger)
	a.trail.Start()
	return a.trail, nil
}

// buildValidator: JWT и/или статический токен. Оба пусты — nil, проверка выключена.
func buildValidator(cfg infra.AuthConfig) (auth.TokenValidator, error) {
	var chain auth.Chain
	if len(cfg.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		chain = append(chain, auth.NewBaseValidator(pub))
	}
	if cfg.TokenHash != "" {
		chain = append(chain, auth.NewStaticValidator(cfg.TokenHash, domain.ScopeAdmin))
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}

// Engine нужен тестам и cmd для прямого доступа.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Handler() http.Handler { return a.handler }

// ReopenLogs — реакция на SIGHUP после logrotate.
func (a *App) ReopenLogs() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Reopen()
}

// Run обслуживает HTTP до отмены ctx, затем гасит сервер и фоновые задачи.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	if a.reloader != nil {
		go func() {
			if err := a.reloader.Run(bgCtx); err != nil {
				a.logger.Error("policy watcher stopped", zap.Error(err))
			}
		}()
	}
	if ch := a.cfg.Redis.PauseChannel; ch != "" && a.rdb != nil {
		state := engine.NewPauseState(a.engine, a.rdb, infra.RedisKeyPauseState)
		go a.engine.ListenPauseResilient(bgCtx, a.rdb, ch, func() error {
			return state.Sync(bgCtx)
		})
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("policy API listening",
			zap.String("addr", srv.Addr),
			zap.String("policyHash", a.engine.Fingerprint()),
			zap.Bool("auth", a.cfg.Auth.Enabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("policy API stopping...")
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close сбрасывает счётчики и аудит и закрывает соединения. Порядок обратный сборке.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Persist(context.Background()); err != nil {
			a.logger.Error("persist counters failed", zap.Error(err))
		}
	}
	if a.trail != nil {
		a.trail.Stop()
		a.trail = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
