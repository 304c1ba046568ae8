package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra/auth"
)

// Reopener — журнал, который умеет переоткрыть файл после ротации.
type Reopener interface {
	Reopen() error
}

type Options struct {
	// Validator == nil — аутентификация выключена
	Validator auth.TokenValidator
	Gatherer  prometheus.Gatherer
	RateLimit float64 // запросов в секунду, 0 — без ограничения
	RateBurst int
	Logs      Reopener
	Clock     func() time.Time
}

// Server — HTTP-фасад над движком политик.
type Server struct {
	router  *chi.Mux
	engine  *engine.Engine
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter
}

func New(e *engine.Engine, opts Options, logger *zap.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router: chi.NewRouter(),
		engine: e,
		logger: logger.Named("policy-api"),
		opts:   opts,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	authOn := s.opts.Validator != nil

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.opts.Validator, s.logger))
		r.Use(Throttle(s.limiter))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeEvaluate, authOn))
			r.Get("/status", s.handleStatus)
			r.Post("/evaluate", s.handleEvaluate)
			r.Post("/record", s.handleRecord)
			r.Post("/execute", s.handleExecute)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeAdmin, authOn))
			r.Post("/pause", s.handlePause)
			r.Post("/reload", s.handleReload)
			r.Post("/reopen_logs", s.handleReopenLogs)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
