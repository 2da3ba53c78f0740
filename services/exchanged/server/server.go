package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokenexchange/config"
	"tokenexchange/core/types"
	"tokenexchange/observability"
	"tokenexchange/services/exchanged/journal"
	"tokenexchange/services/exchanged/node"
	feeds "tokenexchange/services/exchanged/oracle"
)

const maxBodyBytes = 1 << 20

// Backend is the exchange node the API drives.
type Backend interface {
	Apply(ctx context.Context, req *types.Request) (*types.Receipt, error)
	Status(ctx context.Context) (node.Status, error)
	Account(ctx context.Context, addr common.Address) (node.Account, error)
	LatestPrice(ctx context.Context) (*uint256.Int, error)
	Version(ctx context.Context) (string, error)
	PublishRate(ctx context.Context, rate *big.Rat) (*types.Receipt, error)
}

// ReceiptReader lists journaled receipts.
type ReceiptReader interface {
	Receipts(ctx context.Context, filter journal.ReceiptFilter) ([]journal.ReceiptRecord, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Backend  Backend
	Receipts ReceiptReader
	Hub      *Hub
	// Manual, when set, receives operator price overrides so the aggregation
	// loop keeps reporting them.
	Manual     *feeds.ManualSource
	Pair       feeds.Pair
	Auth       AuthConfig
	AdminScope string
	RateLimit  config.RateLimit
	// OriginPatterns lists hosts allowed to open the event stream.
	OriginPatterns []string
	ServiceName    string
	Logger         *slog.Logger
}

// Server exposes the exchange over HTTP.
type Server struct {
	backend        Backend
	receipts       ReceiptReader
	hub            *Hub
	manual         *feeds.ManualSource
	pair           feeds.Pair
	auth           *Authenticator
	adminScope     string
	limiter        *RateLimiter
	originPatterns []string
	logger         *slog.Logger
	now            func() time.Time

	router http.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "exchanged"
	}
	origins := cfg.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		backend:        cfg.Backend,
		receipts:       cfg.Receipts,
		hub:            cfg.Hub,
		manual:         cfg.Manual,
		pair:           cfg.Pair,
		auth:           NewAuthenticator(cfg.Auth, logger),
		adminScope:     cfg.AdminScope,
		limiter:        NewRateLimiter(cfg.RateLimit),
		originPatterns: origins,
		logger:         logger,
		now:            time.Now,
	}
	s.router = otelhttp.NewHandler(s.buildRouter(), cfg.ServiceName)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer wraps the handler with the configured listener timeouts.
func (s *Server) HTTPServer(cfg config.Server) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
		IdleTimeout:       cfg.IdleTimeout.Duration,
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Post("/tx", s.handleSubmit)
		api.Get("/exchange", s.handleStatus)
		api.Get("/exchange/price", s.handlePrice)
		api.Get("/exchange/version", s.handleVersion)
		api.Get("/accounts/{address}", s.handleAccount)
		api.Get("/receipts", s.handleReceipts)
		api.Get("/events", s.handleEvents)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.auth.Require(s.adminScope))
		admin.Post("/oracle/price", s.handlePriceOverride)
	})
	return r
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFromContext returns the id assigned to the in-flight request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		s.logger.Debug("http request",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed))
	})
}
