// Package httpapi is the merchant-facing HTTP surface: a thin external
// collaborator that translates JSON requests into payment.Command values
// and hands them to a Submitter, queries engine snapshots for read-only
// listings, and fans state transitions out over webhooks and a WebSocket
// hub. Grounded on kdapp-merchant's server.rs (axum + a single shared
// AppState), reworked onto go-chi/chi since the host stack standardizes on
// it for HTTP routing.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/metrics"
	"github.com/kasperience/kdapp-sub000/watcher"
)

// Config bundles Server's construction-time dependencies. EpisodeID is the
// single merchant episode this deployment serves (spec.md's demo topology
// keeps one receipt episode per merchant, matching server.rs's AppState).
type Config struct {
	EpisodeID   episode.ID
	APIKey      string
	Submitter   Submitter
	MerchantKey *btcec.PrivateKey
	MerchantPub episode.PubKey
	Watcher     *watcher.Watcher
	Hub         *Hub
	Webhook     *WebhookSender
	Metrics     *metrics.HTTPMetrics
	Logger      *zap.Logger
	Invoices    InvoiceReader
	CORSOrigins []string
}

// InvoiceReader is the read-side query seam: a snapshot accessor over the
// running payment engine, narrowed to what the list/query handlers need so
// this package does not have to import engine.Engine's full generic type.
type InvoiceReader interface {
	Invoices() (map[uint64]InvoiceView, bool)
	Subscriptions() (map[uint64]SubscriptionView, bool)
}

// InvoiceView and SubscriptionView are read-only projections of
// payment.Invoice/payment.Subscription, decoupling the JSON wire shape from
// the engine's internal state type.
type InvoiceView struct {
	ID         uint64
	Amount     uint64
	Memo       string
	Status     string
	Payer      episode.PubKey
	CreatedAt  uint64
	LastUpdate uint64
}

type SubscriptionView struct {
	ID       uint64
	Customer episode.PubKey
	Amount   uint64
	Interval uint64
	NextRun  uint64
}

// Server wires a chi router over Config's collaborators.
type Server struct {
	cfg    Config
	logger *zap.Logger
	router chi.Router
}

// NewServer builds the routed handler. Call Router() to obtain the
// http.Handler for use with an http.Server, or ListenAndServe for a
// ready-made blocking server with graceful shutdown on ctx cancellation.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		}))
	}

	r.Handle("/metrics", promhttp.Handler())
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeHTTP)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(apiKeyAuth(cfg.APIKey, cfg.Metrics))
		pr.Post("/invoice", s.handleCreateInvoice)
		pr.Post("/pay", s.handlePayInvoice)
		pr.Post("/ack", s.handleAckInvoice)
		pr.Post("/cancel", s.handleCancelInvoice)
		pr.Post("/subscribe", s.handleCreateSubscription)
		pr.Get("/invoices", s.handleListInvoices)
		pr.Get("/subscriptions", s.handleListSubscriptions)
		pr.Get("/watcher-config", s.handleGetWatcherConfig)
		pr.Post("/watcher-config", s.handleSetWatcherConfig)
		pr.Post("/watcher-config/{op_id}/rollback", s.handleRollbackWatcherConfig)
		pr.Get("/mempool-metrics", s.handleMempoolMetrics)
	})

	s.router = r
	return s
}

// Router exposes the underlying http.Handler.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe runs an http.Server bound to addr until ctx is cancelled,
// then shuts it down gracefully (5s budget), mirroring the engine's own
// ctx-driven Run/shutdown shape (spec §5) at the transport layer.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("httpapi: graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestsTotal.WithLabelValues(r.URL.Path, statusClass(ww.Status())).Inc()
		}
	})
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "2xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
