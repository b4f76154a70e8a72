package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/temporal"
	"github.com/brojonat/walletcore/service/wallet"
)

// Networks returns the network serving each enabled blockchain.
// *networks.Set implements it.
type Networks interface {
	Get(b chain.Blockchain) (wallet.Network, error)
	Blockchains() []chain.Blockchain
}

// Server represents the HTTP server for the wallet service.
type Server struct {
	addr         string
	cfg          *config.Config
	wallets      *wallet.Registry
	networks     Networks
	sink         wallet.EventSink
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	sessions     *sessionStore
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The sink receives wallet events and may be nil.
// The scheduler is optional - if nil, wallets are only refreshed on request.
// The ssePublisher is optional - if nil, streams are served from the wallet
// managers in this process.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, wallets *wallet.Registry, networks Networks, sink wallet.EventSink, scheduler temporal.Scheduler, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:         addr,
		cfg:          cfg,
		wallets:      wallets,
		networks:     networks,
		sink:         sink,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		sessions:     newSessionStore(cfg.SignSessionTTL),
		metrics:      m,
		logger:       logger.With("component", "http_server"),
	}
}

// Handler returns the routed handler with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Chains
	route("GET /api/v1/chains", handleListChains(s.networks, s.cfg))

	// Wallet routes
	route("POST /api/v1/wallets", handleRegisterWallet(s.wallets, s.networks, s.sink, s.scheduler, s.cfg, s.metrics, s.logger))
	route("GET /api/v1/wallets", handleListWallets(s.wallets))
	route("GET /api/v1/wallets/{blockchain}/{address}", handleGetWallet(s.wallets, s.logger))
	route("DELETE /api/v1/wallets/{blockchain}/{address}", handleUnregisterWallet(s.wallets, s.scheduler, s.logger))
	route("POST /api/v1/wallets/{blockchain}/{address}/refresh", handleRefreshWallet(s.wallets, s.logger))
	route("GET /api/v1/wallets/{blockchain}/{address}/fees", handleGetFees(s.wallets, s.cfg, s.logger))
	route("GET /api/v1/wallets/{blockchain}/{address}/history", handleHistory(s.wallets, s.cfg, s.logger))

	// Signing flow
	route("POST /api/v1/wallets/{blockchain}/{address}/transactions", handlePrepareTransaction(s.wallets, s.sessions, s.cfg, s.logger))
	route("POST /api/v1/sessions/{id}/signatures", handleSubmitSignatures(s.sessions, s.logger))

	// SSE streaming endpoints
	route("GET /api/v1/stream/wallets/{blockchain}/{address}", handleStreamWallet(s.wallets, s.ssePublisher, s.metrics, s.logger))
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/wallets", handleStreamWallet(s.wallets, s.ssePublisher, s.metrics, s.logger))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.ssePublisher != nil {
		s.logger.Info("SSE streams served from NATS")
	} else {
		s.logger.Warn("SSE publisher not configured, streams only cover wallets in this process")
	}

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
