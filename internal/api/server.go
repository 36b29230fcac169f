// Package api serves puzzles, proof verification, circuit artifacts and the
// ledger gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/MJE43/zkpoh/internal/ledger"
	"github.com/MJE43/zkpoh/internal/metrics"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/store"
)

// ProofVerifier is implemented by *verifier.Verifier.
type ProofVerifier interface {
	Verify(proof prover.Proof, publicSignals []string) (bool, error)
}

// LedgerGateway is implemented by *ledger.Gateway.
type LedgerGateway interface {
	Address() string
	Status(ctx context.Context) (ledger.Status, error)
	CreateLedgerIfMissing(ctx context.Context) (ledger.CreateResult, error)
	DepositFund(ctx context.Context, amount decimal.Decimal) (ledger.DepositResult, error)
}

// Store is implemented by *store.Store.
type Store interface {
	Ping(ctx context.Context) error
	SaveAttestation(ctx context.Context, a *store.Attestation) error
	GetAttestation(ctx context.Context, id uuid.UUID) (*store.Attestation, error)
	ListAttestations(ctx context.Context, limit, offset int) ([]store.Attestation, error)
	AttestationStats(ctx context.Context) (store.Stats, error)
	RecordLedgerOp(ctx context.Context, op *store.LedgerOp) error
}

// Options wires a Server. Verifier and Store are required; a nil Ledger
// disables the ledger route and a nil Artifacts disables /zk/.
type Options struct {
	Verifier  ProofVerifier
	Store     Store
	Ledger    LedgerGateway
	Artifacts prover.ArtifactSource
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// Now returns the seed clock for puzzles requested without a seed.
	Now func() time.Time

	// RequestTimeout bounds every request. Defaults to 60s.
	RequestTimeout time.Duration
}

// Server handles HTTP requests
type Server struct {
	opts         Options
	log          zerolog.Logger
	errorHandler *ErrorHandler
	metrics      *metrics.Metrics
	startTime    time.Time

	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	log := opts.Logger.With().Str("component", "api").Logger()
	return &Server{
		opts:         opts,
		log:          log,
		errorHandler: NewErrorHandler(log),
		metrics:      opts.Metrics,
		startTime:    time.Now(),
	}
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.metrics.Middleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(corsMiddleware)

	// Health and monitoring endpoints
	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Circuit artifacts
	r.Get("/zk/{name}", s.handleArtifact)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/puzzles", s.handlePuzzle)
		r.Post("/puzzles/evaluate", s.handleEvaluate)
		r.Post("/validate", s.handleValidate)
		r.Post("/ledger", s.handleLedger)
		r.Get("/attestations", s.handleListAttestations)
		r.Get("/attestations/{id}", s.handleGetAttestation)
	})

	return r
}

// Start binds addr and serves in a goroutine. It returns once the socket is
// bound; use Addr for the resolved address when addr has port 0.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.RequestTimeout + 5*time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.log.Info().Str("addr", s.addr.String()).Msg("server_listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server_failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", Version)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("response_encode_failed")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
