// Package api exposes the ledger over HTTP.
//
// Mutating routes require the caller to sign SigningMessage, which binds the
// method, request URI, X-Timestamp (unix seconds), X-Nonce and raw body.
// X-Signer carries the base58 public key and X-Signature the base58 ed25519
// signature. Timestamps outside the signature window and nonces already used
// by the same signer are rejected. Masscall co-signers are passed as repeated
// X-Cosigner headers of the form "<pubkey>.<signature>" over the same message.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/ledger"
	"dextra-ledger/internal/observability"
	"dextra-ledger/internal/storage"
	"dextra-ledger/internal/storage/memory"
)

// StatsProvider returns the most recent pool statistics.
type StatsProvider interface {
	Last() []ledger.PoolStats
}

// Options for creating a Server.
type Options struct {
	Engine  *ledger.Engine
	Events  http.Handler // websocket endpoint; nil disables /v1/events
	Stats   StatsProvider
	Metrics http.Handler // nil disables /metrics
	Logger  logrus.FieldLogger

	// Nonces records used request nonces; nil keeps them in memory.
	Nonces          storage.NonceStore
	// SignatureWindow is the accepted X-Timestamp drift; zero means DefaultSignatureWindow.
	SignatureWindow time.Duration
	// Now overrides the clock used for timestamp checks.
	Now             func() time.Time
}

// Server is the HTTP API.
type Server struct {
	engine  *ledger.Engine
	events  http.Handler
	stats   StatsProvider
	metrics http.Handler
	logger  logrus.FieldLogger
	router  *mux.Router

	nonces storage.NonceStore
	window time.Duration
	now    func() time.Time

	httpServer *http.Server
}

// NewServer creates a Server and its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		engine:  opts.Engine,
		events:  opts.Events,
		stats:   opts.Stats,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		nonces:  opts.Nonces,
		window:  opts.SignatureWindow,
		now:     opts.Now,
	}
	if s.nonces == nil {
		s.nonces = memory.NewNonceStore()
	}
	if s.window <= 0 {
		s.window = DefaultSignatureWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = observability.Handler()
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.logger = s.logger.WithField("component", "api")
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	if s.events != nil {
		r.Handle("/v1/events", s.events).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()

	// Queries
	api.HandleFunc("/protocol", s.getProtocol).Methods(http.MethodGet)
	api.HandleFunc("/protocol/admins/{user}", s.isAdmin).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	api.HandleFunc("/pools", s.listPools).Methods(http.MethodGet)
	api.HandleFunc("/pools/count", s.poolCount).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}", s.getPool).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/rate-apy", s.rateAndAPY).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/users/{user}", s.userInfo).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/users/{user}/deposits/count", s.depositCount).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/users/{user}/deposits/{index:[0-9]+}", s.depositInfo).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/users/{user}/withdrawable", s.withdrawable).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id:[0-9]+}/users/{user}/claimable", s.claimable).Methods(http.MethodGet)

	// Signed operations
	signed := api.Methods(http.MethodPost, http.MethodPut).Subrouter()
	signed.Use(s.signerMiddleware)

	signed.HandleFunc("/initialize", s.initialize).Methods(http.MethodPost)
	signed.HandleFunc("/pools", s.addPool).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}", s.updatePool).Methods(http.MethodPut)
	signed.HandleFunc("/pools/{id:[0-9]+}/rate", s.updateRate).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}/apy", s.updateAPY).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}/deposit", s.deposit).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}/withdraw", s.withdraw).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}/claim", s.claim).Methods(http.MethodPost)
	signed.HandleFunc("/pools/{id:[0-9]+}/swap", s.swap).Methods(http.MethodPost)
	signed.HandleFunc("/approve", s.approve).Methods(http.MethodPost)
	signed.HandleFunc("/flags", s.setFlag).Methods(http.MethodPost)
	signed.HandleFunc("/governance", s.setGovernance).Methods(http.MethodPost)
	signed.HandleFunc("/referral-bps", s.setReferralBPS).Methods(http.MethodPost)
	signed.HandleFunc("/masscall", s.masscall).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "NotFound", "route not found")
	})
	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("api listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
