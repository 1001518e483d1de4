// Package server provides the HTTP API for the capture pipeline:
// capture endpoints, item and job reads, comparisons, and the credit
// usage view. Authentication is delegated to the fronting proxy, which
// injects the verified user ID as a request header.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/citestack/citestack-worker/internal/config"
	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
	"github.com/citestack/citestack-worker/internal/service"
)

// UserIDHeader carries the authenticated user, set by the fronting proxy
const UserIDHeader = "X-User-ID"

// AdminSecretHeader gates the operational endpoints
const AdminSecretHeader = "X-Admin-Secret"

// CaptureAPI is the capture service surface the handlers call
type CaptureAPI interface {
	CaptureURL(ctx context.Context, userID, rawURL string, collectionID *string) (*service.CaptureResult, error)
	CapturePaste(ctx context.Context, userID, text string, title, collectionID *string) (*service.CaptureResult, error)
	CaptureFile(ctx context.Context, userID, filename, mimeType string, data []byte, collectionID *string) (*service.CaptureResult, error)
	ReEnrich(ctx context.Context, userID, itemID string) (*service.CaptureResult, error)
	Compare(ctx context.Context, userID string, itemIDs []string) (*models.Comparison, *repository.InsufficientCreditsError, error)
}

// ItemReader loads items for the read endpoints
type ItemReader interface {
	GetOwned(ctx context.Context, userID, itemID string) (*models.Item, error)
}

// JobReader serves the job read endpoints
type JobReader interface {
	GetByID(ctx context.Context, jobID string) (*models.Job, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Job, error)
}

// ComparisonReader loads comparisons for the read endpoints
type ComparisonReader interface {
	GetOwned(ctx context.Context, userID, id string) (*models.Comparison, error)
}

// CreditReader serves the account usage view and admin grants
type CreditReader interface {
	GetBalance(ctx context.Context, userID string) (*repository.Balance, error)
	ListLedger(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	Grant(ctx context.Context, userID string, amount int64, reason string, refs repository.EntryRefs) error
}

// IdempotencyStore caches capture responses per (user, key)
type IdempotencyStore interface {
	Get(ctx context.Context, userID, key string) (*models.IdempotencyRecord, error)
	Put(ctx context.Context, userID, key string, status int, body []byte) error
}

// QueueRunner drains one batch of due jobs on demand
type QueueRunner interface {
	RunOnce(ctx context.Context) error
}

// Server is the HTTP API server
type Server struct {
	capture     CaptureAPI
	items       ItemReader
	jobs        JobReader
	comparisons ComparisonReader
	credits     CreditReader
	idempotency IdempotencyStore
	runner      QueueRunner
	cfg         *config.Config
	server      *http.Server
}

func New(
	capture CaptureAPI,
	items ItemReader,
	jobs JobReader,
	comparisons ComparisonReader,
	credits CreditReader,
	idempotency IdempotencyStore,
	runner QueueRunner,
	cfg *config.Config,
) *Server {
	return &Server{
		capture:     capture,
		items:       items,
		jobs:        jobs,
		comparisons: comparisons,
		credits:     credits,
		idempotency: idempotency,
		runner:      runner,
		cfg:         cfg,
	}
}

// Router builds the chi router with all API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/api/capture/url", s.withIdempotency(s.handleCaptureURL))
		r.Post("/api/capture/paste", s.withIdempotency(s.handleCapturePaste))
		r.Post("/api/capture/file", s.withIdempotency(s.handleCaptureFile))

		r.Get("/api/items/{id}", s.handleGetItem)
		r.Post("/api/items/{id}/re-enrich", s.handleReEnrich)

		r.Post("/api/compare", s.handleCompare)
		r.Get("/api/comparisons/{id}", s.handleGetComparison)

		r.Get("/api/jobs", s.handleListJobs)
		r.Get("/api/jobs/{id}", s.handleGetJob)
		r.Get("/api/account/usage", s.handleAccountUsage)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Post("/api/admin/jobs/run", s.handleRunJobs)
		r.Post("/api/admin/credits/grant", s.handleAdminGrant)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}
	log.Printf("Starting API server on %s", s.cfg.ListenAddr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requireUser rejects requests without the proxy-injected user header
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserIDHeader) == "" {
			respondError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin gates operational endpoints behind the shared secret.
// With no secret configured the endpoints are disabled outright.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminSecret == "" || r.Header.Get(AdminSecretHeader) != s.cfg.AdminSecret {
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(UserIDHeader)
}
