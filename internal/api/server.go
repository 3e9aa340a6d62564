package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/DoubanLink/internal/auth"
	"github.com/JustinTDCT/DoubanLink/internal/catalog"
	"github.com/JustinTDCT/DoubanLink/internal/httputil"
	"github.com/JustinTDCT/DoubanLink/internal/models"
)

type CatalogService interface {
	Catalog(ctx context.Context, req catalog.CatalogRequest) (*catalog.CatalogResponse, error)
	Meta(ctx context.Context, id string) (*catalog.Meta, error)
	Manifest(ctx context.Context, ids []string) []catalog.ManifestCatalog
}

type MappingStore interface {
	Get(ctx context.Context, sourceID int64) (*models.IDMapping, error)
	ManualEdit(ctx context.Context, m models.IDMapping) (*models.IDMapping, error)
	FindSourceIDs(ctx context.Context, tmdbID *int64, imdbID string) ([]int64, error)
}

type Deps struct {
	Catalog  CatalogService
	Mappings MappingStore
	Version  string
	Logger   *log.Logger

	// Auth nil disables the admin API.
	Auth *auth.Auth

	// TriggerSweep starts a recalibration sweep in the background.
	TriggerSweep func(limit int)

	// Health reports backing store reachability.
	Health func(ctx context.Context) error
}

type Server struct {
	catalog      CatalogService
	mappings     MappingStore
	auth         *auth.Auth
	triggerSweep func(limit int)
	health       func(ctx context.Context) error
	version      string
	logger       *log.Logger
	router       *http.ServeMux
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	s := &Server{
		catalog:      d.Catalog,
		mappings:     d.Mappings,
		auth:         d.Auth,
		triggerSweep: d.TriggerSweep,
		health:       d.Health,
		version:      d.Version,
		logger:       d.Logger,
		router:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Addon protocol
	s.router.HandleFunc("GET /manifest.json", s.handleManifest)
	s.router.HandleFunc("GET /catalog/{type}/{id}", s.handleCatalog)
	s.router.HandleFunc("GET /catalog/{type}/{id}/{extra}", s.handleCatalog)
	s.router.HandleFunc("GET /meta/{type}/{id}", s.handleMeta)
	s.router.HandleFunc("GET /health", s.handleHealth)

	// Admin
	s.router.HandleFunc("GET /api/v1/douban_id", s.admin(s.handleReverseLookup))
	s.router.HandleFunc("GET /api/v1/mappings/{sourceId}", s.admin(s.handleGetMapping))
	s.router.HandleFunc("PUT /api/v1/mappings/{sourceId}", s.admin(s.handleUpdateMapping))
	s.router.HandleFunc("POST /api/v1/sweep", s.admin(s.handleSweep))
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			s.respondError(w, http.StatusServiceUnavailable, "admin API is disabled")
		}
	}
	return s.auth.RequireAdmin(next)
}

// Handler wraps the router with global middleware: request log → CORS → handler.
func (s *Server) Handler() http.Handler {
	return s.requestLogMiddleware(s.corsMiddleware(s.router))
}

// ──────────────────── Helpers ────────────────────

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	httputil.WriteJSON(w, statusCode, data)
}

func (s *Server) respondOK(w http.ResponseWriter, data interface{}) {
	httputil.WriteOK(w, http.StatusOK, data)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	httputil.WriteError(w, statusCode, message)
}

// ──────────────────── Middleware ────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogMiddleware tags each request with an X-Request-ID and logs it.
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("[http] %s %s %s %d %s", id, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

// corsMiddleware opens every route to any origin; addon clients load the
// manifest cross-origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
