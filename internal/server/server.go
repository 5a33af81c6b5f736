// Package server provides the HTTP API for tanya.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/service"
)

// UserHeader carries the caller's identity, set by an authenticating proxy.
const UserHeader = "X-User-ID"

// Server is the HTTP server for the tanya API.
type Server struct {
	svc            *service.Service
	config         *config.ServerConfig
	maxUploadBytes int64
	logger         *zap.Logger
	server         *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc *service.Service, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:            svc,
		config:         &cfg.Server,
		maxUploadBytes: cfg.Ingest.MaxUploadBytes,
		logger:         logger,
	}
}

// Router returns the API routes. Streaming routes skip the timeout and compression middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))
			r.Use(middleware.Compress(5))

			r.Post("/documents", s.handleUpload)
			r.Get("/documents", s.handleListDocuments)
			r.Get("/documents/{fileID}", s.handleGetDocument)
			r.Delete("/documents/{fileID}", s.handleDeleteDocument)
			r.Post("/index/rebuild", s.handleRebuild)
			r.Post("/query", s.handleQuery)
			r.Get("/history", s.handleHistory)
			r.Delete("/history", s.handleClearHistory)
			r.Delete("/data", s.handleDeleteUserData)
		})

		r.Post("/query/stream", s.handleQueryStream)
		r.Get("/query/ws", s.handleQueryWS)
	})
	return r
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.RequestTimeout > 0 {
		return s.config.RequestTimeout
	}
	return 2 * time.Minute
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type userKey struct{}

// requireUser rejects requests without a user id and stores it in the request context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + UserHeader + " header", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
