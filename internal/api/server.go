// Package api exposes the engine over HTTP: batch ingestion, profile lookup
// and the cohort membership projection. Ingestion is acknowledged as soon as
// the raw records are durably logged; resolution and classification run on
// the background pool.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/dispatch"
	"github.com/sells-group/audience-engine/internal/resolver"
	"github.com/sells-group/audience-engine/internal/store"
)

// Server wires the HTTP boundary to the engine.
type Server struct {
	store    store.Store
	resolver *resolver.Resolver
	pool     *dispatch.Pool
	srv      *http.Server
}

// New builds a Server listening on the given port.
func New(s store.Store, r *resolver.Resolver, p *dispatch.Pool, port int) *Server {
	srv := &Server{
		store:    s,
		resolver: r,
		pool:     p,
	}
	srv.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Router assembles the chi router. Exposed so tests can drive handlers
// without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/user", s.handleGetUser)
		r.Get("/cohort/users", s.handleCohortUsers)
	})
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("api: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("api: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("api: starting server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}
