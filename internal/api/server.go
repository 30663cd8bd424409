// Package api exposes the reference-data engine over HTTP. Handlers decode
// requests, call the engine and map the error taxonomy to status codes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/baseline"
	"github.com/sells-group/refdata/internal/refdata"
)

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	engine   *refdata.Engine
	baseline *baseline.Bridge
	origins  []string
	maxBody  int64
}

// DefaultMaxBaselineBytes caps the size of an imported baseline document.
const DefaultMaxBaselineBytes = 32 << 20

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS allow-list. The default allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithMaxBaselineBytes caps the baseline import request body.
func WithMaxBaselineBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New creates a Server over engine.
func New(engine *refdata.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		baseline: baseline.New(engine),
		origins:  []string{"*"},
		maxBody:  DefaultMaxBaselineBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/facets", func(r chi.Router) {
		r.Get("/", s.listFacets)
		r.Route("/{facet}", func(r chi.Router) {
			r.Get("/values", s.listValues)
			r.Post("/values", s.createValue)
			r.Delete("/values/{id}", s.deactivateValue)
			r.Post("/values/{id}/aliases", s.addAlias)
			r.Delete("/values/{id}/aliases/{aliasID}", s.removeAlias)
			r.Post("/values/{id}/approve", s.approve)
			r.Post("/values/{id}/reject", s.reject)
			r.Get("/discover", s.discover)
			r.Post("/suggestions", s.saveSuggestions)
			r.Get("/resolve", s.resolve)
		})
	})

	r.Route("/baseline", func(r chi.Router) {
		r.Post("/export", s.exportBaseline)
		r.Post("/import", s.importBaseline)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
