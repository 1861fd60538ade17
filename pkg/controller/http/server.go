package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/usecase"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

// LegalUseCase answers one user turn
type LegalUseCase interface {
	Ask(ctx context.Context, input usecase.AskInput) *model.ResearchResult
}

// MemoryUseCase exposes the conversation ledger
type MemoryUseCase interface {
	GetAdvancedMemoryStats(ctx context.Context, chatID types.ChatID, userID types.UserID) *usecase.MemoryStats
	ClearChatMemory(ctx context.Context, chatID types.ChatID, userID types.UserID) error
	UpdatePreferences(ctx context.Context, chatID types.ChatID, userID types.UserID, prefs model.UserPreferences) (model.UserPreferences, error)
	GetQualityMetrics(ctx context.Context, userID types.UserID) *usecase.QualityReport
}

type Server struct {
	router         *chi.Mux
	legalUC        LegalUseCase
	memoryUC       MemoryUseCase
	gatherer       prometheus.Gatherer
	requestTimeout time.Duration
	chunkDelay     time.Duration
}

type Options func(*Server)

// WithGatherer replaces the registry served at /metrics
func WithGatherer(g prometheus.Gatherer) Options {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithRequestTimeout bounds a research request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Options {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithChunkDelay paces the streamed answer
func WithChunkDelay(d time.Duration) Options {
	return func(s *Server) {
		s.chunkDelay = d
	}
}

func New(legalUC LegalUseCase, memoryUC MemoryUseCase, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:         r,
		legalUC:        legalUC,
		memoryUC:       memoryUC,
		gatherer:       prometheus.DefaultGatherer,
		requestTimeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(requestMetrics)

		r.Route("/research", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Use(s.timeout)
			r.Post("/", researchHandler(s.legalUC))
			r.Post("/stream", streamHandler(s.legalUC, s.chunkDelay))
		})

		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Get("/memory", memoryStatsHandler(s.memoryUC))
			r.Delete("/memory", clearMemoryHandler(s.memoryUC))
			r.Put("/preferences", preferencesHandler(s.memoryUC))
		})

		r.Get("/users/{userID}/quality", qualityHandler(s.memoryUC))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) timeout(next http.Handler) http.Handler {
	if s.requestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
