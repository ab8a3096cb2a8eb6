package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"roomRenderAi/internal/render"
	"roomRenderAi/internal/vision"
)

// Handlers groups the HTTP handlers mounted by the server.
type Handlers struct {
	Render render.Handler
	Vision vision.Handler
	// Media serves locally stored renders under /media/. Optional.
	Media http.Handler
}

// Options controls listener timeouts. Renders can take minutes, so the
// write timeout must exceed the upstream timeout.
type Options struct {
	Port         string
	WriteTimeout time.Duration
}

// New constructs the HTTP server with routes and middleware.
func New(opts Options, handlers Handlers, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 4 * time.Minute
	}

	srv := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      NewRouter(handlers, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server ready", zap.String("addr", srv.Addr))
	return srv
}

// NewRouter builds the chi router; split out so tests can drive it directly.
func NewRouter(handlers Handlers, logger *zap.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Route("/api", func(r chi.Router) {
		r.Route("/render", func(r chi.Router) {
			r.Post("/", handlers.Render.Generate)
			r.Post("/prompt", handlers.Render.PreviewPrompt)
			r.Get("/jobs/{clientID}/{jobID}", handlers.Render.JobStatus)
			r.Get("/history", handlers.Render.History)
			r.Get("/events", handlers.Render.StreamEvents)
		})
		r.Route("/vision", func(r chi.Router) {
			r.Post("/analyze", handlers.Vision.Analyze)
		})
	})

	if handlers.Media != nil {
		router.Handle("/media/*", handlers.Media)
	}

	return router
}

// requestLogger replaces chi's stdlib logger with a structured access log.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(started)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
