package handlers

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	geminichat "github.com/MegaGrindStone/gemini-chat"
	"github.com/MegaGrindStone/gemini-chat/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewRouter wires the page, chat, relay and operational routes of m. The relay endpoint answers CORS
// requests from relayOrigins.
func NewRouter(m Main, relayOrigins []string, logger *slog.Logger) (http.Handler, error) {
	staticFS, err := fs.Sub(geminichat.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(metricsMiddleware)

	relayCORS := cors.New(cors.Options{
		AllowedOrigins: relayOrigins,
		AllowedMethods: []string{http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/", m.HandleHome)
	r.Post("/chat", m.HandleChats)
	r.Post("/chat/clear", m.HandleClear)
	r.Post("/chat/credential", m.HandleCredential)
	r.Post("/chat/credential/forget", m.HandleForgetCredential)
	r.Get("/sse", m.HandleSSE)

	// All methods reach the handler, which answers non-POST requests itself with a JSON envelope.
	r.With(relayCORS.Handler).HandleFunc("/relay", m.HandleRelay)

	r.Get("/health", m.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r, nil
}

// requestLogger logs one line per request. Bodies and query strings are never logged, so credentials
// don't end up in the logs.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("module", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("Request completed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Duration("latency", time.Since(start)),
					slog.String("requestID", chimw.GetReqID(r.Context())),
					slog.String("remoteAddr", r.RemoteAddr))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// metricsMiddleware records request counts and durations labelled by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
