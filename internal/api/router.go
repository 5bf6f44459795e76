package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/session"
)

// NewRouter creates a new HTTP router. limiter may be nil to disable rate limiting.
func NewRouter(cfg *config.Config, sessions *session.Store, auth Authenticator, provisioner Provisioner, limiter *RateLimiter, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.PublicOrigin()},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	gateway := func(r chi.Router) {
		if limiter != nil {
			r.Use(RateLimitMiddleware(limiter))
		}

		r.Get("/login", HandleLogin(sessions, auth))
		r.Get(cfg.CallbackPath, HandleCallback(cfg, sessions, auth))

		// Protected routes
		r.With(RequireLogin(sessions)).Get("/start", HandleStart(provisioner))
	}

	if cfg.BasePath != "" {
		r.Route(cfg.BasePath, gateway)
	} else {
		r.Group(gateway)
	}

	return r
}
