package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/auth"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/device"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/restaurant"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/token"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Pinger reports database reachability for /readyz. *sqlx.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps carries everything the router mounts. Nil Session, Metrics and
// LoginLimit disable the corresponding routes or middleware.
type Deps struct {
	Logger         *zap.SugaredLogger
	DB             Pinger
	Restaurants    *restaurant.Handler
	Devices        *device.Handler
	Auth           *auth.Handler
	Audit          *audit.Handler
	Session        *token.Handler
	Metrics        *metrics.Metrics
	LoginLimit     func(http.Handler) http.Handler
	OperatorKey    string
	OnboardingKey  string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level, and server errors at
// warn level, with the chi request id.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"size", lrw.size,
				"request_id", chimiddleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				logger.Warnw("http request", fields...)
				return
			}
			logger.Debugw("http request", fields...)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers for a JSON API.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperator admits requests carrying "Authorization: Bearer <key>".
// With an empty key every request is refused.
func RequireOperator(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := token.BearerToken(r)
			if key == "" || !ok || !auth.ConstantTimeEqual(got, key) {
				utilities.WriteError(w, apperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOnboardingKey checks the X-Onboarding-Key header when key is set.
func RequireOnboardingKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.ConstantTimeEqual(r.Header.Get("X-Onboarding-Key"), key) {
				utilities.WriteError(w, apperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// New mounts every HTTP route on a chi router.
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(d.Metrics.Instrument)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Onboarding-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.DB == nil {
			utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.PingContext(ctx); err != nil {
			logger.Warnw("readiness check failed", "err", err)
			utilities.WriteError(w, apperr.Transient("readyz", err))
			return
		}
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(timeout))

		r.With(RequireOnboardingKey(d.OnboardingKey)).Post("/register", d.Restaurants.Register)
		r.Post("/handshake", d.Devices.Handshake)
		r.Post("/heartbeat", d.Devices.Heartbeat)
		if d.LoginLimit != nil {
			r.With(d.LoginLimit).Post("/login", d.Auth.Login)
		} else {
			r.Post("/login", d.Auth.Login)
		}
		if d.Session != nil {
			r.Get("/session", d.Session.Session)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireOperator(d.OperatorKey))
			r.Get("/audit-log", d.Audit.List)
			r.Route("/restaurants/{uid}", func(r chi.Router) {
				r.Get("/", d.Restaurants.Get)
				r.Put("/credentials", d.Restaurants.SetCredentials)
				r.Post("/unlock", d.Auth.Unlock)
				r.Post("/deactivate", d.Restaurants.Deactivate)
				r.Post("/reactivate", d.Restaurants.Reactivate)
				r.Get("/devices", d.Devices.List)
			})
			r.Post("/devices/{registration_id}/offline", d.Devices.MarkOffline)
		})
	})
	return r
}
