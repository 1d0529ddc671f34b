package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"log/slog"

	"github.com/saptiva-ai/copilotos/pkg/observability"
	"github.com/saptiva-ai/copilotos/pkg/response"
)

// trustedHosts rejects requests whose Host header is not allow-listed.
// A single "*" entry disables the check.
func trustedHosts(allowed []string) echo.MiddlewareFunc {
	allowAll := len(allowed) == 0
	hosts := make(map[string]bool, len(allowed))
	for _, h := range allowed {
		if h == "*" {
			allowAll = true
		}
		hosts[strings.ToLower(h)] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if allowAll {
				return next(c)
			}
			host := c.Request().Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if !hosts[strings.ToLower(host)] {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid host header")
			}
			return next(c)
		}
	}
}

// cors applies the credentialed CORS policy with origins from the environment.
func cors(origins []string) echo.MiddlewareFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			h := c.Response().Header()
			if origin != "" && (allowAll || allowed[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Vary", "Origin")
			}
			if c.Request().Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// telemetry records a counter and latency histogram per request and logs the
// outcome.
func telemetry(metrics *observability.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			if metrics != nil {
				metrics.RequestsInFlight.Inc()
				defer metrics.RequestsInFlight.Dec()
			}

			err := next(c)

			req := c.Request()
			status := http.StatusOK
			if res, _ := echo.UnwrapResponse(c.Response()); res != nil {
				status = res.Status
			}
			if err != nil {
				status = mapError(err).Status
			}
			duration := time.Since(start)

			if metrics != nil {
				metrics.RequestsTotal.WithLabelValues(req.Method, req.URL.Path, http.StatusText(status)).Inc()
				metrics.RequestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(duration.Seconds())
			}
			slog.Info("HTTP request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
				"duration_ms", float64(duration.Microseconds())/1000)
			return err
		}
	}
}

// noStore forces the no-store header set onto every API response, errors
// included.
func noStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			for key, value := range response.NoStoreHeaders() {
				h.Set(key, value)
			}
			return next(c)
		}
	}
}

// Context keys set by the auth middleware.
const (
	ctxUserID      = "user_id"
	ctxUsername    = "username"
	ctxIsAdmin     = "is_admin"
	ctxAccessToken = "access_token"
)

// bearerAuth validates the access token and attaches the caller's identity.
// Streaming endpoints may pass the token via the "token" query parameter
// because EventSource cannot set headers.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token := ""
			if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := s.auth.ValidateAccess(c.Request().Context(), token)
			if err != nil {
				return err
			}

			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxUsername, claims.Username)
			c.Set(ctxIsAdmin, s.cfg.IsAdminUser(claims.Username))
			c.Set(ctxAccessToken, token)
			return next(c)
		}
	}
}

func userID(c *echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

func isAdmin(c *echo.Context) bool {
	admin, _ := c.Get(ctxIsAdmin).(bool)
	return admin
}

// userRateLimiter is a process-local fixed-window limiter keyed by user (or
// client address for unauthenticated requests). Counts are per replica;
// multi-pod deployments share only the tool-level Redis limiter.
type userRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*rateBucket
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

func newUserRateLimiter(limit int, window time.Duration) *userRateLimiter {
	if limit <= 0 {
		limit = 1000
	}
	if window <= 0 {
		window = time.Hour
	}
	return &userRateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rateBucket),
	}
}

func (l *userRateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &rateBucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// rateLimit enforces the per-user request budget.
func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			key := "user:" + userID(c)
			if userID(c) == "" {
				key = "ip:" + c.Request().RemoteAddr
			}
			if !s.userLimiter.allow(key, time.Now()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "límite de solicitudes alcanzado, intenta más tarde")
			}
			return next(c)
		}
	}
}
