package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ezifydevelopers/trainingportal-chat/internal/metrics"
	"github.com/ezifydevelopers/trainingportal-chat/internal/store"
)

// RateLimit defines a fixed-window limit for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter implements fixed-window rate limiting backed by Redis.
// Limits key on the authenticated user when present, the remote address
// otherwise.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
	limits map[string]RateLimit
}

// NewRateLimiter creates a rate limiter with per-endpoint chat limits.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /chat/send":                     {30, time.Minute},
			"GET /chat/rooms":                     {120, time.Minute},
			"GET /chat/rooms/":                    {120, time.Minute},
			"POST /chat/rooms/":                   {60, time.Minute},
			"GET /chat/unread-count":              {60, time.Minute},
			"GET /chat/users":                     {60, time.Minute},
			"GET /chat/direct/":                   {60, time.Minute},
			"DELETE /chat/messages/":              {30, time.Minute},
			"POST /chat/messages/delete-multiple": {10, time.Minute},
			"DELETE /chat/rooms/":                 {10, time.Minute},
		},
	}
}

// Middleware enforces the configured limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, pattern, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.redis.IncrementRateLimit(r.Context(), rl.key(r, pattern), limit.Window)
		if err != nil {
			// Redis trouble must not take the API down with it.
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit.Requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > limit.Requests {
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(r *http.Request) (RateLimit, string, bool) {
	exact := r.Method + " " + r.URL.Path
	if limit, ok := rl.limits[exact]; ok {
		return limit, exact, true
	}
	for pattern, limit := range rl.limits {
		parts := strings.SplitN(pattern, " ", 2)
		if len(parts) != 2 || parts[0] != r.Method {
			continue
		}
		if strings.HasSuffix(parts[1], "/") && strings.HasPrefix(r.URL.Path, parts[1]) {
			return limit, pattern, true
		}
	}
	return RateLimit{}, "", false
}

func (rl *RateLimiter) key(r *http.Request, pattern string) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return pattern + ":user:" + strconv.FormatInt(user.ID, 10)
	}
	return pattern + ":ip:" + r.RemoteAddr
}
