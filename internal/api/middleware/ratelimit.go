package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/api/response"
	"github.com/kiranshivaraju/visionbench/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit counts requests per API key in aligned one-minute windows kept
// in Redis. Counter failures let the request through.
type RateLimit struct {
	cache cache.Cache
	limit int
	now   func() time.Time
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, limit: requestsPerMin, now: time.Now}
}

// Limit must run after Authenticate; requests without a key prefix pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		opened := rl.now().Truncate(rateWindow)
		resetAt := opened.Add(rateWindow)
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, opened.Unix()), rateWindow)
		if err != nil {
			slog.Warn("rate limit counter unavailable", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-count, 0), 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > int64(rl.limit) {
			wait := max(int(math.Ceil(resetAt.Sub(rl.now()).Seconds())), 1)
			h.Set("Retry-After", strconv.Itoa(wait))
			slog.Warn("rate limit exceeded", "key_prefix", prefix, "count", count, "route", routePattern(r))
			response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests", map[string]any{
				"limit":    rl.limit,
				"reset_at": resetAt.UTC(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
