package httpx

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines a coarse token-bucket throttle. It sits in front
// of handlers to blunt floods; the per-identifier attempt budgets of the
// login and recovery flows live in pkg/ratelimit.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Profiles groups the throttle tiers handed to the router.
type Profiles struct {
	// Strict guards token consumption endpoints.
	Strict RateLimitConfig
	// Moderate guards authenticated writes and refresh.
	Moderate RateLimitConfig
	// Lenient guards login and authenticated reads.
	Lenient RateLimitConfig
	// Public guards health checks.
	Public RateLimitConfig
}

// DefaultProfiles returns the built-in tiers.
func DefaultProfiles() Profiles {
	return Profiles{
		Strict:   RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5},
		Moderate: RateLimitConfig{RequestsPerWindow: 20, Window: time.Minute, Burst: 20},
		Lenient:  RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100},
		Public:   RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000},
	}
}

// ProfilesFromEnv applies RATELIMIT_{STRICT,MODERATE,LENIENT,PUBLIC}_*
// overrides from getenv on top of base.
func ProfilesFromEnv(getenv func(string) string, base Profiles) Profiles {
	return Profiles{
		Strict:   ParseRateLimitFromEnv(getenv, "STRICT", base.Strict),
		Moderate: ParseRateLimitFromEnv(getenv, "MODERATE", base.Moderate),
		Lenient:  ParseRateLimitFromEnv(getenv, "LENIENT", base.Lenient),
		Public:   ParseRateLimitFromEnv(getenv, "PUBLIC", base.Public),
	}
}

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}_REQUESTS, _WINDOW_SEC and
// _BURST. Missing, unparsable or non-positive values keep the default.
func ParseRateLimitFromEnv(getenv func(string) string, prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	positive := func(name string) (int, bool) {
		v, err := strconv.Atoi(getenv("RATELIMIT_" + prefix + "_" + name))
		return v, err == nil && v > 0
	}

	if v, ok := positive("REQUESTS"); ok {
		config.RequestsPerWindow = v
	}
	if v, ok := positive("WINDOW_SEC"); ok {
		config.Window = time.Duration(v) * time.Second
	}
	if v, ok := positive("BURST"); ok {
		config.Burst = v
	}
	return config
}

// KeyExtractor extracts the throttling key from a request.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys by client address.
func IPKeyExtractor(r *http.Request) string {
	return ClientIP(r)
}

// UserIDKeyExtractor keys by the authenticated subject, or "" when the
// request is anonymous.
func UserIDKeyExtractor(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// CompositeKeyExtractor joins the non-empty outputs of extractors with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

const cleanupEvery = 5 * time.Minute

// throttle holds one token bucket per key.
type throttle struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func (t *throttle) limiter(key string) *rate.Limiter {
	if l, ok := t.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	actual, _ := t.limiters.LoadOrStore(key, rate.NewLimiter(t.rate, t.burst))
	t.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that have refilled completely; a full bucket
// means the key has been idle and a fresh one behaves identically.
func (t *throttle) maybeCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCleanup) < cleanupEvery {
		return
	}
	t.lastCleanup = time.Now()

	t.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(t.burst) {
			t.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware throttles requests grouped by keyExtractor. Denied
// requests get 429 with Retry-After and X-RateLimit-Reset.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor) Middleware {
	t := &throttle{
		rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyExtractor(r)
			if key == "" {
				log.Warn("throttle: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			l := t.limiter(key)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			// Peek at when the next token lands without consuming it.
			res := l.Reserve()
			delay := res.Delay()
			res.Cancel()

			retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
			resetAt := time.Now().Add(time.Duration(retryAfter) * time.Second).UTC()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			log.Warn("throttle exceeded",
				"key", key,
				"path", r.URL.Path,
				"retry_after_sec", retryAfter,
			)

			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please try again later.",
				"reset_at":          resetAt.Format(time.RFC3339),
			})
		})
	}
}

// RateLimitByIP throttles by client address.
func RateLimitByIP(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, IPKeyExtractor)
}

// RateLimitByUser throttles by authenticated user and address. Must run
// after AuthnMiddleware to see the user.
func RateLimitByUser(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, CompositeKeyExtractor(":",
		UserIDKeyExtractor,
		IPKeyExtractor,
	))
}
