// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"crypto/subtle"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scottwelch968/Spork-V2-sub004/internal/metrics"
)

// ============================================================================
// Authentication Middleware
// ============================================================================

type tokenKey struct{}

// TokenFrom returns the bearer token the request authenticated with.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// BearerTokens lists accepted tokens. Empty accepts any non-empty token.
	BearerTokens []string

	// PublishableKey must match the apikey header when set.
	PublishableKey string
}

// AuthMiddleware returns HTTP middleware that checks the bearer token and
// the publishable key. The accepted token is stored in the request context
// for the rate limiter and the credit ledger.
//
// Returns 401 Unauthorized if authentication fails.
func AuthMiddleware(cfg AuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deny := func(reason string) {
				logger.Warn().
					Str("reason", reason).
					Str("path", r.URL.Path).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("auth denied")
				writeError(w, http.StatusUnauthorized, "unauthorized")
			}

			if cfg.PublishableKey != "" && !ValidateBearerToken(r.Header.Get("apikey"), cfg.PublishableKey) {
				deny("invalid_apikey")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				deny("missing_bearer")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				deny("empty_token")
				return
			}

			if len(cfg.BearerTokens) > 0 {
				ok := false
				for _, expected := range cfg.BearerTokens {
					if ValidateBearerToken(token, expected) {
						ok = true
					}
				}
				if !ok {
					deny("invalid_token")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, token)))
		})
	}
}

// ValidateBearerToken compares tokens in constant time.
// Returns false if either token is empty.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// Rate Limiting Middleware
// ============================================================================

// limiterIdle is how long an unused per-token limiter is kept.
const limiterIdle = 10 * time.Minute

type tokenLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per bearer token.
type RateLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*tokenLimiter
	sweepAt  time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests with
// bursts of burst. A zero rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*tokenLimiter),
	}
}

// SetLimits changes the rate for every current and future token.
func (rl *RateLimiter) SetLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rps = rate.Limit(rps)
	rl.burst = burst
	for _, tl := range rl.limiters {
		tl.lim.SetLimit(rl.rps)
		tl.lim.SetBurst(burst)
	}
}

// Reserve takes one request from key's bucket. It returns zero when the
// request may proceed, or how long the caller should wait.
func (rl *RateLimiter) Reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rps <= 0 {
		return 0
	}

	now := time.Now()
	rl.sweep(now)

	tl, ok := rl.limiters[key]
	if !ok {
		tl = &tokenLimiter{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = tl
	}
	tl.lastSeen = now

	res := tl.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

// sweep drops idle limiters at most once a minute.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Before(rl.sweepAt) {
		return
	}
	rl.sweepAt = now.Add(time.Minute)
	for key, tl := range rl.limiters {
		if now.Sub(tl.lastSeen) > limiterIdle {
			delete(rl.limiters, key)
		}
	}
}

// Middleware answers 429 with Retry-After when the caller's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wait := rl.Reserve(TokenFrom(r.Context())); wait > 0 {
			metrics.RateLimitHits.Inc()
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Credit Ledger Middleware
// ============================================================================

// CreditLedger charges one credit per completion, per token.
type CreditLedger struct {
	mu    sync.Mutex
	limit int
	used  map[string]int
}

// NewCreditLedger creates a ledger granting limit credits per token.
// Zero means unlimited.
func NewCreditLedger(limit int) *CreditLedger {
	return &CreditLedger{limit: limit, used: make(map[string]int)}
}

// SetLimit changes the per-token allowance. Spent credits are kept.
func (l *CreditLedger) SetLimit(limit int) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Spend takes one credit for key and reports whether one was available.
func (l *CreditLedger) Spend(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return true
	}
	if l.used[key] >= l.limit {
		return false
	}
	l.used[key]++
	return true
}

// Remaining returns key's unspent credits, or -1 when unlimited.
func (l *CreditLedger) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return -1
	}
	return l.limit - l.used[key]
}

// Middleware answers 402 once the caller has no credits left.
func (l *CreditLedger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Spend(TokenFrom(r.Context())) {
			metrics.CreditsExhausted.Inc()
			writeError(w, http.StatusPaymentRequired, "credits exhausted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware adds security headers to every response.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Logging and Recovery Middleware
// ============================================================================

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
