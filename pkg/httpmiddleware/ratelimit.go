package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-key token bucket limiter.
type RateLimitConfig struct {
	// Max is the bucket size: requests a key may burst within one Window.
	Max int
	// Window is how long an empty bucket takes to refill completely.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter owns one bucket per key. Buckets idle for a whole window are
// full again, so evicting them loses nothing.
type keyedLimiter struct {
	cfg   RateLimitConfig
	every rate.Limit

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newKeyedLimiter(cfg RateLimitConfig) *keyedLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &keyedLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.Window / time.Duration(max(cfg.Max, 1))),
		buckets: make(map[string]*bucket),
	}
}

type decision struct {
	allowed    bool
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

func (kl *keyedLimiter) take(key string, now time.Time) decision {
	kl.mu.Lock()
	b, ok := kl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(kl.every, kl.cfg.Max)}
		kl.buckets[key] = b
	}
	b.lastSeen = now
	kl.mu.Unlock()

	d := decision{allowed: b.lim.AllowN(now, 1)}
	tokens := b.lim.TokensAt(now)
	d.remaining = max(int(math.Floor(tokens)), 0)
	d.resetAt = now.Add(kl.refill(float64(kl.cfg.Max) - tokens))
	if !d.allowed {
		d.retryAfter = kl.refill(1 - tokens)
	}
	return d
}

// refill is the time the bucket needs to gain n tokens.
func (kl *keyedLimiter) refill(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(math.Round(n / float64(kl.every) * float64(time.Second)))
}

func (kl *keyedLimiter) evictIdle(now time.Time) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	n := 0
	for key, b := range kl.buckets {
		if now.Sub(b.lastSeen) >= kl.cfg.Window {
			delete(kl.buckets, key)
			n++
		}
	}
	return n
}

func (kl *keyedLimiter) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.buckets)
}

func (kl *keyedLimiter) runEviction(ctx context.Context) {
	go func() {
		t := time.NewTicker(kl.cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				kl.evictIdle(now)
			}
		}
	}()
}

// RateLimit limits each key to Max requests per Window, refilling smoothly.
// Rejected requests get 429 with a RATE_LIMITED body and Retry-After; every
// response carries the X-RateLimit-* headers. Idle buckets are never
// evicted, see RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newKeyedLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine, bound to ctx, that
// drops buckets idle for a full window.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	kl := newKeyedLimiter(cfg)
	kl.runEviction(ctx)
	return kl.middleware
}

func (kl *keyedLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := kl.take(kl.cfg.KeyFunc(r), time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(kl.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))

		if !d.allowed {
			h.Set("Retry-After", strconv.Itoa(max(int(math.Ceil(d.retryAfter.Seconds())), 1)))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyByHeader limits per value of header, falling back to the client IP
// for requests without it. Header values are credentials, so only a digest
// of them is kept.
func KeyByHeader(header string) func(*http.Request) string {
	prefix := strings.ToLower(header) + ":"
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if v == "" {
			return clientIP(r)
		}
		sum := sha256.Sum256([]byte(v))
		return prefix + hex.EncodeToString(sum[:16])
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
