package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/esprelay/internal/logging"
)

// RateLimitConfig holds login rate limiting configuration.
type RateLimitConfig struct {
	MaxAttempts int           // Maximum attempts per window (default: 5)
	Window      time.Duration // Time window for rate limiting (default: 1 minute)
	BlockAfter  int           // Block after this many failed attempts (default: 10)
	BlockTime   time.Duration // Base block duration (default: 5 minutes, doubles each block)
}

// maxBlock caps the exponential block duration.
const maxBlock = 24 * time.Hour

// DefaultRateLimitConfig returns the default rate limiting configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
		BlockAfter:  10,
		BlockTime:   5 * time.Minute,
	}
}

// rateLimiter implements a sliding window rate limiter with exponential
// blocking, keyed by client IP.
type rateLimiter struct {
	mu     sync.Mutex
	config RateLimitConfig
	now    func() time.Time
	log    *logging.Logger

	// attempts tracks timestamps of attempts per IP
	attempts map[string][]time.Time

	// failures tracks consecutive failed logins per IP
	failures map[string]int

	// blocked maps an IP to the time its block expires
	blocked map[string]time.Time
}

// newRateLimiter creates a rate limiter. Zero fields take the defaults.
func newRateLimiter(config RateLimitConfig, now func() time.Time, log *logging.Logger) *rateLimiter {
	def := DefaultRateLimitConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.BlockAfter <= 0 {
		config.BlockAfter = def.BlockAfter
	}
	if config.BlockTime <= 0 {
		config.BlockTime = def.BlockTime
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.Default()
	}

	return &rateLimiter{
		config:   config,
		now:      now,
		log:      log,
		attempts: make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// checkResult is the outcome of a rate limit check.
type checkResult struct {
	Allowed    bool
	RetryAfter time.Duration // How long until the client can retry
	IsBlocked  bool          // True if blocked due to too many failures
	Reason     string        // Human-readable reason for rejection
}

// retryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (c checkResult) retryAfterSeconds() int {
	secs := int((c.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// check reports whether ip may attempt a login now, and records the attempt
// when it may.
func (rl *rateLimiter) check(ip string) checkResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if blockExpiry, isBlocked := rl.blocked[ip]; isBlocked {
		if now.Before(blockExpiry) {
			return checkResult{
				RetryAfter: blockExpiry.Sub(now),
				IsBlocked:  true,
				Reason:     "too many failed attempts",
			}
		}
		delete(rl.blocked, ip)
	}

	rl.attempts[ip] = pruneBefore(rl.attempts[ip], now.Add(-rl.config.Window))

	if current := len(rl.attempts[ip]); current >= rl.config.MaxAttempts {
		retryAfter := rl.attempts[ip][0].Add(rl.config.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return checkResult{
			RetryAfter: retryAfter,
			Reason:     "rate limit exceeded",
		}
	}

	rl.attempts[ip] = append(rl.attempts[ip], now)
	return checkResult{Allowed: true}
}

// recordSuccess resets the failure counter and any block for ip.
func (rl *rateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.failures, ip)
	delete(rl.blocked, ip)
}

// recordFailure counts a failed login. Once the count reaches BlockAfter the
// IP is blocked for BlockTime, doubling for every further BlockAfter
// failures, capped at a day.
func (rl *rateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failures[ip]++
	failCount := rl.failures[ip]

	if failCount < rl.config.BlockAfter {
		return
	}

	blocks := (failCount - rl.config.BlockAfter) / rl.config.BlockAfter
	blockDuration := maxBlock
	if blocks < 16 {
		blockDuration = rl.config.BlockTime * time.Duration(1<<blocks)
	}
	if blockDuration > maxBlock {
		blockDuration = maxBlock
	}

	rl.blocked[ip] = rl.now().Add(blockDuration)
	rl.log.Warn("login blocked", "ip", ip, "failures", failCount, "block", blockDuration)
}

// cleanup drops expired attempts, blocks and stale failure counts.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.config.Window)

	for ip, timestamps := range rl.attempts {
		if valid := pruneBefore(timestamps, windowStart); len(valid) == 0 {
			delete(rl.attempts, ip)
		} else {
			rl.attempts[ip] = valid
		}
	}

	for ip, expiry := range rl.blocked {
		if now.After(expiry) {
			delete(rl.blocked, ip)
		}
	}

	// Keep failure counts for blocked IPs and IPs still inside the window.
	for ip := range rl.failures {
		if _, isBlocked := rl.blocked[ip]; isBlocked {
			continue
		}
		if _, hasAttempts := rl.attempts[ip]; !hasAttempts {
			delete(rl.failures, ip)
		}
	}
}

// pruneBefore returns the timestamps after cutoff.
func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	valid := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	return valid
}

// clientIP is the address login attempts are counted against.
func (s *Server) clientIP(r *http.Request) string {
	return extractIP(r, s.trustProxy)
}

// extractIP returns the client IP. X-Forwarded-For and X-Real-IP are only
// consulted when trustProxy is set.
func extractIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
