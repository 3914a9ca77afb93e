package authapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// loginLimiter throttles failed login attempts per client IP over a sliding
// window. State is process-local; a multi-instance deployment shares nothing,
// which is acceptable for a first line of defense.
type loginLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	failures map[string][]time.Time
}

func newLoginLimiter(max int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		window:   window,
		max:      max,
		failures: make(map[string][]time.Time),
	}
}

// blocked reports whether ip has exceeded the failure budget, and how long
// the caller should wait before retrying.
func (l *loginLimiter) blocked(ip string, now time.Time) (bool, time.Duration) {
	if l == nil || l.max <= 0 || ip == "" {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(ip, now)
	if len(recent) >= l.max {
		return true, l.window
	}
	return false, 0
}

// recordFailure notes one failed attempt for ip.
func (l *loginLimiter) recordFailure(ip string, now time.Time) {
	if l == nil || ip == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[ip] = append(l.pruneLocked(ip, now), now)
}

func (l *loginLimiter) pruneLocked(ip string, now time.Time) []time.Time {
	cut := now.Add(-l.window)
	kept := l.failures[ip][:0]
	for _, t := range l.failures[ip] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, ip)
		return nil
	}
	l.failures[ip] = kept
	return kept
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many attempts")
}

// clientIP extracts the request origin. X-Forwarded-For is honored only when
// the deployment fronts the service with a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
