package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// apiAuthMiddleware checks the static token header. With no token configured
// the API is open, which is the expected mode for localhost-only daemons.
func (s *Server) apiAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIAuth.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(s.cfg.APIAuth.TokenHeader)
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIAuth.Token)) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		limiter := s.getRateLimiter(ip)
		if !limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller's address for rate limiting. Forwarding
// headers are honored only when the direct peer is a loopback or private
// address, or when trust_proxy is set; anything else could spoof its way
// past the limiter.
func (s *Server) clientIP(r *http.Request) string {
	peerIP := peerIPFromRemoteAddr(r.RemoteAddr)
	trustProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())
	if s.cfg != nil && s.cfg.API.TrustProxy {
		trustProxy = true
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" && trustProxy {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" && trustProxy {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func peerIPFromRemoteAddr(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		// remoteAddr may already be just a host.
		host = remoteAddr
	}
	return net.ParseIP(host)
}

func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	s.rateLimitMu.Lock()
	defer s.rateLimitMu.Unlock()

	if entry, ok := s.rateLimiters[ip]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	ratePerMinute := 60
	if s.cfg.API.RateLimitPerMinute > 0 {
		ratePerMinute = s.cfg.API.RateLimitPerMinute
	}
	limit := rate.Limit(float64(ratePerMinute) / 60.0)
	limiter := rate.NewLimiter(limit, ratePerMinute)
	s.rateLimiters[ip] = &rateLimiterEntry{limiter: limiter, lastSeen: time.Now()}

	// Bound the map: forget limiters for clients not seen recently.
	if len(s.rateLimiters) > 1000 {
		cutoff := time.Now().Add(-5 * time.Minute)
		for key, entry := range s.rateLimiters {
			if entry.lastSeen.Before(cutoff) {
				delete(s.rateLimiters, key)
			}
		}
	}

	return limiter
}
