package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps requests per client IP inside a sliding window. It
// guards the websocket upgrade and the archive endpoints; per-socket
// message pacing happens in the read pump instead.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	proxies  []netip.Prefix
}

type visitor struct {
	lastSeen time.Time
	count    int
}

func NewRateLimiter(ctx context.Context, rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup(ctx)
	return rl
}

// SetTrustedProxies accepts IPs or CIDR ranges whose X-Forwarded-For
// headers are believed.
func (rl *RateLimiter) SetTrustedProxies(entries []string) {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			rl.proxies = append(rl.proxies, prefix)
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			rl.proxies = append(rl.proxies, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
}

func (rl *RateLimiter) isTrustedProxy(addr netip.Addr) bool {
	for _, prefix := range rl.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.window {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientIP resolves the caller's address. X-Forwarded-For only counts
// when the direct peer is a trusted proxy; within the chain, the
// nearest hop that is not itself a trusted proxy wins.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	remote, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if len(rl.proxies) == 0 || !rl.isTrustedProxy(remote) {
		return remote.String()
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return remote.String()
	}

	hops := strings.Split(forwarded, ",")
	chain := make([]netip.Addr, 0, len(hops))
	for _, hop := range hops {
		if addr, ok := parseAddr(hop); ok {
			chain = append(chain, addr)
		}
	}
	if len(chain) == 0 {
		return remote.String()
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if !rl.isTrustedProxy(chain[i]) {
			return chain[i].String()
		}
	}
	return chain[0].String()
}

func parseAddr(raw string) (netip.Addr, bool) {
	value := strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr(), true
	}
	value = strings.Trim(value, "[]")
	addr, err := netip.ParseAddr(value)
	return addr, err == nil
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.clientIP(r)

		rl.mu.Lock()
		v, exists := rl.visitors[ip]
		if !exists {
			rl.visitors[ip] = &visitor{lastSeen: time.Now(), count: 1}
			rl.mu.Unlock()
			next.ServeHTTP(w, r)
			return
		}
		if time.Since(v.lastSeen) > rl.window {
			v.count = 0
		}
		v.count++
		v.lastSeen = time.Now()
		count := v.count
		rl.mu.Unlock()

		if count > rl.rate {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "Too many requests. Please try again later.",
				"code":  "RATE_LIMITED",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
