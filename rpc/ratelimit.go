package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client source.
type rateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newRateLimiter(requestsPerMinute float64, burst int) *rateLimiter {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (l *rateLimiter) allow(source string) bool {
	if source == "" {
		source = "unknown"
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(l.visitors, id)
		}
	}
	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// maxForwardedForAddrs bounds how many X-Forwarded-For hops are inspected.
const maxForwardedForAddrs = 16

// proxySet holds the peers whose X-Forwarded-For header is believed.
type proxySet map[string]struct{}

func newProxySet(entries []string) (proxySet, []string) {
	set := make(proxySet, len(entries))
	var rejected []string
	for _, entry := range entries {
		ip := net.ParseIP(strings.TrimSpace(entry))
		if ip == nil {
			rejected = append(rejected, entry)
			continue
		}
		set[ip.String()] = struct{}{}
	}
	return set, rejected
}

func (p proxySet) trusts(host string) bool {
	_, ok := p[host]
	return ok
}

// clientSource identifies the rate-limited client. X-Forwarded-For is only
// consulted when the direct peer is a trusted proxy; the client is the
// right-most hop that is not itself a trusted proxy.
func (p proxySet) clientSource(r *http.Request) string {
	remote := canonicalHost(r.RemoteAddr)
	if remote == "" {
		remote = r.RemoteAddr
	}
	if !p.trusts(remote) {
		return remote
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return remote
	}
	hops := strings.Split(forwarded, ",")
	if len(hops) > maxForwardedForAddrs {
		return remote
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop := canonicalHost(strings.TrimSpace(hops[i]))
		if hop == "" {
			return remote
		}
		if !p.trusts(hop) {
			return hop
		}
	}
	return remote
}

// canonicalHost strips an optional port and normalises the IP text. It
// returns "" for values that are not IP addresses.
func canonicalHost(value string) string {
	host := value
	if h, _, err := net.SplitHostPort(value); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	return ip.String()
}
