package security

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// ConnectionLimiter caps concurrent connections per client IP.
type ConnectionLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxConn     int
}

// NewConnectionLimiter returns a limiter allowing maxConn connections per IP.
// A non-positive maxConn disables the limit.
func NewConnectionLimiter(maxConn int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxConn:     maxConn,
	}
}

func (cl *ConnectionLimiter) TryConnect(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.maxConn > 0 && cl.connections[ip] >= cl.maxConn {
		return false
	}
	cl.connections[ip]++
	return true
}

func (cl *ConnectionLimiter) Disconnect(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.connections[ip] > 0 {
		cl.connections[ip]--
		if cl.connections[ip] == 0 {
			delete(cl.connections, ip)
		}
	}
}

// Active returns the number of open connections from ip.
func (cl *ConnectionLimiter) Active(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connections[ip]
}

var defaultTrustedProxies = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// IPResolver extracts the client IP of a request, honoring proxy headers only
// when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver parses cidrs. An empty list trusts loopback and private
// ranges. Entries that do not parse are skipped.
func NewIPResolver(cidrs []string) *IPResolver {
	if len(cidrs) == 0 {
		cidrs = defaultTrustedProxies
	}
	r := &IPResolver{}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err == nil {
			r.trusted = append(r.trusted, network)
		}
	}
	return r
}

func (r *IPResolver) isTrustedProxy(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range r.trusted {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating address of req.
func (r *IPResolver) ClientIP(req *http.Request) string {
	directIP, _, _ := net.SplitHostPort(req.RemoteAddr)
	if directIP == "" {
		directIP = req.RemoteAddr
	}

	if r.isTrustedProxy(directIP) {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(clientIP) != nil {
				return clientIP
			}
		}
		if xri := req.Header.Get("X-Real-Ip"); xri != "" {
			xri = strings.TrimSpace(xri)
			if net.ParseIP(xri) != nil {
				return xri
			}
		}
	}

	return directIP
}
