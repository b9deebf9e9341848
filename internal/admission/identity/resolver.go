// Package identity derives the canonical client key from request metadata.
package identity

import (
	"net"
	"net/http"
	"strings"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// Resolver maps a request to a deterministic ClientKey. Forwarded headers are
// honored only when the immediate peer is a trusted proxy; otherwise the
// direct connection address is authoritative, which prevents trivial spoofing.
type Resolver struct {
	trustProxy bool
	// trustedPeers restricts which direct peers may supply forwarded headers.
	// Empty means any peer is trusted when trustProxy is enabled.
	trustedPeers map[string]struct{}
}

// NewResolver creates a resolver with the given trust policy.
func NewResolver(trustProxy bool, trustedPeers []string) *Resolver {
	r := &Resolver{trustProxy: trustProxy}
	if len(trustedPeers) > 0 {
		r.trustedPeers = make(map[string]struct{}, len(trustedPeers))
		for _, p := range trustedPeers {
			if p = strings.TrimSpace(p); p != "" {
				r.trustedPeers[p] = struct{}{}
			}
		}
	}
	return r
}

// Resolve returns the canonical client key for the request. No side effects.
func (rs *Resolver) Resolve(r *http.Request) domain.ClientKey {
	peer := remoteHost(r.RemoteAddr)

	if rs.trustProxy && rs.peerTrusted(peer) {
		// First hop of X-Forwarded-For is the original client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return domain.ClientKey(ip)
			}
		}
		if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
			return domain.ClientKey(rip)
		}
	}

	if peer != "" {
		return domain.ClientKey(peer)
	}
	return domain.ClientKey("unknown")
}

func (rs *Resolver) peerTrusted(peer string) bool {
	if rs.trustedPeers == nil {
		return true
	}
	_, ok := rs.trustedPeers[peer]
	return ok
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
