package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

// Resolver works out who the client is. Forwarding headers are only
// believed when the socket peer falls inside a trusted proxy prefix; the
// zero value trusts nobody and always reports the socket peer.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver trusts forwarding headers from the given proxy prefixes.
func NewResolver(trusted []netip.Prefix) *Resolver {
	return &Resolver{trusted: trusted}
}

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by services and audit events.
// This middleware should be applied early in the chain.
func (res *Resolver) ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		md := res.FromRequest(r)
		ctx := requestcontext.WithClientMetadata(r.Context(), md)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromRequest builds client metadata from headers and the remote address.
func (res *Resolver) FromRequest(r *http.Request) requestcontext.ClientMetadata {
	raw := r.Header.Get("User-Agent")
	md := requestcontext.ClientMetadata{
		IP:        res.ClientIP(r),
		UserAgent: raw,
	}
	if raw == "" {
		return md
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if version != "" {
		name = name + " " + version
	}
	md.Browser = name
	md.OS = ua.OS()
	md.Mobile = ua.Mobile()
	md.Bot = ua.Bot()
	return md
}

// ClientIP returns the socket peer unless it is a trusted proxy. Behind a
// trusted proxy X-Forwarded-For is walked right to left and the first hop
// outside the trusted set wins, so entries a client prepends are ignored.
// X-Real-IP is consulted only when X-Forwarded-For is absent.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	if hops := forwardedHops(r.Header); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(hops[i])
			if err != nil {
				break
			}
			addr = addr.Unmap()
			if !res.isTrusted(addr) {
				return addr.String()
			}
			peer = addr
		}
		return peer.String()
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return peer.String()
}

func (res *Resolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range res.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr handles "ip:port", "[::1]:port" and a bare address.
func parseRemoteAddr(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(strings.Trim(remote, "[]")); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// forwardedHops flattens every X-Forwarded-For header, in order.
func forwardedHops(h http.Header) []string {
	var hops []string
	for _, value := range h.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(value, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
