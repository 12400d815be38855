package muxhandlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/net/http/httpguts"
)

// ErrInvalidProxy is returned when a TrustedProxies entry is neither a valid
// IP address nor a valid CIDR range.
var ErrInvalidProxy = errors.New("proxy headers: invalid proxy entry")

// DefaultTrustedProxies is the set of private and loopback ranges used when
// ProxyHeadersConfig.TrustedProxies is empty.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
}

// ProxyHeadersConfig configures the ProxyHeaders middleware behaviour.
type ProxyHeadersConfig struct {
	// TrustedProxies is a list of IP addresses and CIDR ranges allowed to
	// set forwarding headers. When empty, DefaultTrustedProxies is used.
	TrustedProxies []string
}

type clientIPKey struct{}

// TrustSet is a parsed set of trusted proxy addresses.
type TrustSet struct {
	prefixes []netip.Prefix
}

// ParseTrustSet parses IP addresses and CIDR ranges.
func ParseTrustSet(entries []string) (*TrustSet, error) {
	ts := &TrustSet{}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
			}

			ts.prefixes = append(ts.prefixes, p.Masked())

			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
		}

		ts.prefixes = append(ts.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}

	return ts, nil
}

// Contains reports whether addr is trusted.
func (ts *TrustSet) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()

	for _, p := range ts.prefixes {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

// ProxyHeadersMiddleware returns a middleware that resolves the client
// address and, for requests from a trusted proxy, the original scheme and
// host.
//
// The client IP is the right-most X-Forwarded-For entry that is not itself
// a trusted proxy, falling back to X-Real-IP; it is stored in the request
// context (see ClientIP). X-Forwarded-Proto sets r.URL.Scheme and
// X-Forwarded-Host sets r.Host. Headers from untrusted peers are ignored.
func ProxyHeadersMiddleware(cfg ProxyHeadersConfig) (mux.MiddlewareFunc, error) {
	proxies := cfg.TrustedProxies
	if len(proxies) == 0 {
		proxies = DefaultTrustedProxies
	}

	ts, err := ParseTrustSet(proxies)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := remoteAddr(r.RemoteAddr)
			if !ok || !ts.Contains(peer) {
				if ok {
					r = r.WithContext(context.WithValue(r.Context(), clientIPKey{}, peer))
				}

				next.ServeHTTP(w, r)

				return
			}

			client := peer

			if ip, found := forwardedClient(r.Header.Values("X-Forwarded-For"), ts); found {
				client = ip
			} else if ip, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
				client = ip.Unmap()
			}

			if scheme := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); scheme == "http" || scheme == "https" {
				u := *r.URL
				u.Scheme = scheme
				r.URL = &u
			}

			if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" && httpguts.ValidHostHeader(host) {
				r.Host = host
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, client)))
		})
	}, nil
}

// ClientIP returns the client address resolved by ProxyHeadersMiddleware,
// or the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	if addr, ok := r.Context().Value(clientIPKey{}).(netip.Addr); ok {
		return addr.String()
	}

	if addr, ok := remoteAddr(r.RemoteAddr); ok {
		return addr.String()
	}

	return r.RemoteAddr
}

func remoteAddr(s string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}

	return addr.Unmap(), true
}

// forwardedClient walks X-Forwarded-For from the right and returns the
// first address that is not a trusted proxy.
func forwardedClient(values []string, ts *TrustSet) (netip.Addr, bool) {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}

	var last netip.Addr

	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}

		addr = addr.Unmap()
		last = addr

		if !ts.Contains(addr) {
			return addr, true
		}
	}

	return last, last.IsValid()
}
