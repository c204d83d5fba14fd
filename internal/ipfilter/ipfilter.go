// Package ipfilter restricts HTTP endpoints to configured client networks
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter matches client addresses against allowed prefixes. An empty
// filter allows everyone.
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New builds a filter from IPs and CIDRs. Invalid entries are logged and skipped.
func New(allowed []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parsePrefix(entry)
		if err != nil {
			logger.Warn("ignoring invalid allowed_ips entry", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, prefix)
	}

	return f
}

// parsePrefix accepts "10.0.0.0/8" or a bare address, which becomes a single-host prefix
func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled reports whether any prefix is configured
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of configured prefixes
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// Allows reports whether addr is inside an allowed prefix
func (f *Filter) Allows(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsRemote checks a "host:port" or bare host string
func (f *Filter) AllowsRemote(remote string) bool {
	addr, ok := remoteAddr(remote)
	if !ok {
		return !f.Enabled()
	}
	return f.Allows(addr)
}

func remoteAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// HTTPMiddleware rejects requests whose RemoteAddr is outside the allowed
// prefixes. Forwarding headers are not consulted; put chi's RealIP in
// front when running behind a trusted proxy.
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if !f.AllowsRemote(r.RemoteAddr) {
			f.logger.Warn("access denied by IP filter", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
