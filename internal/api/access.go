package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// allowlist restricts API access to a set of addresses and networks.
// An empty list allows everyone.
type allowlist struct {
	networks []*net.IPNet
	ips      map[string]struct{}
}

func newAllowlist(entries []string) (*allowlist, error) {
	al := &allowlist{ips: map[string]struct{}{}}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("parse cidr %q: %w", entry, err)
			}
			al.networks = append(al.networks, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("parse ip %q: invalid address", entry)
		}
		al.ips[ip.String()] = struct{}{}
	}
	return al, nil
}

func (a *allowlist) allowAll() bool {
	return a == nil || (len(a.networks) == 0 && len(a.ips) == 0)
}

func (a *allowlist) allowed(ip net.IP) bool {
	if a.allowAll() {
		return true
	}
	if ip == nil {
		return false
	}
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, network := range a.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range cidrs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("parse cidr %q: %w", entry, err)
		}
		out = append(out, network)
	}
	return out, nil
}

// clientIP honours X-Forwarded-For only when the peer is a trusted proxy.
func clientIP(r *http.Request, trusted []*net.IPNet) net.IP {
	peer := hostIP(r.RemoteAddr)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && inNetworks(peer, trusted) {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	return peer
}

func hostIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func inNetworks(ip net.IP, networks []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
