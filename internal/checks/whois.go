package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// WHOISClient queries registration data over the port 43 protocol.
type WHOISClient struct {
	// Server overrides the per-suffix lookup when set (host or host:port).
	Server  string
	Timeout time.Duration
}

// Expiry returns the registration expiry of the registrable domain of host.
func (c WHOISClient) Expiry(ctx context.Context, host string) (time.Time, error) {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return time.Time{}, fmt.Errorf("public suffix: %w", err)
	}
	server := c.Server
	if server == "" {
		server, err = whoisServerForDomain(domain)
		if err != nil {
			return time.Time{}, err
		}
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "43")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return time.Time{}, fmt.Errorf("dial whois: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(domain + "\r\n")); err != nil {
		return time.Time{}, fmt.Errorf("write whois: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(conn, 1<<20))
	if err != nil {
		return time.Time{}, fmt.Errorf("read whois: %w", err)
	}
	return extractExpiry(string(body))
}

var whoisExpiryRegex = regexp.MustCompile(`(?im)^\s*(?:Registry Expiry Date|Registrar Registration Expiration Date|Expiry Date|Expiration Date|paid-till|expires):\s*(\S+)`)

var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006.01.02",
	"02-Jan-2006",
}

func extractExpiry(body string) (time.Time, error) {
	match := whoisExpiryRegex.FindStringSubmatch(body)
	if len(match) < 2 {
		return time.Time{}, errors.New("could not locate expiry date")
	}
	raw := strings.TrimSpace(match[1])
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse expiry %q", raw)
}

var whoisServers = map[string]string{
	"com": "whois.verisign-grs.com",
	"net": "whois.verisign-grs.com",
	"org": "whois.pir.org",
	"io":  "whois.nic.io",
	"dev": "whois.nic.google",
	"app": "whois.nic.google",
	"co":  "whois.nic.co",
	"me":  "whois.nic.me",
}

func whoisServerForDomain(domain string) (string, error) {
	suffix, _ := publicsuffix.PublicSuffix(domain)
	if idx := strings.LastIndex(suffix, "."); idx >= 0 {
		suffix = suffix[idx+1:]
	}
	server, ok := whoisServers[suffix]
	if !ok {
		return "", fmt.Errorf("no whois server known for %q", domain)
	}
	return server, nil
}
