package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	dnsclient "github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"

	"github.com/osbits/expira/internal/product"
)

// Target is a normalised product URL.
type Target struct {
	URL      *url.URL
	Hostname string
	Port     string
	IsIP     bool
}

// HTTPS reports whether the target is served over TLS.
func (t Target) HTTPS() bool {
	return t.URL.Scheme == "https"
}

// Address returns host:port for raw dials.
func (t Target) Address() string {
	return net.JoinHostPort(t.Hostname, t.Port)
}

// ParseTarget prefixes https:// when no scheme is present and extracts the hostname.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, errors.New("empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid URL: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("invalid URL %q: missing hostname", raw)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return Target{
		URL:      u,
		Hostname: strings.ToLower(host),
		Port:     port,
		IsIP:     net.ParseIP(host) != nil,
	}, nil
}

// Resolution is the resolver stage output.
type Resolution struct {
	Info     *product.DNSInfo
	Addrs    []net.IP
	NotFound bool
	Elapsed  time.Duration
}

// Resolver looks up A, AAAA and MX records over DNS.
type Resolver struct {
	Server  string
	Timeout time.Duration
}

// DefaultResolverAddress returns the first nameserver from /etc/resolv.conf.
func DefaultResolverAddress() string {
	cfg, err := dnsclient.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return ""
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

type lookupAnswer struct {
	qtype uint16
	msg   *dnsclient.Msg
	err   error
}

// Resolve never fails; missing records and lookup errors are recorded on the info.
func (r Resolver) Resolve(ctx context.Context, target Target) Resolution {
	info := &product.DNSInfo{
		Hostname: target.Hostname,
		IPv4:     []string{},
		IPv6:     []string{},
		MX:       []product.MXRecord{},
	}
	res := Resolution{Info: info}

	if target.IsIP {
		ip := net.ParseIP(target.Hostname)
		if ip.To4() != nil {
			info.IPv4 = append(info.IPv4, ip.String())
		} else {
			info.IPv6 = append(info.IPv6, ip.String())
		}
		res.Addrs = []net.IP{ip}
		return res
	}
	if reg, err := publicsuffix.EffectiveTLDPlusOne(target.Hostname); err == nil {
		info.Registrable = reg
	}

	server := r.Server
	if server == "" {
		server = DefaultResolverAddress()
	}
	if server == "" {
		info.Errors = append(info.Errors, "no DNS resolver configured")
		return res
	}
	info.Resolver = server

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &dnsclient.Client{Timeout: timeout}
	fqdn := dnsclient.Fqdn(target.Hostname)
	qtypes := []uint16{dnsclient.TypeA, dnsclient.TypeAAAA, dnsclient.TypeMX}
	answers := make([]lookupAnswer, len(qtypes))

	start := time.Now()
	var wg sync.WaitGroup
	for i, qtype := range qtypes {
		wg.Add(1)
		go func(i int, qtype uint16) {
			defer wg.Done()
			msg := new(dnsclient.Msg)
			msg.SetQuestion(fqdn, qtype)
			msg.RecursionDesired = true
			resp, _, err := client.ExchangeContext(lookupCtx, msg, server)
			answers[i] = lookupAnswer{qtype: qtype, msg: resp, err: err}
		}(i, qtype)
	}
	wg.Wait()
	res.Elapsed = time.Since(start)

	nxdomain := 0
	for _, ans := range answers {
		name := dnsclient.TypeToString[ans.qtype]
		if ans.err != nil {
			info.Errors = append(info.Errors, fmt.Sprintf("%s: %v", name, ans.err))
			continue
		}
		if ans.msg == nil {
			continue
		}
		if ans.msg.Rcode != dnsclient.RcodeSuccess {
			if ans.msg.Rcode == dnsclient.RcodeNameError {
				nxdomain++
			}
			info.Errors = append(info.Errors, fmt.Sprintf("%s: %s", name, dnsclient.RcodeToString[ans.msg.Rcode]))
			continue
		}
		for _, rr := range ans.msg.Answer {
			switch rec := rr.(type) {
			case *dnsclient.A:
				info.IPv4 = append(info.IPv4, rec.A.String())
				res.Addrs = append(res.Addrs, rec.A)
			case *dnsclient.AAAA:
				info.IPv6 = append(info.IPv6, rec.AAAA.String())
				res.Addrs = append(res.Addrs, rec.AAAA)
			case *dnsclient.MX:
				info.MX = append(info.MX, product.MXRecord{
					Exchange: strings.TrimSuffix(rec.Mx, "."),
					Priority: rec.Preference,
				})
			}
		}
	}
	// A and AAAA both reporting NXDOMAIN means the name does not exist.
	res.NotFound = nxdomain >= 2 && len(res.Addrs) == 0
	return res
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dialer routes connections for the target host through the resolved
// addresses so the transport and TLS stages agree with the resolver.
func (res Resolution) Dialer(target Target, timeout time.Duration) DialFunc {
	base := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil || !strings.EqualFold(host, target.Hostname) || target.IsIP {
			return base.DialContext(ctx, network, addr)
		}
		if res.NotFound {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		if len(res.Addrs) == 0 {
			return base.DialContext(ctx, network, addr)
		}
		var lastErr error
		for _, ip := range res.Addrs {
			conn, err := base.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return nil, lastErr
	}
}
