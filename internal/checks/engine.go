package checks

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/osbits/expira/internal/config"
	"github.com/osbits/expira/internal/product"
)

// Options tunes one engine. Zero values fall back to defaults.
type Options struct {
	RequestTimeout    time.Duration
	TLSTimeout        time.Duration
	DNSTimeout        time.Duration
	DNSResolver       string
	WarningWindowDays int
	UserAgent         string
	MaxBodyBytes      int64
	MaxRedirects      int
	RootCAs           *x509.CertPool
	ICMP              ICMPOptions
	WHOIS             *WHOISClient
	Now               func() time.Time
	Logger            *slog.Logger
}

// OptionsFromConfig maps the engine section of the config file.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	opts := Options{
		RequestTimeout:    cfg.RequestTimeout.Or(config.DefaultRequestTimeout),
		TLSTimeout:        cfg.TLSTimeout.Or(config.DefaultTLSTimeout),
		DNSTimeout:        cfg.DNSTimeout.Or(config.DefaultDNSTimeout),
		DNSResolver:       cfg.DNSResolver,
		WarningWindowDays: cfg.WarningWindowDays,
		UserAgent:         cfg.UserAgent,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		MaxRedirects:      cfg.MaxRedirects,
		ICMP: ICMPOptions{
			Enabled:    cfg.ICMP.Enabled,
			Count:      cfg.ICMP.Count,
			Timeout:    cfg.ICMP.Timeout.Duration,
			Privileged: cfg.ICMP.Privileged,
		},
	}
	if cfg.WHOIS.Enabled {
		opts.WHOIS = &WHOISClient{Server: cfg.WHOIS.Server, Timeout: cfg.WHOIS.Timeout.Duration}
	}
	return opts
}

// Engine runs product health checks. It holds no per-check state.
type Engine struct {
	opts     Options
	logger   *slog.Logger
	resolver Resolver
}

// NewEngine applies defaults to opts.
func NewEngine(opts Options) *Engine {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}
	if opts.TLSTimeout <= 0 {
		opts.TLSTimeout = config.DefaultTLSTimeout
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = config.DefaultDNSTimeout
	}
	if opts.WarningWindowDays <= 0 {
		opts.WarningWindowDays = config.DefaultWarningWindowDays
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = config.DefaultMaxRedirects
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		logger:   logger,
		resolver: Resolver{Server: opts.DNSResolver, Timeout: opts.DNSTimeout},
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now()
}

// Outcome is the reduced verdict of one check.
type Outcome struct {
	Result   product.CheckResult
	Severity Severity
}

// ProductStatus is the status the product must carry after this check.
func (o Outcome) ProductStatus() product.Status {
	return o.Severity.ProductStatus()
}

// Run performs one check. It always returns a complete outcome.
func (e *Engine) Run(ctx context.Context, p product.Product) (out Outcome) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("check panicked", "product_id", p.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = failureOutcome(p, start, "internal error")
		}
	}()

	target, err := ParseTarget(p.URL)
	if err != nil {
		return failureOutcome(p, start, err.Error())
	}

	resolution := e.resolver.Resolve(ctx, target)
	dial := resolution.Dialer(target, e.opts.RequestTimeout)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		panicked any
	)
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if panicked == nil {
						panicked = r
					}
					mu.Unlock()
				}
			}()
			fn()
		}()
	}

	var tlsReport TLSReport
	if target.HTTPS() {
		spawn(func() { tlsReport = e.inspectTLS(ctx, target, dial) })
	}
	var ping *product.PingStats
	if e.opts.ICMP.Enabled && len(resolution.Addrs) > 0 {
		spawn(func() {
			stats, err := pingAddress(ctx, resolution.Addrs[0].String(), e.opts.ICMP)
			if err != nil {
				e.logger.Debug("icmp probe failed", "product_id", p.ID, "error", err)
				return
			}
			ping = stats
		})
	}
	var (
		registration    time.Time
		registrationErr error
	)
	whoisRan := e.opts.WHOIS != nil && p.Type == product.TypeDomain && !target.IsIP
	if whoisRan {
		spawn(func() { registration, registrationErr = e.opts.WHOIS.Expiry(ctx, target.Hostname) })
	}

	probe := e.probe(ctx, p, target, dial)
	content := analyzeContent(p, probe)

	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}

	result := product.CheckResult{
		ProductID: p.ID,
		DNSInfo:   resolution.Info,
		SSLInfo:   tlsReport.Info,
		CheckedAt: start,
	}
	sig := Signals{ContentType: probe.ContentType}
	if probe.Responded() {
		code := probe.StatusCode
		elapsed := probe.Elapsed.Milliseconds()
		result.StatusCode = &code
		result.ResponseTime = &elapsed
		result.HTTPHeaders = probe.Headers
		result.Performance = aggregatePerformance(resolution.Elapsed, probe.Connect, tlsReport.Handshake, probe.Elapsed)
		result.NetworkInfo = probe.Network
		sig.StatusCode = &code
		sig.ResponseTime = &elapsed
	}
	if ping != nil {
		if result.NetworkInfo == nil {
			result.NetworkInfo = &product.NetworkInfo{}
		}
		result.NetworkInfo.Ping = ping
	}
	if content.Info != nil {
		result.ContentInfo = content.Info
		sig.HasBody = true
		sig.Body = content.BodyText
		sig.Title = content.Title
		sig.Meta = content.Meta
		length := content.Info.ContentLength
		sig.ContentLength = &length
	}
	if content.JSONOK {
		result.APIResponse = content.API
		sig.JSON = content.JSON
		sig.HasJSON = true
	}
	if tlsReport.Info != nil {
		days := tlsReport.Info.DaysUntilExpiry
		sig.SSLDays = &days
	}

	verdict := Verdict{}.ApplyAll(probe.Findings)
	verdict = verdict.ApplyAll(tlsReport.Findings)
	// A strict failure of the same kind was already reported by the transport.
	if tlsReport.Strict != nil && tlsReport.StrictKind != probe.Kind {
		verdict = verdict.Apply(*tlsReport.Strict)
	}
	if whoisRan {
		switch {
		case registrationErr != nil:
			e.logger.Debug("whois lookup failed", "product_id", p.ID, "error", registrationErr)
			result.DNSInfo.Errors = append(result.DNSInfo.Errors, "whois: "+registrationErr.Error())
		default:
			expiry := registration
			result.DNSInfo.RegistrationExpiry = &expiry
			if f, ok := RegistrationExpiry(registration, start, e.opts.WarningWindowDays); ok {
				verdict = verdict.Apply(f)
			}
		}
	}
	verdict = verdict.ApplyAll(EvaluateRules(p.CustomFields, sig))
	if p.ExpiresAt != nil {
		if f, ok := ProductExpiry(*p.ExpiresAt, start, e.opts.WarningWindowDays); ok {
			verdict = verdict.Apply(f)
		}
	}

	switch {
	case probe.Kind != FailureNone:
		result.ErrorCode = probe.Kind.Code()
		result.ErrorDetails = &product.ErrorDetails{
			Stage:   "transport",
			Kind:    probe.Kind.String(),
			Code:    probe.Kind.Code(),
			Message: failureReason(probe.Err),
		}
	case tlsReport.StrictKind != FailureNone:
		result.ErrorCode = tlsReport.StrictKind.Code()
		result.ErrorDetails = &product.ErrorDetails{
			Stage:   "tls",
			Kind:    tlsReport.StrictKind.String(),
			Code:    tlsReport.StrictKind.Code(),
			Message: tlsReport.StrictErr.Error(),
		}
	}

	result.Status = verdict.Severity().CheckStatus()
	result.Message = verdict.Message()
	if result.Message == "" {
		result.Message = fmt.Sprintf("%s check completed", p.Type.Label())
	}
	return Outcome{Result: result, Severity: verdict.Severity()}
}

func failureOutcome(p product.Product, start time.Time, reason string) Outcome {
	return Outcome{
		Severity: SeverityExpired,
		Result: product.CheckResult{
			ProductID: p.ID,
			Status:    product.CheckError,
			Message:   "Failed to check website: " + reason,
			CheckedAt: start,
		},
	}
}
