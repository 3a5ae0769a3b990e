package checks

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/osbits/expira/internal/product"
)

// Probe is the transport stage output.
type Probe struct {
	Method      string
	StatusCode  int
	Headers     map[string]string
	ContentType string
	Elapsed     time.Duration
	Connect     time.Duration
	Network     *product.NetworkInfo
	Body        []byte
	Err         error
	Kind        FailureKind
	Findings    []Finding
}

// Responded reports whether an HTTP response was received.
func (p Probe) Responded() bool {
	return p.Err == nil && p.StatusCode > 0
}

func (e *Engine) newClient(dial DialFunc, redirects *int) *http.Client {
	transport := &http.Transport{
		DialContext:         dial,
		TLSClientConfig:     &tls.Config{RootCAs: e.opts.RootCAs},
		TLSHandshakeTimeout: e.opts.TLSTimeout,
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   true,
	}
	maxRedirects := e.opts.MaxRedirects
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			*redirects = len(via)
			return nil
		},
	}
}

// probe issues the primary request and, for body-bearing types, a second full fetch.
func (e *Engine) probe(ctx context.Context, p product.Product, target Target, dial DialFunc) Probe {
	method := http.MethodHead
	if p.Type.NeedsBody() {
		method = http.MethodGet
	}
	out := Probe{Method: method}

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	redirects := 0
	client := e.newClient(dial, &redirects)
	defer client.CloseIdleConnections()

	var connectStart time.Time
	var remoteAddr string
	trace := &httptrace.ClientTrace{
		ConnectStart: func(_, _ string) {
			if connectStart.IsZero() {
				connectStart = time.Now()
			}
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil && out.Connect == 0 && !connectStart.IsZero() {
				out.Connect = time.Since(connectStart)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(fetchCtx, trace), method, target.URL.String(), nil)
	if err != nil {
		out.Err = fmt.Errorf("build request: %w", err)
		out.Kind = FailureOther
		out.Findings = []Finding{{Stage: "transport", Severity: SeverityWarning, Message: "Failed to build request: " + err.Error()}}
		return out
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	start := time.Now()
	resp, err := client.Do(req)
	out.Elapsed = time.Since(start)
	if err != nil {
		out.Err = err
		out.Kind = Classify(err)
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			out.Kind = FailureTimeout
		}
		out.Findings = []Finding{transportFailure(p.Type, out.Kind, err)}
		return out
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	resp.Body.Close()

	out.StatusCode = resp.StatusCode
	out.Headers = flattenHeaders(resp.Header)
	out.ContentType = resp.Header.Get("Content-Type")
	out.Network = &product.NetworkInfo{
		RemoteAddr: remoteAddr,
		Protocol:   resp.Proto,
		FinalURL:   resp.Request.URL.String(),
		Redirects:  redirects,
	}

	label := p.Type.Label()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Findings = []Finding{{
			Stage:    "transport",
			Severity: SeverityActive,
			Message:  fmt.Sprintf("%s is accessible (HTTP %d)", label, resp.StatusCode),
		}}
	} else {
		out.Findings = []Finding{{
			Stage:    "transport",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s returned HTTP %d %s", label, resp.StatusCode, http.StatusText(resp.StatusCode)),
		}}
	}

	if p.Type.NeedsBody() {
		// Failure here only means the content stages have nothing to look at.
		out.Body = e.fetchBody(fetchCtx, client, target)
	}
	return out
}

func (e *Engine) fetchBody(ctx context.Context, client *http.Client, target Target) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		e.logger.Debug("body fetch failed", "url", target.URL.String(), "error", err)
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		e.logger.Debug("body read failed", "url", target.URL.String(), "error", err)
		return nil
	}
	return body
}

func transportFailure(t product.Type, kind FailureKind, err error) Finding {
	f := Finding{Stage: "transport", Severity: severityFor(transportSeverity, kind)}
	switch kind {
	case FailureTimeout:
		f.Message = "Request timeout"
	case FailureNameNotFound:
		f.Message = "Domain not found - DNS resolution failed"
	case FailureConnectionRefused:
		f.Message = fmt.Sprintf("Connection refused - the %s is not accessible", t.Noun())
	case FailureCertificateExpired:
		f.Message = "SSL certificate has expired"
	default:
		f.Message = "Failed to connect: " + failureReason(err)
	}
	return f
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}
