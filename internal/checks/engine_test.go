package checks

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osbits/expira/internal/product"
)

func newTestEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.TLSTimeout == 0 {
		opts.TLSTimeout = 5 * time.Second
	}
	return NewEngine(opts)
}

func welcomeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Example</title><meta name="description" content="Example shop"></head><body>Welcome to Example</body></html>`)
	})
}

func TestScenarioHealthyWebsite(t *testing.T) {
	srv := httptest.NewTLSServer(welcomeHandler())
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{RootCAs: poolFor(srv)})
	out := engine.Run(context.Background(), product.Product{
		ID:   "p-a",
		Type: product.TypeWebsite,
		URL:  srv.URL,
		CustomFields: product.CustomFields{
			category("Content Verification", "expectedText", "Welcome", "expectedTitle", "Example"),
		},
	})

	if out.ProductStatus() != product.StatusActive || out.Result.Status != product.CheckSuccess {
		t.Fatalf("expected active/success, got %s/%s: %q", out.ProductStatus(), out.Result.Status, out.Result.Message)
	}
	if out.Result.Message != "Website is accessible (HTTP 200)" {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if out.Result.StatusCode == nil || *out.Result.StatusCode != 200 {
		t.Fatalf("unexpected status code %v", out.Result.StatusCode)
	}
	if out.Result.SSLInfo == nil || !out.Result.SSLInfo.Authorized || out.Result.SSLInfo.DaysUntilExpiry < 365 {
		t.Fatalf("unexpected ssl info %+v", out.Result.SSLInfo)
	}
	if out.Result.ContentInfo == nil || out.Result.ContentInfo.Title != "Example" {
		t.Fatalf("unexpected content info %+v", out.Result.ContentInfo)
	}
	if out.Result.ContentInfo.HasExpectedText == nil || !*out.Result.ContentInfo.HasExpectedText {
		t.Fatalf("expected hasExpectedText")
	}
	if out.Result.Performance == nil || out.Result.Performance.TransferTime < 0 {
		t.Fatalf("unexpected performance %+v", out.Result.Performance)
	}
	if out.Result.ErrorCode != "" || out.Result.ErrorDetails != nil {
		t.Fatalf("unexpected error fields %q %+v", out.Result.ErrorCode, out.Result.ErrorDetails)
	}
	if out.Result.HTTPHeaders["content-type"] == "" {
		t.Fatalf("expected flattened headers, got %v", out.Result.HTTPHeaders)
	}
}

func TestScenarioCertificateExpiresSoon(t *testing.T) {
	srv, pool := newCertServer(t, time.Now().Add(10*day+time.Hour), welcomeHandler())

	engine := newTestEngine(Options{RootCAs: pool})
	out := engine.Run(context.Background(), product.Product{ID: "p-b", Type: product.TypeWebsite, URL: srv.URL})

	if out.ProductStatus() != product.StatusWarning || out.Result.Status != product.CheckWarning {
		t.Fatalf("expected warning, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if !strings.Contains(out.Result.Message, "SSL certificate expires in 10 days") {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if out.Result.SSLInfo == nil || out.Result.SSLInfo.DaysUntilExpiry != 10 || out.Result.SSLInfo.Subject != "expira test" {
		t.Fatalf("unexpected ssl info %+v", out.Result.SSLInfo)
	}
}

func TestScenarioConnectionRefused(t *testing.T) {
	engine := newTestEngine(Options{})
	p := product.Product{ID: "p-c", Type: product.TypeWebsite, URL: "https://" + refusedAddr(t)}
	out := engine.Run(context.Background(), p)

	if out.ProductStatus() != product.StatusExpired || out.Result.Status != product.CheckError {
		t.Fatalf("expected expired, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.Message != "Connection refused - the website is not accessible" {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if out.Result.ErrorCode != "ECONNREFUSED" || out.Result.ErrorDetails == nil || out.Result.ErrorDetails.Stage != "transport" {
		t.Fatalf("unexpected error fields %q %+v", out.Result.ErrorCode, out.Result.ErrorDetails)
	}
	if out.Result.StatusCode != nil || out.Result.SSLInfo != nil {
		t.Fatalf("unexpected optional fields on refused check")
	}
}

func TestScenarioAPIJSONMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"fail"}`)
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{})
	out := engine.Run(context.Background(), product.Product{
		ID:   "p-d",
		Type: product.TypeAPI,
		URL:  srv.URL,
		CustomFields: product.CustomFields{
			category("API Response", "expectedJsonKey", "status", "expectedJsonValue", "ok"),
		},
	})

	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if !strings.Contains(out.Result.Message, `"ok"`) || !strings.Contains(out.Result.Message, `"fail"`) {
		t.Fatalf("message lacks expected and actual values: %q", out.Result.Message)
	}
	if out.Result.APIResponse == nil || len(out.Result.APIResponse.Keys) != 1 || out.Result.APIResponse.Keys[0] != "status" {
		t.Fatalf("unexpected api response %+v", out.Result.APIResponse)
	}
	if !strings.HasPrefix(out.Result.Message, "API is accessible (HTTP 200). ") {
		t.Fatalf("unexpected clause order %q", out.Result.Message)
	}
}

func TestScenarioProductExpired(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)

	now := time.Now()
	expiresAt := now.Add(-5 * day)
	engine := newTestEngine(Options{Now: func() time.Time { return now }})
	out := engine.Run(context.Background(), product.Product{ID: "p-e", Type: product.TypeWebsite, URL: srv.URL, ExpiresAt: &expiresAt})

	if out.ProductStatus() != product.StatusExpired || out.Result.Status != product.CheckError {
		t.Fatalf("expected expired, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if !strings.Contains(out.Result.Message, "expiration date has passed (5 days ago)") {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if !out.Result.CheckedAt.Equal(now) {
		t.Fatalf("checkedAt = %s, expected %s", out.Result.CheckedAt, now)
	}
}

func TestProductExpiryWindowOnHealthySite(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)

	now := time.Now()
	for days, want := range map[int]product.Status{30: product.StatusWarning, 31: product.StatusActive, 0: product.StatusWarning, -1: product.StatusExpired} {
		expiresAt := now.Add(time.Duration(days) * day)
		engine := newTestEngine(Options{Now: func() time.Time { return now }})
		out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL, ExpiresAt: &expiresAt})
		if out.ProductStatus() != want {
			t.Fatalf("days=%d: status %s, expected %s (%q)", days, out.ProductStatus(), want, out.Result.Message)
		}
	}
}

func TestProductExpiryOnRunningClock(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)
	engine := newTestEngine(Options{})

	tests := []struct {
		days    int
		status  product.Status
		message string
	}{
		{31, product.StatusActive, "Website is accessible (HTTP 200)"},
		{30, product.StatusWarning, "Website is accessible (HTTP 200). Product expires in 30 days"},
		{0, product.StatusWarning, "Website is accessible (HTTP 200). Product expires in 0 days"},
		{-1, product.StatusExpired, "Website is accessible (HTTP 200). Product expiration date has passed (1 days ago)"},
		{-5, product.StatusExpired, "Website is accessible (HTTP 200). Product expiration date has passed (5 days ago)"},
	}
	for _, tt := range tests {
		expiresAt := time.Now().Add(time.Duration(tt.days) * day)
		out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL, ExpiresAt: &expiresAt})
		if out.ProductStatus() != tt.status || out.Result.Message != tt.message {
			t.Fatalf("days=%d: got %s %q, expected %s %q", tt.days, out.ProductStatus(), out.Result.Message, tt.status, tt.message)
		}
	}
}

func TestMalformedURL(t *testing.T) {
	engine := newTestEngine(Options{})
	out := engine.Run(context.Background(), product.Product{ID: "bad", Type: product.TypeWebsite, URL: "http://"})
	if out.ProductStatus() != product.StatusExpired || out.Result.Status != product.CheckError {
		t.Fatalf("expected expired, got %s", out.ProductStatus())
	}
	if !strings.HasPrefix(out.Result.Message, "Failed to check website: ") {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	r := out.Result
	if r.DNSInfo != nil || r.SSLInfo != nil || r.StatusCode != nil || r.ResponseTime != nil || r.Performance != nil || r.ContentInfo != nil || r.APIResponse != nil || r.NetworkInfo != nil || r.HTTPHeaders != nil {
		t.Fatalf("expected all optional fields absent, got %+v", r)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)

	var calls atomic.Int32
	start := time.Now()
	engine := newTestEngine(Options{Now: func() time.Time {
		if calls.Add(1) > 1 {
			panic("clock exploded")
		}
		return start
	}})
	out := engine.Run(context.Background(), product.Product{ID: "boom", Type: product.TypeWebsite, URL: srv.URL})
	if out.ProductStatus() != product.StatusExpired || out.Result.Message != "Failed to check website: internal error" {
		t.Fatalf("unexpected outcome %s %q", out.ProductStatus(), out.Result.Message)
	}
	if !out.Result.CheckedAt.Equal(start) {
		t.Fatalf("checkedAt not preserved")
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{RequestTimeout: 150 * time.Millisecond})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL})
	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.Message != "Request timeout" || out.Result.ErrorCode != "ETIMEDOUT" {
		t.Fatalf("unexpected result %q %q", out.Result.Message, out.Result.ErrorCode)
	}
}

func TestNon2xxIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL})
	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s", out.ProductStatus())
	}
	if out.Result.Message != "Website returned HTTP 404 Not Found" {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
}

func TestHeadForSSLProducts(t *testing.T) {
	var methods []string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{RootCAs: poolFor(srv)})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeSSL, URL: srv.URL})
	if out.ProductStatus() != product.StatusActive {
		t.Fatalf("expected active, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	srv.Close()
	if len(methods) != 1 || methods[0] != http.MethodHead {
		t.Fatalf("expected a single HEAD request, got %v", methods)
	}
	if out.Result.ContentInfo != nil {
		t.Fatalf("ssl products should not analyze content")
	}
}

func TestExpiredCertificate(t *testing.T) {
	srv, pool := newCertServer(t, time.Now().Add(-3*day+time.Hour), welcomeHandler())

	engine := newTestEngine(Options{RootCAs: pool})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL})
	if out.ProductStatus() != product.StatusExpired {
		t.Fatalf("expected expired, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.ErrorCode != "CERT_HAS_EXPIRED" {
		t.Fatalf("unexpected error code %q", out.Result.ErrorCode)
	}
	if out.Result.SSLInfo == nil || out.Result.SSLInfo.DaysUntilExpiry != -3 || out.Result.SSLInfo.Authorized {
		t.Fatalf("unexpected ssl info %+v", out.Result.SSLInfo)
	}
}

func TestUntrustedCertificateIsWarning(t *testing.T) {
	srv := httptest.NewTLSServer(welcomeHandler())
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL})
	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.SSLInfo == nil || out.Result.SSLInfo.AuthorizationError != "UNABLE_TO_VERIFY_LEAF_SIGNATURE" {
		t.Fatalf("unexpected ssl info %+v", out.Result.SSLInfo)
	}
}

func TestRuleViolationDoesNotBlockOtherRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain text body")
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(Options{})
	out := engine.Run(context.Background(), product.Product{
		Type: product.TypeWebsite,
		URL:  srv.URL,
		CustomFields: product.CustomFields{
			category("API Response", "expectedJsonKey", "status", "expectedJsonValue", "ok"),
			category("HTTP Status", "expectedStatusCode", 201),
		},
	})
	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s", out.ProductStatus())
	}
	if out.Result.Message != "Website is accessible (HTTP 200). Expected status code 201, got 200" {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
}

func TestResolvedHostnameAndDomainNotFound(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())

	resolver := startDNSServer(t, zoneHandler(map[string][]string{
		"shop.test.": {"shop.test. 60 IN A 127.0.0.1", "shop.test. 60 IN MX 5 mx.shop.test."},
	}))
	engine := newTestEngine(Options{DNSResolver: resolver})

	out := engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: "http://shop.test:" + port})
	if out.ProductStatus() != product.StatusActive {
		t.Fatalf("expected active, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.DNSInfo == nil || len(out.Result.DNSInfo.IPv4) != 1 || len(out.Result.DNSInfo.MX) != 1 {
		t.Fatalf("unexpected dns info %+v", out.Result.DNSInfo)
	}

	out = engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: "http://missing.test:" + port})
	if out.ProductStatus() != product.StatusExpired || out.Result.Message != "Domain not found - DNS resolution failed" {
		t.Fatalf("unexpected outcome %s %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.ErrorCode != "ENOTFOUND" {
		t.Fatalf("unexpected error code %q", out.Result.ErrorCode)
	}
}

func TestDomainRegistrationExpiry(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())

	resolver := startDNSServer(t, zoneHandler(map[string][]string{
		"shop.test.": {"shop.test. 60 IN A 127.0.0.1"},
	}))
	expiry := time.Now().Add(10 * day).UTC().Format(time.RFC3339)
	whois := startWHOISServer(t, "Domain Name: SHOP.TEST\r\nRegistry Expiry Date: "+expiry+"\r\n")

	engine := newTestEngine(Options{
		DNSResolver: resolver,
		WHOIS:       &WHOISClient{Server: whois, Timeout: 2 * time.Second},
	})
	out := engine.Run(context.Background(), product.Product{Type: product.TypeDomain, URL: "http://shop.test:" + port})
	if out.ProductStatus() != product.StatusWarning {
		t.Fatalf("expected warning, got %s: %q", out.ProductStatus(), out.Result.Message)
	}
	if out.Result.Message != "Domain is accessible (HTTP 200). Domain registration expires in 10 days" {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if out.Result.DNSInfo.RegistrationExpiry == nil {
		t.Fatalf("expected registration expiry on dns info")
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(welcomeHandler())
	t.Cleanup(srv.Close)
	engine := newTestEngine(Options{})

	results := make(chan Outcome, 8)
	for i := 0; i < cap(results); i++ {
		go func() {
			results <- engine.Run(context.Background(), product.Product{Type: product.TypeWebsite, URL: srv.URL})
		}()
	}
	for i := 0; i < cap(results); i++ {
		out := <-results
		if out.Result.Message != "Website is accessible (HTTP 200)" {
			t.Fatalf("unexpected message %q", out.Result.Message)
		}
	}
}
