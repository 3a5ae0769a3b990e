package checks

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureNone},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), FailureTimeout},
		{"dns not found", &url.Error{Op: "Get", URL: "https://x", Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}}, FailureNameNotFound},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "x", IsTimeout: true}, FailureTimeout},
		{"refused", &url.Error{Op: "Get", URL: "https://x", Err: refused}, FailureConnectionRefused},
		{"expired", x509.CertificateInvalidError{Reason: x509.Expired}, FailureCertificateExpired},
		{"not authorized", x509.CertificateInvalidError{Reason: x509.NotAuthorizedToSign}, FailureCertificateUntrusted},
		{"unknown authority", fmt.Errorf("tls: %w", x509.UnknownAuthorityError{}), FailureCertificateUntrusted},
		{"hostname", x509.HostnameError{Host: "x"}, FailureHostnameMismatch},
		{"insecure alg", x509.InsecureAlgorithmError(x509.MD5WithRSA), FailureSignature},
		{"other", errors.New("connection reset"), FailureOther},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("%s: Classify = %s, expected %s", tt.name, got, tt.want)
		}
	}
}

func TestSeverityTables(t *testing.T) {
	transport := map[FailureKind]Severity{
		FailureTimeout:              SeverityWarning,
		FailureNameNotFound:         SeverityExpired,
		FailureConnectionRefused:    SeverityExpired,
		FailureCertificateExpired:   SeverityExpired,
		FailureCertificateUntrusted: SeverityWarning,
		FailureOther:                SeverityWarning,
	}
	for kind, want := range transport {
		if got := severityFor(transportSeverity, kind); got != want {
			t.Fatalf("transport %s = %s, expected %s", kind, got, want)
		}
	}
	strict := map[FailureKind]Severity{
		FailureNameNotFound:         SeverityExpired,
		FailureConnectionRefused:    SeverityExpired,
		FailureCertificateExpired:   SeverityExpired,
		FailureCertificateUntrusted: SeverityWarning,
		FailureSignature:            SeverityWarning,
		FailureTimeout:              SeverityWarning,
		FailureOther:                SeverityWarning,
	}
	for kind, want := range strict {
		if got := severityFor(tlsSeverity, kind); got != want {
			t.Fatalf("tls %s = %s, expected %s", kind, got, want)
		}
	}
}

func TestTransportFailureMessages(t *testing.T) {
	f := transportFailure("website", FailureConnectionRefused, errors.New("refused"))
	if f.Message != "Connection refused - the website is not accessible" || f.Severity != SeverityExpired {
		t.Fatalf("unexpected finding %+v", f)
	}
	f = transportFailure("api", FailureTimeout, context.DeadlineExceeded)
	if f.Message != "Request timeout" || f.Severity != SeverityWarning {
		t.Fatalf("unexpected finding %+v", f)
	}
}
