package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"os"
	"syscall"
)

// FailureKind is the closed set of network failures the engine distinguishes.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureNameNotFound
	FailureConnectionRefused
	FailureCertificateExpired
	FailureCertificateUntrusted
	FailureSignature
	FailureHostnameMismatch
	FailureOther
)

// Code is the stable error code recorded on the check result.
func (k FailureKind) Code() string {
	switch k {
	case FailureTimeout:
		return "ETIMEDOUT"
	case FailureNameNotFound:
		return "ENOTFOUND"
	case FailureConnectionRefused:
		return "ECONNREFUSED"
	case FailureCertificateExpired:
		return "CERT_HAS_EXPIRED"
	case FailureCertificateUntrusted:
		return "UNABLE_TO_VERIFY_LEAF_SIGNATURE"
	case FailureSignature:
		return "CERT_SIGNATURE_FAILURE"
	case FailureHostnameMismatch:
		return "ERR_TLS_CERT_ALTNAME_INVALID"
	case FailureOther:
		return "ENETWORK"
	default:
		return ""
	}
}

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureNameNotFound:
		return "name_not_found"
	case FailureConnectionRefused:
		return "connection_refused"
	case FailureCertificateExpired:
		return "certificate_expired"
	case FailureCertificateUntrusted:
		return "certificate_untrusted"
	case FailureSignature:
		return "signature_failure"
	case FailureHostnameMismatch:
		return "hostname_mismatch"
	default:
		return "other"
	}
}

// transportSeverity is the kind -> severity table for the primary request.
var transportSeverity = map[FailureKind]Severity{
	FailureTimeout:            SeverityWarning,
	FailureNameNotFound:       SeverityExpired,
	FailureConnectionRefused:  SeverityExpired,
	FailureCertificateExpired: SeverityExpired,
}

// tlsSeverity is the kind -> severity table for the strict handshake.
var tlsSeverity = map[FailureKind]Severity{
	FailureNameNotFound:         SeverityExpired,
	FailureConnectionRefused:    SeverityExpired,
	FailureCertificateExpired:   SeverityExpired,
	FailureCertificateUntrusted: SeverityWarning,
	FailureSignature:            SeverityWarning,
	FailureTimeout:              SeverityWarning,
}

func severityFor(table map[FailureKind]Severity, kind FailureKind) Severity {
	if kind == FailureNone {
		return SeverityActive
	}
	if sev, ok := table[kind]; ok {
		return sev
	}
	return SeverityWarning
}

// Classify maps a network error onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) {
		if certErr.Reason == x509.Expired {
			return FailureCertificateExpired
		}
		return FailureCertificateUntrusted
	}
	var authErr x509.UnknownAuthorityError
	if errors.As(err, &authErr) {
		return FailureCertificateUntrusted
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return FailureHostnameMismatch
	}
	var algErr x509.InsecureAlgorithmError
	if errors.As(err, &algErr) || errors.Is(err, x509.ErrUnsupportedAlgorithm) {
		return FailureSignature
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return FailureCertificateUntrusted
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureTimeout
		}
		return FailureNameNotFound
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureOther
}

// failureReason strips the url.Error envelope so messages name the cause.
func failureReason(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
