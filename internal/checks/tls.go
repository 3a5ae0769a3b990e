package checks

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osbits/expira/internal/product"
)

// TLSReport is the TLS inspector output.
type TLSReport struct {
	Info       *product.SSLInfo
	Handshake  time.Duration
	StrictKind FailureKind
	StrictErr  error
	// Findings come from certificate dates; Strict from chain verification.
	Findings []Finding
	Strict   *Finding
}

// inspectTLS runs a lenient handshake for certificate metadata and a strict
// one for chain verification. Neither short-circuits the other.
func (e *Engine) inspectTLS(ctx context.Context, target Target, dial DialFunc) TLSReport {
	var report TLSReport
	serverName := ""
	if !target.IsIP {
		serverName = target.Hostname
	}

	state, elapsed, lenientErr := e.handshake(ctx, target, dial, &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
	})
	report.Handshake = elapsed
	if lenientErr != nil {
		e.logger.Debug("lenient tls handshake failed", "host", target.Hostname, "error", lenientErr)
	}
	if lenientErr == nil && len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		info := certificateInfo(cert, e.now())
		info.Protocol = tls.VersionName(state.Version)
		info.CipherSuite = tls.CipherSuiteName(state.CipherSuite)
		report.Info = info
		if f, ok := expiryFinding("tls", info.DaysUntilExpiry, e.opts.WarningWindowDays,
			"SSL certificate expired %d days ago", "SSL certificate expires in %d days"); ok {
			report.Findings = append(report.Findings, f)
		}
	}

	// IP literals are verified against the certificate's IP SANs.
	_, _, strictErr := e.handshake(ctx, target, dial, &tls.Config{
		ServerName: target.Hostname,
		RootCAs:    e.opts.RootCAs,
	})
	report.StrictErr = strictErr
	report.StrictKind = Classify(strictErr)
	if report.Info != nil {
		report.Info.Authorized = strictErr == nil
		if strictErr != nil {
			report.Info.AuthorizationError = report.StrictKind.Code()
		}
	}
	if strictErr != nil {
		f := strictFailure(report.StrictKind, strictErr)
		report.Strict = &f
	}
	return report
}

func (e *Engine) handshake(ctx context.Context, target Target, dial DialFunc, cfg *tls.Config) (tls.ConnectionState, time.Duration, error) {
	hsCtx, cancel := context.WithTimeout(ctx, e.opts.TLSTimeout)
	defer cancel()

	raw, err := dial(hsCtx, "tcp", target.Address())
	if err != nil {
		return tls.ConnectionState{}, 0, err
	}
	conn := tls.Client(raw, cfg)
	defer conn.Close()

	start := time.Now()
	err = conn.HandshakeContext(hsCtx)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(hsCtx.Err(), context.DeadlineExceeded) {
			return tls.ConnectionState{}, elapsed, fmt.Errorf("tls handshake: %w", context.DeadlineExceeded)
		}
		return tls.ConnectionState{}, elapsed, err
	}
	return conn.ConnectionState(), elapsed, nil
}

func certificateInfo(cert *x509.Certificate, now time.Time) *product.SSLInfo {
	sum := sha256.Sum256(cert.Raw)
	return &product.SSLInfo{
		Issuer:             distinguishedName(cert.Issuer.CommonName, cert.Issuer.String()),
		Subject:            distinguishedName(cert.Subject.CommonName, cert.Subject.String()),
		SerialNumber:       strings.ToUpper(cert.SerialNumber.Text(16)),
		DNSNames:           cert.DNSNames,
		ValidFrom:          cert.NotBefore.UTC(),
		ValidTo:            cert.NotAfter.UTC(),
		DaysUntilExpiry:    DaysUntil(cert.NotAfter, now),
		Fingerprint:        colonHex(sum[:]),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
	}
}

func distinguishedName(cn, full string) string {
	if cn != "" {
		return cn
	}
	return full
}

func colonHex(b []byte) string {
	const digits = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteByte(digits[v>>4])
		sb.WriteByte(digits[v&0x0f])
	}
	return sb.String()
}

func strictFailure(kind FailureKind, err error) Finding {
	f := Finding{Stage: "tls", Severity: severityFor(tlsSeverity, kind)}
	if f.Severity == SeverityExpired {
		f.When = WhenNotExpired
	}
	switch kind {
	case FailureNameNotFound, FailureConnectionRefused:
		f.Message = fmt.Sprintf("SSL check failed - host unreachable (%s)", kind.Code())
	case FailureCertificateExpired:
		f.Message = "SSL certificate has expired"
	case FailureCertificateUntrusted:
		f.Message = fmt.Sprintf("SSL certificate chain could not be verified (%s)", kind.Code())
	case FailureSignature:
		f.Message = fmt.Sprintf("SSL certificate signature is invalid (%s)", kind.Code())
	case FailureHostnameMismatch:
		f.Message = fmt.Sprintf("SSL certificate does not match hostname (%s)", kind.Code())
	case FailureTimeout:
		f.Message = "SSL handshake timeout"
	default:
		f.Message = "SSL verification failed: " + err.Error()
	}
	return f
}
