package checks

import (
	"slices"
	"strings"

	"github.com/osbits/expira/internal/product"
)

// Severity orders check outcomes: active < warning < expired.
type Severity int

const (
	SeverityActive Severity = iota
	SeverityWarning
	SeverityExpired
)

func (s Severity) String() string {
	return string(s.ProductStatus())
}

// ProductStatus maps the severity onto the persisted product state.
func (s Severity) ProductStatus() product.Status {
	switch s {
	case SeverityExpired:
		return product.StatusExpired
	case SeverityWarning:
		return product.StatusWarning
	default:
		return product.StatusActive
	}
}

// CheckStatus maps the severity onto the check-level status.
func (s Severity) CheckStatus() product.CheckStatus {
	switch s {
	case SeverityExpired:
		return product.CheckError
	case SeverityWarning:
		return product.CheckWarning
	default:
		return product.CheckSuccess
	}
}

// Condition gates a finding on the running severity at the time it is applied.
type Condition int

const (
	// Always applies the finding.
	Always Condition = iota
	// WhenActive applies the finding only while nothing has escalated yet.
	WhenActive
	// WhenNotExpired applies the finding unless the verdict is already expired.
	WhenNotExpired
)

// Finding is what a stage suggests to the reducer.
type Finding struct {
	Stage    string
	Severity Severity
	When     Condition
	Message  string
}

// Verdict accumulates findings. Apply never mutates the receiver.
type Verdict struct {
	severity Severity
	clauses  []string
}

// Apply returns the verdict with f merged in. Severity never decreases.
func (v Verdict) Apply(f Finding) Verdict {
	switch f.When {
	case WhenActive:
		if v.severity != SeverityActive {
			return v
		}
	case WhenNotExpired:
		if v.severity == SeverityExpired {
			return v
		}
	}
	next := Verdict{severity: max(v.severity, f.Severity), clauses: slices.Clone(v.clauses)}
	if msg := strings.TrimSpace(f.Message); msg != "" {
		next.clauses = append(next.clauses, msg)
	}
	return next
}

// ApplyAll merges findings in order.
func (v Verdict) ApplyAll(findings []Finding) Verdict {
	for _, f := range findings {
		v = v.Apply(f)
	}
	return v
}

// Severity returns the running severity.
func (v Verdict) Severity() Severity {
	return v.severity
}

// Message joins the accumulated clauses.
func (v Verdict) Message() string {
	return strings.Join(v.clauses, ". ")
}
