package product

import (
	"fmt"
	"strings"
	"time"
)

// Type selects which stages and rules apply to a product.
type Type string

const (
	TypeWebsite Type = "website"
	TypeDomain  Type = "domain"
	TypeSSL     Type = "ssl"
	TypeAPI     Type = "api"
)

// ParseType normalises a product type string.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypeWebsite, TypeDomain, TypeSSL, TypeAPI:
		return t, nil
	case "":
		return TypeWebsite, nil
	default:
		return "", fmt.Errorf("unsupported product type %q", raw)
	}
}

// NeedsBody reports whether checks of this type fetch and inspect the response body.
func (t Type) NeedsBody() bool {
	return t == TypeWebsite || t == TypeAPI
}

// Label is the human-readable subject used in check messages.
func (t Type) Label() string {
	switch t {
	case TypeAPI:
		return "API"
	case TypeDomain:
		return "Domain"
	case TypeSSL:
		return "SSL endpoint"
	default:
		return "Website"
	}
}

// Noun is Label as used mid-sentence. Acronyms keep their case.
func (t Type) Noun() string {
	switch t {
	case TypeAPI, TypeSSL:
		return t.Label()
	default:
		return strings.ToLower(t.Label())
	}
}

// Status is the persisted health state of a product.
type Status string

const (
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusExpired Status = "expired"
)

// Product is a user-registered monitored target.
type Product struct {
	ID           string       `json:"id" yaml:"id"`
	UserID       string       `json:"userId" yaml:"user_id"`
	Name         string       `json:"name" yaml:"name"`
	URL          string       `json:"url" yaml:"url"`
	Type         Type         `json:"type" yaml:"type"`
	CustomFields CustomFields `json:"customFields,omitempty" yaml:"custom_fields"`
	ExpiresAt    *time.Time   `json:"expiresAt,omitempty" yaml:"expires_at"`
	Status       Status       `json:"status" yaml:"-"`
	LastChecked  time.Time    `json:"lastChecked" yaml:"-"`
}

// DisplayName falls back to the URL when no name is set.
func (p Product) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.URL
}
