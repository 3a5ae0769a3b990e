package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osbits/expira/internal/product"
)

// Duration wraps time.Duration to allow YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string, got %s", value.ShortTag())
	}
}

// Or returns fallback when the duration is unset.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// Config is the root configuration.
type Config struct {
	Version   int                   `yaml:"version"`
	Service   ServiceConfig         `yaml:"service"`
	Engine    EngineConfig          `yaml:"engine"`
	Storage   StorageConfig         `yaml:"storage"`
	Server    ServerConfig          `yaml:"server"`
	Secrets   map[string]SecretSpec `yaml:"secrets"`
	Notifiers []NotifierConfig      `yaml:"notifiers"`
	Products  []ProductSeed         `yaml:"products"`
}

// ServiceConfig contains global settings.
type ServiceConfig struct {
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Defaults ServiceDefault `yaml:"defaults"`
}

// ServiceDefault defines scheduling defaults for product checks.
type ServiceDefault struct {
	Schedule           string            `yaml:"schedule"`
	Workers            int               `yaml:"workers"`
	RatePerSecond      float64           `yaml:"rate_per_second"`
	MaintenanceWindows []MaintenanceSpec `yaml:"maintenance_windows"`
	MaintenanceLength  Duration          `yaml:"maintenance_length"`
	LogRuns            bool              `yaml:"log_runs"`
}

// EngineConfig tunes the health-check pipeline.
type EngineConfig struct {
	RequestTimeout    Duration    `yaml:"request_timeout"`
	TLSTimeout        Duration    `yaml:"tls_timeout"`
	DNSTimeout        Duration    `yaml:"dns_timeout"`
	DNSResolver       string      `yaml:"dns_resolver"`
	WarningWindowDays int         `yaml:"warning_window_days"`
	UserAgent         string      `yaml:"user_agent"`
	MaxBodyBytes      int64       `yaml:"max_body_bytes"`
	MaxRedirects      int         `yaml:"max_redirects"`
	ICMP              ICMPConfig  `yaml:"icmp"`
	WHOIS             WHOISConfig `yaml:"whois"`
}

// ICMPConfig enables the optional ping probe.
type ICMPConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Count      int      `yaml:"count"`
	Timeout    Duration `yaml:"timeout"`
	Privileged bool     `yaml:"privileged"`
}

// WHOISConfig enables registration lookups for domain products.
type WHOISConfig struct {
	Enabled bool     `yaml:"enabled"`
	Timeout Duration `yaml:"timeout"`
	Server  string   `yaml:"server"`
}

// StorageConfig configures the sqlite store.
type StorageConfig struct {
	Path                     string `yaml:"path"`
	CheckResultRetention     int    `yaml:"check_result_retention"`
	NotificationLogRetention int    `yaml:"notification_log_retention"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	LogRequests    bool     `yaml:"log_requests"`
	AllowedIPs     []string `yaml:"allowed_ips"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// MaintenanceSpec includes cron or range expressions.
type MaintenanceSpec struct {
	Expr string
	Kind MaintenanceKind
}

// MaintenanceKind indicates the maintenance window type.
type MaintenanceKind string

const (
	MaintenanceKindCron  MaintenanceKind = "cron"
	MaintenanceKindRange MaintenanceKind = "range"
)

// UnmarshalYAML allows parsing "cron: ..." or "range: ...".
func (m *MaintenanceSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("maintenance spec must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	switch {
	case strings.HasPrefix(raw, "cron:"):
		m.Kind = MaintenanceKindCron
		m.Expr = strings.TrimSpace(strings.TrimPrefix(raw, "cron:"))
	case strings.HasPrefix(raw, "range:"):
		m.Kind = MaintenanceKindRange
		m.Expr = strings.TrimSpace(strings.TrimPrefix(raw, "range:"))
	default:
		return fmt.Errorf("unsupported maintenance spec %q", raw)
	}
	return nil
}

// SecretSpec defines how to resolve a secret.
type SecretSpec struct {
	Source string
	Value  string
}

// UnmarshalYAML parses secret definitions like "env:SMTP_PASSWORD".
func (s *SecretSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("secret must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid secret spec %q", raw)
	}
	s.Source = strings.TrimSpace(parts[0])
	s.Value = strings.TrimSpace(parts[1])
	return nil
}

// ResolveSecrets resolves secrets into a map.
func (c *Config) ResolveSecrets() (map[string]string, error) {
	resolved := make(map[string]string, len(c.Secrets))
	for key, spec := range c.Secrets {
		switch spec.Source {
		case "env":
			val, ok := os.LookupEnv(spec.Value)
			if !ok {
				return nil, fmt.Errorf("missing env var %q for secret %q", spec.Value, key)
			}
			resolved[key] = val
		default:
			return nil, fmt.Errorf("unsupported secret source %q for secret %q", spec.Source, key)
		}
	}
	return resolved, nil
}

// NotifierConfig describes a notification endpoint bound to an alert channel.
type NotifierConfig struct {
	ID      string                 `yaml:"id"`
	Type    string                 `yaml:"type"`
	Channel string                 `yaml:"channel"`
	Config  map[string]interface{} `yaml:"config"`
}

// ProductSeed is a product declared in the configuration file.
type ProductSeed struct {
	ID           string               `yaml:"id"`
	UserID       string               `yaml:"user_id"`
	Name         string               `yaml:"name"`
	URL          string               `yaml:"url"`
	Type         string               `yaml:"type"`
	ExpiresAt    string               `yaml:"expires_at"`
	CustomFields product.CustomFields `yaml:"custom_fields"`
}

// Product converts the seed into a product record.
func (s ProductSeed) Product() (product.Product, error) {
	typ, err := product.ParseType(s.Type)
	if err != nil {
		return product.Product{}, fmt.Errorf("product %q: %w", s.ID, err)
	}
	p := product.Product{
		ID:           s.ID,
		UserID:       s.UserID,
		Name:         s.Name,
		URL:          s.URL,
		Type:         typ,
		CustomFields: s.CustomFields,
		Status:       product.StatusActive,
	}
	if raw := strings.TrimSpace(s.ExpiresAt); raw != "" {
		ts, err := parseDate(raw)
		if err != nil {
			return product.Product{}, fmt.Errorf("product %q expires_at: %w", s.ID, err)
		}
		p.ExpiresAt = &ts
	}
	return p, nil
}

func parseDate(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected RFC3339 or YYYY-MM-DD)", raw)
	}
	return ts.UTC(), nil
}
