package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
version: 1
service:
  name: expira-test
  timezone: UTC
  defaults:
    schedule: "@every 15m"
    workers: 2
    maintenance_windows:
      - "cron: 0 3 * * SUN"
    maintenance_length: 30m
engine:
  request_timeout: 5s
  dns_resolver: 127.0.0.1:5353
secrets:
  smtp_password: env:EXPIRA_TEST_SMTP_PASSWORD
notifiers:
  - id: ops-mail
    type: email
    channel: email
    config:
      smtp_host: localhost
products:
  - id: shop
    user_id: u1
    name: Shop
    url: shop.example.com
    type: website
    expires_at: "2031-01-15"
    custom_fields:
      Performance:
        maxResponseTime: 800
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("EXPIRA_DB_PATH", "")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Service.Defaults.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Service.Defaults.Workers)
	}
	if got := cfg.Engine.RequestTimeout.Or(DefaultRequestTimeout); got != 5*time.Second {
		t.Fatalf("request timeout = %s", got)
	}
	if got := cfg.Engine.TLSTimeout.Or(DefaultTLSTimeout); got != DefaultTLSTimeout {
		t.Fatalf("tls timeout = %s", got)
	}
	if cfg.Engine.WarningWindowDays != DefaultWarningWindowDays {
		t.Fatalf("warning window = %d", cfg.Engine.WarningWindowDays)
	}
	if cfg.Storage.Path != DefaultDBPath {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if len(cfg.Service.Defaults.MaintenanceWindows) != 1 || cfg.Service.Defaults.MaintenanceWindows[0].Kind != MaintenanceKindCron {
		t.Fatalf("unexpected maintenance windows: %+v", cfg.Service.Defaults.MaintenanceWindows)
	}
	p, err := cfg.Products[0].Product()
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if p.ExpiresAt == nil || p.ExpiresAt.Year() != 2031 {
		t.Fatalf("unexpected expiresAt: %v", p.ExpiresAt)
	}
	if v, ok := p.CustomFields.Lookup("maxResponseTime"); !ok || v != 800 {
		t.Fatalf("custom field lookup = %v, %v", v, ok)
	}
}

func TestDBPathOverride(t *testing.T) {
	t.Setenv("EXPIRA_DB_PATH", "/tmp/override.db")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
}

func TestParseRejectsUnknownChannel(t *testing.T) {
	src := `
notifiers:
  - id: pager
    type: webhook
    channel: pager
`
	if _, err := Parse([]byte(src)); err == nil {
		t.Fatalf("expected error for unsupported channel")
	}
}

func TestParseRejectsDuplicateProducts(t *testing.T) {
	src := `
products:
  - id: a
    url: a.example.com
  - id: a
    url: b.example.com
`
	if _, err := Parse([]byte(src)); err == nil {
		t.Fatalf("expected duplicate product error")
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("EXPIRA_TEST_SMTP_PASSWORD", "hunter2")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if secrets["smtp_password"] != "hunter2" {
		t.Fatalf("unexpected secret %q", secrets["smtp_password"])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expira.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: disk\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Name != "disk" || cfg.Service.Defaults.Schedule != DefaultSchedule {
		t.Fatalf("unexpected config: %+v", cfg.Service)
	}
}
