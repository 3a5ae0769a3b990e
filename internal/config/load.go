package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSchedule          = "@every 1h"
	DefaultWorkers           = 4
	DefaultRequestTimeout    = 10 * time.Second
	DefaultTLSTimeout        = 10 * time.Second
	DefaultDNSTimeout        = 3 * time.Second
	DefaultWarningWindowDays = 30
	DefaultMaxBodyBytes      = 5 << 20
	DefaultMaxRedirects      = 10
	DefaultListen            = ":8080"
	DefaultDBPath            = "expira.db"
	DefaultUserAgent         = "expira-health-check/1.0"
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document and applies defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if path := strings.TrimSpace(os.Getenv("EXPIRA_DB_PATH")); path != "" {
		cfg.Storage.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "expira"
	}
	if c.Service.Defaults.Schedule == "" {
		c.Service.Defaults.Schedule = DefaultSchedule
	}
	if c.Service.Defaults.Workers <= 0 {
		c.Service.Defaults.Workers = DefaultWorkers
	}
	if c.Engine.WarningWindowDays <= 0 {
		c.Engine.WarningWindowDays = DefaultWarningWindowDays
	}
	if c.Engine.MaxBodyBytes <= 0 {
		c.Engine.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Engine.MaxRedirects <= 0 {
		c.Engine.MaxRedirects = DefaultMaxRedirects
	}
	if c.Engine.UserAgent == "" {
		c.Engine.UserAgent = DefaultUserAgent
	}
	if c.Engine.ICMP.Count <= 0 {
		c.Engine.ICMP.Count = 3
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultDBPath
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Service.Timezone != "" {
		if _, err := time.LoadLocation(c.Service.Timezone); err != nil {
			return fmt.Errorf("service.timezone: %w", err)
		}
	}
	if c.Service.Defaults.RatePerSecond < 0 {
		return fmt.Errorf("service.defaults.rate_per_second must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Notifiers))
	for i, n := range c.Notifiers {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("notifiers[%d]: id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("notifiers[%d]: duplicate id %q", i, n.ID)
		}
		seen[n.ID] = struct{}{}
		switch n.Channel {
		case "email", "sms", "push":
		default:
			return fmt.Errorf("notifier %q: unsupported channel %q", n.ID, n.Channel)
		}
	}
	ids := make(map[string]struct{}, len(c.Products))
	for i, p := range c.Products {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("products[%d]: id is required", i)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("products[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = struct{}{}
		if _, err := p.Product(); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the configured time zone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Service.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Service.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
