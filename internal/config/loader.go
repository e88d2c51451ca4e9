package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "gatehouse",
			LogLevel: "INFO",
		},
		Store: StoreConfig{
			Path: "./data/gatehouse.db",
		},
		Gateway: GatewayConfig{
			Listen:       "127.0.0.1:8470",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Delivery: DeliveryConfig{
			Timeout:         10 * time.Second,
			UserAgent:       "gatehouse-webhooks/1.0",
			SignatureHeader: "X-Gatehouse-Signature",
			MaxBodyBytes:    1 << 20,
		},
		Events: EventsConfig{
			RingCapacity: 256,
		},
	}
}

// DiscoverConfigPath locates the config file when none is given on the
// command line: GATEHOUSE_CONFIG first, then ./gatehouse.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("GATEHOUSE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("GATEHOUSE_CONFIG points to %s: %w", p, err)
		}
		return p, nil
	}

	const local = "gatehouse.yaml"
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	return "", fmt.Errorf("no config found (set GATEHOUSE_CONFIG or create %s)", local)
}

// Load reads and validates a YAML config file, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults backfills zero values that yaml.Unmarshal may have
// explicitly cleared.
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.Service.Name == "" {
		c.Service.Name = d.Service.Name
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = d.Service.LogLevel
	}
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = d.Gateway.Listen
	}
	if c.Gateway.ReadTimeout <= 0 {
		c.Gateway.ReadTimeout = d.Gateway.ReadTimeout
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = d.Gateway.WriteTimeout
	}
	if c.Delivery.Timeout <= 0 {
		c.Delivery.Timeout = d.Delivery.Timeout
	}
	if c.Delivery.UserAgent == "" {
		c.Delivery.UserAgent = d.Delivery.UserAgent
	}
	if c.Delivery.SignatureHeader == "" {
		c.Delivery.SignatureHeader = d.Delivery.SignatureHeader
	}
	if c.Delivery.MaxBodyBytes <= 0 {
		c.Delivery.MaxBodyBytes = d.Delivery.MaxBodyBytes
	}
	if c.Events.RingCapacity <= 0 {
		c.Events.RingCapacity = d.Events.RingCapacity
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen is required")
	}
	if c.Delivery.Timeout < time.Second {
		return fmt.Errorf("delivery.timeout must be at least 1s, got %v", c.Delivery.Timeout)
	}
	return nil
}
