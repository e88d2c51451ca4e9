package config

import "time"

// Config represents the complete gatehouse configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Store    StoreConfig    `yaml:"store"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Admin    AdminConfig    `yaml:"admin,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StoreConfig defines where the sqlite database lives.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig defines the inbound HTTP server settings.
type GatewayConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DeliveryConfig defines outbound webhook delivery settings.
type DeliveryConfig struct {
	// Timeout bounds a single delivery attempt. A slow endpoint must not
	// hold up deliveries to its siblings.
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	SignatureHeader string        `yaml:"signature_header"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AdminConfig guards the operator surface (SSE stream).
type AdminConfig struct {
	// Token is a static bearer token. Empty disables the admin routes.
	Token string `yaml:"token,omitempty"`
}

// EventsConfig tunes the in-memory delivery event hub.
type EventsConfig struct {
	RingCapacity int `yaml:"ring_capacity"`
}
