// Package config provides configuration management for maild.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// ListenerMode identifies which protocol and transport a listener serves.
type ListenerMode string

const (
	// ModeIMAP is plaintext IMAP on port 143, with STARTTLS available.
	ModeIMAP ListenerMode = "imap"
	// ModeIMAPS is implicit TLS IMAP on port 993.
	ModeIMAPS ListenerMode = "imaps"
	// ModeSMTP is plaintext SMTP on port 25, with STARTTLS available.
	ModeSMTP ListenerMode = "smtp"
	// ModeSMTPS is implicit TLS SMTP on port 465.
	ModeSMTPS ListenerMode = "smtps"
)

// Protocol returns "imap" or "smtp" for the listener's protocol family.
func (m ListenerMode) Protocol() string {
	switch m {
	case ModeIMAP, ModeIMAPS:
		return "imap"
	default:
		return "smtp"
	}
}

// Implicit reports whether the listener performs the TLS handshake before
// any protocol bytes are exchanged (as opposed to upgrading via STARTTLS).
func (m ListenerMode) Implicit() bool {
	return m == ModeIMAPS || m == ModeSMTPS
}

// FileConfig is the top-level wrapper for the on-disk configuration file.
type FileConfig struct {
	Mail      MailConfig     `toml:"mail"`
	ListenIPs []string       `toml:"listen_ips"`
	TLS       TLSConfig      `toml:"tls"`
	Auth      AuthConfig     `toml:"auth"`
	LogLevel  string         `toml:"log_level"`
	Timeouts  TimeoutsConfig `toml:"timeouts"`
	Limits    LimitsConfig   `toml:"limits"`
	Metrics   MetricsConfig  `toml:"metrics"`
	Ports     PortsConfig    `toml:"ports"`
}

// MailConfig holds the settings named directly in §6 of the specification.
type MailConfig struct {
	MaildirFolders string `toml:"maildir_folders"`
	Hostname       string `toml:"hostname"`
}

// PortsConfig overrides the default port numbers bound for each protocol.
// Every bind address in ListenIPs receives all four ports.
type PortsConfig struct {
	IMAP  int `toml:"imap"`
	IMAPS int `toml:"imaps"`
	SMTP  int `toml:"smtp"`
	SMTPS int `toml:"smtps"`
}

// TLSConfig holds TLS certificate and version settings.
type TLSConfig struct {
	CertPath   string `toml:"cert_path"`
	KeyPath    string `toml:"key_path"`
	MinVersion string `toml:"min_version"`
}

// AuthConfig selects and configures the auth backend (C9).
type AuthConfig struct {
	// AllowPlaintext, if false, refuses LOGIN/AUTH while the connection is
	// not yet secured by TLS.
	AllowPlaintext bool `toml:"allow_plaintext"`
	// Backend selects "local" (github.com/infodancer/auth) or "grpc" (a
	// remote credential-verification service).
	Backend string `toml:"backend"`
	// Type names the underlying github.com/infodancer/auth agent type
	// (e.g. "passwd") when Backend is "local".
	Type              string            `toml:"type"`
	CredentialBackend string            `toml:"credential_backend"`
	KeyBackend        string            `toml:"key_backend"`
	GRPCAddress       string            `toml:"grpc_address"`
	Options           map[string]string `toml:"options"`
}

// IsConfigured reports whether an auth backend has been selected.
func (a AuthConfig) IsConfigured() bool {
	return a.Backend != ""
}

// TimeoutsConfig defines timeout durations.
type TimeoutsConfig struct {
	Connection string `toml:"connection"`
	Command    string `toml:"command"`
	Idle       string `toml:"idle"`
}

// LimitsConfig defines resource limits for the server.
type LimitsConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// MetricsConfig holds configuration for the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// ListenerConfig defines settings for a single listener, derived from
// ListenIPs x the four protocol modes.
type ListenerConfig struct {
	Address string
	Mode    ListenerMode
}

// Config holds the full maild configuration.
type Config struct {
	Mail      MailConfig
	ListenIPs []string
	TLS       TLSConfig
	Auth      AuthConfig
	LogLevel  string
	Timeouts  TimeoutsConfig
	Limits    LimitsConfig
	Metrics   MetricsConfig
	Ports     PortsConfig
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Mail: MailConfig{
			Hostname:       "localhost",
			MaildirFolders: "/var/mail/maild",
		},
		LogLevel: "info",
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Timeouts: TimeoutsConfig{
			Connection: "30m",
			Command:    "1m",
			Idle:       "30m",
		},
		Limits: LimitsConfig{
			MaxConnections: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
		Ports: PortsConfig{
			IMAP:  143,
			IMAPS: 993,
			SMTP:  25,
			SMTPS: 465,
		},
	}
}

// Listeners expands ListenIPs (defaulting to all interfaces) into the full
// four-port set required by §6: every bind address gets an IMAP, IMAPS,
// SMTP, and SMTPS listener.
func (c *Config) Listeners() []ListenerConfig {
	ips := c.ListenIPs
	if len(ips) == 0 {
		ips = []string{"0.0.0.0"}
	}

	modes := []struct {
		mode ListenerMode
		port int
	}{
		{ModeIMAP, c.Ports.IMAP},
		{ModeIMAPS, c.Ports.IMAPS},
		{ModeSMTP, c.Ports.SMTP},
		{ModeSMTPS, c.Ports.SMTPS},
	}

	listeners := make([]ListenerConfig, 0, len(ips)*len(modes))
	for _, ip := range ips {
		for _, m := range modes {
			listeners = append(listeners, ListenerConfig{
				Address: fmt.Sprintf("%s:%d", ip, m.port),
				Mode:    m.mode,
			})
		}
	}
	return listeners
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Mail.Hostname == "" {
		return errors.New("mail.hostname is required")
	}

	if c.Mail.MaildirFolders == "" {
		return errors.New("mail.maildir_folders is required")
	}

	if c.Ports.IMAP <= 0 || c.Ports.IMAPS <= 0 || c.Ports.SMTP <= 0 || c.Ports.SMTPS <= 0 {
		return errors.New("all four ports (imap, imaps, smtp, smtps) must be positive")
	}

	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}

	if c.Timeouts.Connection != "" {
		if _, err := time.ParseDuration(c.Timeouts.Connection); err != nil {
			return fmt.Errorf("invalid connection timeout: %w", err)
		}
	}

	if c.Timeouts.Command != "" {
		if _, err := time.ParseDuration(c.Timeouts.Command); err != nil {
			return fmt.Errorf("invalid command timeout: %w", err)
		}
	}

	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}

	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}

	if c.Auth.IsConfigured() {
		switch c.Auth.Backend {
		case "local", "grpc":
		default:
			return fmt.Errorf("invalid auth.backend %q (valid: local, grpc)", c.Auth.Backend)
		}
		if c.Auth.Backend == "grpc" && c.Auth.GRPCAddress == "" {
			return errors.New("auth.grpc_address is required when auth.backend is grpc")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum TLS version.
// Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ConnectionTimeout returns the connection timeout as a time.Duration.
// Returns 30 minutes if not configured or invalid.
func (c *TimeoutsConfig) ConnectionTimeout() time.Duration {
	if c.Connection == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(c.Connection)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// CommandTimeout returns the command timeout as a time.Duration.
// Returns 1 minute if not configured or invalid.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	if c.Command == "" {
		return 1 * time.Minute
	}
	d, err := time.ParseDuration(c.Command)
	if err != nil {
		return 1 * time.Minute
	}
	return d
}

// IdleTimeout returns the configured idle timeout as a time.Duration.
// Returns the supplied default if not configured or invalid; callers pass
// 30 minutes for IMAP and 5 minutes for SMTP per §5.
func (c *TimeoutsConfig) IdleTimeout(def time.Duration) time.Duration {
	if c.Idle == "" {
		return def
	}
	d, err := time.ParseDuration(c.Idle)
	if err != nil {
		return def
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
