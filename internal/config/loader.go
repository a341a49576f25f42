package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath     string
	Hostname       string
	LogLevel       string
	ListenIPs      string
	TLSCert        string
	TLSKey         string
	MaxConnections int
	Maildir        string
	AuthBackend    string
	GRPCAddress    string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./maild.toml", "Path to configuration file")
	flag.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.ListenIPs, "listen", "", "Comma-separated list of bind addresses (replaces all config listen_ips)")
	flag.StringVar(&f.TLSCert, "tls-cert", "", "TLS certificate file path")
	flag.StringVar(&f.TLSKey, "tls-key", "", "TLS key file path")
	flag.IntVar(&f.MaxConnections, "max-connections", 0, "Maximum concurrent connections")
	flag.StringVar(&f.Maildir, "maildir", "", "Root directory containing per-user Maildir folders")
	flag.StringVar(&f.AuthBackend, "auth-backend", "", "Authentication backend (local, grpc)")
	flag.StringVar(&f.GRPCAddress, "auth-grpc-address", "", "Address of the remote gRPC auth backend")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeConfig(cfg, fileConfig)
	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Mail.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.ListenIPs != "" {
		cfg.ListenIPs = strings.Split(f.ListenIPs, ",")
	}

	if f.TLSCert != "" {
		cfg.TLS.CertPath = f.TLSCert
	}

	if f.TLSKey != "" {
		cfg.TLS.KeyPath = f.TLSKey
	}

	if f.MaxConnections > 0 {
		cfg.Limits.MaxConnections = f.MaxConnections
	}

	if f.Maildir != "" {
		cfg.Mail.MaildirFolders = f.Maildir
	}

	if f.AuthBackend != "" {
		cfg.Auth.Backend = f.AuthBackend
	}

	if f.GRPCAddress != "" {
		cfg.Auth.GRPCAddress = f.GRPCAddress
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from the parsed file config into dst.
func mergeConfig(dst Config, src FileConfig) Config {
	if src.Mail.Hostname != "" {
		dst.Mail.Hostname = src.Mail.Hostname
	}
	if src.Mail.MaildirFolders != "" {
		dst.Mail.MaildirFolders = src.Mail.MaildirFolders
	}

	if len(src.ListenIPs) > 0 {
		dst.ListenIPs = src.ListenIPs
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.TLS.CertPath != "" {
		dst.TLS.CertPath = src.TLS.CertPath
	}
	if src.TLS.KeyPath != "" {
		dst.TLS.KeyPath = src.TLS.KeyPath
	}
	if src.TLS.MinVersion != "" {
		dst.TLS.MinVersion = src.TLS.MinVersion
	}

	if src.Timeouts.Connection != "" {
		dst.Timeouts.Connection = src.Timeouts.Connection
	}
	if src.Timeouts.Command != "" {
		dst.Timeouts.Command = src.Timeouts.Command
	}
	if src.Timeouts.Idle != "" {
		dst.Timeouts.Idle = src.Timeouts.Idle
	}

	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	if src.Ports.IMAP > 0 {
		dst.Ports.IMAP = src.Ports.IMAP
	}
	if src.Ports.IMAPS > 0 {
		dst.Ports.IMAPS = src.Ports.IMAPS
	}
	if src.Ports.SMTP > 0 {
		dst.Ports.SMTP = src.Ports.SMTP
	}
	if src.Ports.SMTPS > 0 {
		dst.Ports.SMTPS = src.Ports.SMTPS
	}

	if src.Auth.Backend != "" {
		dst.Auth.Backend = src.Auth.Backend
	}
	if src.Auth.Type != "" {
		dst.Auth.Type = src.Auth.Type
	}
	if src.Auth.CredentialBackend != "" {
		dst.Auth.CredentialBackend = src.Auth.CredentialBackend
	}
	if src.Auth.KeyBackend != "" {
		dst.Auth.KeyBackend = src.Auth.KeyBackend
	}
	if src.Auth.GRPCAddress != "" {
		dst.Auth.GRPCAddress = src.Auth.GRPCAddress
	}
	if src.Auth.AllowPlaintext {
		dst.Auth.AllowPlaintext = src.Auth.AllowPlaintext
	}
	if src.Auth.Options != nil {
		if dst.Auth.Options == nil {
			dst.Auth.Options = make(map[string]string)
		}
		for k, v := range src.Auth.Options {
			dst.Auth.Options[k] = v
		}
	}

	return dst
}
