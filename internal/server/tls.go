package server

import (
	"crypto/tls"
	"fmt"

	"github.com/infodancer/maild/internal/config"
)

// LoadTLSConfig loads the certificate/key pair named in cfg and builds a
// *tls.Config usable both for implicit-TLS listeners (IMAPS/SMTPS) and for
// opportunistic STARTTLS upgrades on the plaintext listeners (C2). Returns
// (nil, nil) when no certificate is configured, since STARTTLS support is
// optional.
func LoadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" && cfg.KeyPath == "" {
		return nil, nil
	}
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, fmt.Errorf("tls: both cert_path and key_path must be set")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("tls: loading key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   cfg.MinTLSVersion(),
	}, nil
}
