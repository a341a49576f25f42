package auth

import (
	"fmt"
	"io"

	"github.com/infodancer/maild/internal/config"
)

// New selects and opens the backend named by cfg.Backend ("local" or
// "grpc"), matching the teacher's auth.OpenAuthAgent selection in
// cmd/pop3d/main.go generalised to the two implementations in this
// package.
func New(cfg config.AuthConfig) (Backend, io.Closer, error) {
	switch cfg.Backend {
	case "", "local":
		b, err := NewLocalBackend(LocalConfig{
			Type:              cfg.Type,
			CredentialBackend: cfg.CredentialBackend,
			KeyBackend:        cfg.KeyBackend,
			Options:           cfg.Options,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("auth: opening local backend: %w", err)
		}
		return b, b, nil
	case "grpc":
		b, err := NewGRPCBackend(cfg.GRPCAddress)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("auth: unknown backend %q", cfg.Backend)
	}
}
