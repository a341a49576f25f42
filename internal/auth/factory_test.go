package auth

import (
	"testing"

	"github.com/infodancer/maild/internal/config"
)

func TestNewUnknownBackend(t *testing.T) {
	_, _, err := New(config.AuthConfig{Backend: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewGRPCBackend(t *testing.T) {
	backend, closer, err := New(config.AuthConfig{
		Backend:     "grpc",
		GRPCAddress: "127.0.0.1:1",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if backend == nil || closer == nil {
		t.Fatal("New() returned nil backend or closer")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
