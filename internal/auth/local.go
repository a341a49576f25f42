package auth

import (
	"context"
	"errors"

	"github.com/infodancer/auth"
	_ "github.com/infodancer/auth/passwd" // registers the passwd credential backend
)

// LocalBackend verifies credentials through the author's own
// github.com/infodancer/auth library, the same one the sibling pop3d/smtpd
// daemons use for their AUTHORIZATION-state USER/PASS and AUTH exchanges.
type LocalBackend struct {
	agent auth.AuthenticationAgent
}

// LocalConfig selects the credential/key backend pair, mirroring
// auth.AuthAgentConfig in the teacher's cmd/pop3d/main.go.
type LocalConfig struct {
	Type              string
	CredentialBackend string
	KeyBackend        string
	Options           map[string]string
}

// NewLocalBackend opens the configured auth agent.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	agent, err := auth.OpenAuthAgent(auth.AuthAgentConfig{
		Type:              cfg.Type,
		CredentialBackend: cfg.CredentialBackend,
		KeyBackend:        cfg.KeyBackend,
		Options:           cfg.Options,
	})
	if err != nil {
		return nil, err
	}
	return &LocalBackend{agent: agent}, nil
}

// Verify authenticates user/password and maps the agent's outcome onto the
// three-way §4.8 contract. Any error from the agent that is not a known
// "bad credentials" condition is reported as transiently unavailable,
// since github.com/infodancer/auth does not expose a distinct sentinel for
// backend-unreachable versus credential-mismatch failures.
func (b *LocalBackend) Verify(ctx context.Context, user, password string) (Result, error) {
	session, err := b.agent.Authenticate(ctx, user, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return Result{Outcome: OutcomeBadCredentials}, nil
		}
		return Result{Outcome: OutcomeUnavailable}, nil
	}

	identity := user
	if session != nil && session.User.Mailbox != "" {
		identity = session.User.Mailbox
	}
	return Result{Outcome: OutcomeOK, Identity: identity}, nil
}

// Close releases resources held by the underlying auth agent.
func (b *LocalBackend) Close() error {
	return b.agent.Close()
}
