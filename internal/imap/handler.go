package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/storage"
)

// stateMask is a bitmask over State, used by the command table to enforce
// per-state command legality (§4.1).
type stateMask uint8

const (
	maskNotAuthenticated stateMask = 1 << iota
	maskAuthenticated
	maskSelected
	maskLogout

	maskAny = maskNotAuthenticated | maskAuthenticated | maskSelected
)

func bitFor(s State) stateMask {
	switch s {
	case StateNotAuthenticated:
		return maskNotAuthenticated
	case StateAuthenticated:
		return maskAuthenticated
	case StateSelected:
		return maskSelected
	default:
		return maskLogout
	}
}

// env bundles the collaborators every command handler may need (§4.8/§4.7
// plus ambient hostname/metrics).
type env struct {
	hostname       string
	backend        auth.Backend
	store          storage.MailStorage
	tlsConfig      *tls.Config
	allowPlaintext bool
	metrics        metrics.Collector
}

// cmdFunc executes one parsed command against sess, writing its response
// (including the tagged completion) to conn.
type cmdFunc func(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string)

type registryEntry struct {
	mask stateMask
	fn   cmdFunc
}

var registry = map[string]registryEntry{
	"CAPABILITY":   {maskAny, cmdCapability},
	"LOGIN":        {maskNotAuthenticated, cmdLogin},
	"AUTHENTICATE": {maskNotAuthenticated, cmdAuthenticate},
	"NOOP":         {maskAny, cmdNoop},
	"LOGOUT":       {maskAny, cmdLogout},
	"STARTTLS":     {maskNotAuthenticated, cmdStartTLS},
	"LIST":         {maskAuthenticated | maskSelected, cmdList},
	"SELECT":       {maskAuthenticated | maskSelected, cmdSelect},
	"EXAMINE":      {maskAuthenticated | maskSelected, cmdExamine},
	"CREATE":       {maskAuthenticated | maskSelected, cmdCreate},
	"CLOSE":        {maskSelected, cmdClose},
	"UNSELECT":     {maskSelected, cmdClose},
	"CHECK":        {maskSelected, cmdCheck},
	"UID":          {maskSelected, cmdUID},
	"FETCH":        {maskSelected, cmdNotSupported},
	"STORE":        {maskSelected, cmdNotSupported},
	"APPEND":       {maskAuthenticated | maskSelected, cmdNotSupported},
}

// Handler builds the IMAP server.ConnectionHandler, closing over the
// collaborators shared by every connection (mirrors the teacher's
// pop3.Handler constructor shape).
func Handler(hostname string, backend auth.Backend, store storage.MailStorage, tlsConfig *tls.Config, allowPlaintext bool, collector metrics.Collector) server.ConnectionHandler {
	e := &env{
		hostname:       hostname,
		backend:        backend,
		store:          store,
		tlsConfig:      tlsConfig,
		allowPlaintext: allowPlaintext,
		metrics:        collector,
	}

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, e, conn)
	}
}

func handleConnection(ctx context.Context, e *env, conn *server.Connection) {
	logger := logging.FromContext(ctx)

	sess := NewSession(e.hostname, e.tlsConfig, conn.IsTLS())

	untagged(conn, fmt.Sprintf("OK [CAPABILITY %s] IMAP4rev1/IMAP4rev2 Service Ready", CapabilityLine(sess.Secure(), e.allowPlaintext)))

	for {
		if sess.State() == StateLogout {
			return
		}

		conn.ResetIdleTimeout()
		line, err := conn.Reader().ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("client closed connection")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				conn.Enqueue("* BYE Idle timeout")
				return
			}
			logger.Debug("read error", slog.String("error", err.Error()))
			return
		}
		conn.SetCommandTimeout()

		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			bad(conn, "*", err.Error())
			continue
		}

		entry, ok := registry[cmd.Command]
		if !ok {
			bad(conn, cmd.Tag, "Unknown command")
			continue
		}

		if entry.mask&bitFor(sess.State()) == 0 {
			respondErr(conn, cmd.Tag, &StateError{Command: cmd.Command, State: sess.State()})
			continue
		}

		if e.metrics != nil {
			e.metrics.CommandProcessed("imap", cmd.Command)
		}

		entry.fn(ctx, e, sess, conn, cmd.Tag, cmd.Args)

		if sess.State() == StateLogout {
			return
		}
	}
}
