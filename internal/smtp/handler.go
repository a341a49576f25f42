package smtp

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
// per-state command legality (§4.2's envelope automaton table).
type stateMask uint8

const (
	maskGreet stateMask = 1 << iota
	maskIdle
	maskMail
	maskRcpt
	maskClosed

	maskAny = maskGreet | maskIdle | maskMail | maskRcpt
)

func bitFor(s State) stateMask {
	switch s {
	case StateGreet:
		return maskGreet
	case StateIdle:
		return maskIdle
	case StateMail:
		return maskMail
	case StateRcpt:
		return maskRcpt
	default:
		return maskClosed
	}
}

// env bundles the collaborators every command handler may need, the same
// shape as the IMAP dispatcher's env since both share an auth backend and
// a storage adapter (§4.2's delivery collaborator).
type env struct {
	hostname       string
	backend        auth.Backend
	store          storage.MailStorage
	tlsConfig      *tls.Config
	allowPlaintext bool
	metrics        metrics.Collector
	// localDomain decides whether a RCPT TO domain resolves to this host,
	// for the 550 rejection (§4.2). A nil localDomain accepts only the
	// exact (case-insensitive) advertised hostname.
	localDomain func(domain string) bool
}

func (e *env) resolvesLocally(addr string) bool {
	domain := addressDomain(addr)
	if e.localDomain != nil {
		return e.localDomain(domain)
	}
	return strings.EqualFold(domain, e.hostname)
}

// cmdFunc executes one parsed command against envel, writing its response
// to conn.
type cmdFunc func(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData)

type registryEntry struct {
	mask stateMask
	fn   cmdFunc
}

var registry = map[string]registryEntry{
	"HELO":     {maskGreet | maskIdle, cmdHelo},
	"EHLO":     {maskGreet | maskIdle, cmdEhlo},
	"STARTTLS": {maskIdle, cmdStartTLS},
	"AUTH":     {maskIdle, cmdAuth},
	"MAIL":     {maskIdle, cmdMail},
	"RCPT":     {maskMail | maskRcpt, cmdRcpt},
	"DATA":     {maskRcpt, cmdData},
	"RSET":     {maskAny, cmdRset},
	"NOOP":     {maskAny, cmdNoop},
	"QUIT":     {maskAny, cmdQuit},
}

// Handler builds the SMTP server.ConnectionHandler, closing over the
// collaborators shared by every connection (mirrors imap.Handler's shape).
func Handler(hostname string, backend auth.Backend, store storage.MailStorage, tlsConfig *tls.Config, allowPlaintext bool, collector metrics.Collector, localDomain func(domain string) bool) server.ConnectionHandler {
	e := &env{
		hostname:       hostname,
		backend:        backend,
		store:          store,
		tlsConfig:      tlsConfig,
		allowPlaintext: allowPlaintext,
		metrics:        collector,
		localDomain:    localDomain,
	}

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, e, conn)
	}
}

func handleConnection(ctx context.Context, e *env, conn *server.Connection) {
	logger := logging.FromContext(ctx)

	envel := NewEnvelope(e.hostname, e.tlsConfig, conn.IsTLS())

	conn.Enqueue(fmt.Sprintf("220 %s ESMTP Service Ready", e.hostname))

	for {
		if envel.State() == StateClosed {
			return
		}

		conn.ResetIdleTimeout()
		line, err := conn.Reader().ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("client closed connection")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				conn.Enqueue("421 Idle timeout")
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
			reply(conn, 500, err.Error())
			continue
		}

		entry, ok := registry[cmd.Verb]
		if !ok {
			reply(conn, 500, "Unknown command")
			continue
		}

		if entry.mask&bitFor(envel.State()) == 0 {
			respondErr(conn, &StateError{Command: cmd.Verb, State: envel.State()})
			continue
		}

		if e.metrics != nil {
			e.metrics.CommandProcessed("smtp", cmd.Verb)
		}

		entry.fn(ctx, e, envel, conn, cmd)

		if envel.State() == StateClosed {
			return
		}
	}
}
