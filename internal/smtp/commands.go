package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"

	gosasl "github.com/emersion/go-sasl"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/storage"
)

func cmdHelo(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	if strings.TrimSpace(cmd.Rest) == "" {
		reply(conn, 501, "Syntax: HELO hostname")
		return
	}
	envel.Greet(cmd.Rest)
	reply(conn, 250, e.hostname)
}

// cmdEhlo replies with the multi-line extension list (§4.2): STARTTLS iff
// not yet secure, AUTH iff secure or plaintext auth is explicitly allowed.
func cmdEhlo(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	if strings.TrimSpace(cmd.Rest) == "" {
		reply(conn, 501, "Syntax: EHLO hostname")
		return
	}
	envel.Greet(cmd.Rest)

	lines := []string{e.hostname, "ENHANCEDSTATUSCODES"}
	if !envel.Secure() {
		lines = append(lines, "STARTTLS")
	}
	if envel.Secure() || e.allowPlaintext {
		lines = append(lines, "AUTH LOGIN PLAIN")
	}
	lines = append(lines, "SMTPUTF8")
	replyMulti(conn, 250, lines)
}

// cmdStartTLS mirrors the IMAP dispatcher's STARTTLS (§4.1): reply before
// the handshake, then upgrade the connection in place.
func cmdStartTLS(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	if envel.Secure() {
		reply(conn, 503, "Connection already secure")
		return
	}
	if e.tlsConfig == nil {
		reply(conn, 454, "TLS not available")
		return
	}

	reply(conn, 220, "Ready to start TLS")

	if err := conn.UpgradeToTLS(ctx, e.tlsConfig); err != nil {
		envel.Close()
		return
	}
	envel.SetSecure()
	if e.metrics != nil {
		e.metrics.TLSConnectionEstablished("smtp")
	}
}

func authDomain(user string) string {
	if idx := strings.LastIndex(user, "@"); idx >= 0 {
		return user[idx+1:]
	}
	return "unknown"
}

// cmdAuth implements AUTH PLAIN/LOGIN (§4.2 AUTH PLAIN plus the
// supplemented LOGIN mechanism). Like the IMAP dispatcher's AUTHENTICATE,
// the whole SASL exchange runs synchronously within this one handler call.
func cmdAuth(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	fields := strings.Fields(cmd.Rest)
	if len(fields) == 0 {
		reply(conn, 501, "Syntax: AUTH mechanism")
		return
	}

	if !envel.Secure() && !e.allowPlaintext {
		respondErr(conn, &AuthError{Reason: "AUTH requires a secure connection"})
		return
	}

	mechanism := strings.ToUpper(fields[0])

	var identity string
	var verifyErr error
	var outcome auth.Outcome

	authenticate := func(user, pass string) error {
		result, err := e.backend.Verify(ctx, user, pass)
		verifyErr = err
		outcome = result.Outcome
		if err == nil && result.Outcome == auth.OutcomeOK {
			identity = result.Identity
			return nil
		}
		return &AuthError{Reason: "authentication failed"}
	}

	var saslServer gosasl.Server
	switch mechanism {
	case gosasl.Plain:
		saslServer = gosasl.NewPlainServer(func(identity, username, password string) error {
			return authenticate(username, password)
		})
	case gosasl.Login:
		saslServer = gosasl.NewLoginServer(authenticate)
	default:
		reply(conn, 504, "Unrecognized authentication mechanism")
		return
	}

	var initial []byte
	haveResponse := len(fields) > 1
	if haveResponse {
		decoded, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			reply(conn, 501, "Invalid base64 in initial response")
			return
		}
		initial = decoded
	}

	response := initial
	for {
		var challenge []byte
		var done bool
		var err error

		if haveResponse {
			challenge, done, err = saslServer.Next(response)
		} else {
			challenge, done, err = saslServer.Next(nil)
		}

		if err != nil {
			if e.metrics != nil {
				e.metrics.AuthAttempt("smtp", "unknown", false)
			}
			if verifyErr != nil || outcome == auth.OutcomeUnavailable {
				respondErr(conn, &AuthError{Reason: "authentication service unavailable", Transient: true})
			} else {
				respondErr(conn, &AuthError{Reason: "authentication failed"})
			}
			return
		}

		if done {
			break
		}

		conn.Enqueue("334 " + base64.StdEncoding.EncodeToString(challenge))

		line, err := conn.Reader().ReadLine()
		if err != nil {
			envel.Close()
			return
		}
		line = strings.TrimSpace(line)
		if line == "*" {
			reply(conn, 501, "Authentication cancelled")
			return
		}

		response, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			reply(conn, 501, "Invalid base64 encoding")
			return
		}
		haveResponse = true
	}

	success := verifyErr == nil && outcome == auth.OutcomeOK
	if e.metrics != nil {
		e.metrics.AuthAttempt("smtp", authDomain(identity), success)
	}

	if !success {
		if outcome == auth.OutcomeUnavailable {
			respondErr(conn, &AuthError{Reason: "authentication server unavailable", Transient: true})
		} else {
			respondErr(conn, &AuthError{Reason: "authentication failed"})
		}
		return
	}

	envel.Authenticate(identity)
	reply(conn, 235, "Authentication successful")
}

func cmdMail(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	addr, err := ParsePath("FROM", cmd.Rest)
	if err != nil {
		reply(conn, 501, err.Error())
		return
	}
	envel.StartMail(addr)
	reply(conn, 250, "Ok")
}

func cmdRcpt(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	addr, err := ParsePath("TO", cmd.Rest)
	if err != nil {
		reply(conn, 501, err.Error())
		return
	}
	if !e.resolvesLocally(addr) {
		reply(conn, 550, "No such user here")
		return
	}
	envel.AddRcpt(addr)
	reply(conn, 250, "Ok")
}

// cmdData reads the dot-terminated message body (RFC 5321 §4.5.2 dot
// stuffing applied per line), hands it to storage.AppendMail for every
// accumulated recipient, and resets the envelope (§4.2 DATA).
func cmdData(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	envel.BeginData()
	reply(conn, 354, "End data with <CR><LF>.<CR><LF>")

	var body bytes.Buffer
	for {
		line, err := conn.Reader().ReadLine()
		if err != nil {
			envel.Close()
			return
		}
		if line == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		body.WriteString(line)
		body.WriteString("\r\n")
	}

	for _, rcpt := range envel.RcptTo() {
		user := localPart(rcpt)
		if _, err := e.store.AppendMail(ctx, user, "INBOX", body.Bytes(), []storage.Flag{storage.FlagRecent}); err != nil {
			respondErr(conn, &StorageError{Reason: "message could not be delivered"})
			envel.Reset()
			return
		}
		if e.metrics != nil {
			e.metrics.MessageAppended(int64(body.Len()))
		}
	}

	envel.Reset()
	reply(conn, 250, "Ok: queued")
}

func cmdRset(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	envel.Reset()
	reply(conn, 250, "Ok")
}

func cmdNoop(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	reply(conn, 250, "Ok")
}

func cmdQuit(ctx context.Context, e *env, envel *Envelope, conn *server.Connection, cmd CommandData) {
	reply(conn, 221, "Bye")
	envel.Close()
}
