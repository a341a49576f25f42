package imap

import (
	"context"
	"encoding/base64"
	"strings"

	gosasl "github.com/emersion/go-sasl"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/server"
)

func cmdCapability(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	untagged(conn, "CAPABILITY "+CapabilityLine(sess.Secure(), e.allowPlaintext))
	ok(conn, tag, "CAPABILITY completed")
}

func cmdNoop(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	ok(conn, tag, "NOOP completed")
}

func cmdCheck(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	ok(conn, tag, "CHECK completed")
}

func cmdLogout(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	sess.Logout()
	untagged(conn, "BYE logging out")
	ok(conn, tag, "LOGOUT completed")
}

func cmdLogin(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) != 2 {
		bad(conn, tag, "LOGIN requires a username and password")
		return
	}

	if !sess.Secure() && !e.allowPlaintext {
		respondErr(conn, tag, &AuthError{Reason: "LOGIN disabled on a plaintext connection"})
		return
	}

	verifyCredentials(ctx, e, sess, conn, tag, args[0], args[1], "LOGIN completed")
}

// verifyCredentials runs one Verify call against the auth backend and, on
// success, completes the NotAuthenticated -> Authenticated transition.
func verifyCredentials(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag, user, pass, okText string) {
	result, err := e.backend.Verify(ctx, user, pass)
	success := err == nil && result.Outcome == auth.OutcomeOK

	if e.metrics != nil {
		e.metrics.AuthAttempt("imap", authDomain(user), success)
	}

	if err != nil || result.Outcome == auth.OutcomeUnavailable {
		respondErr(conn, tag, &AuthError{Reason: "Authentication server unavailable", Transient: true})
		return
	}
	if result.Outcome == auth.OutcomeBadCredentials {
		respondErr(conn, tag, &AuthError{Reason: "Authentication failed"})
		return
	}

	sess.Authenticate(result.Identity)
	ok(conn, tag, okText)
}

func authDomain(user string) string {
	if idx := strings.LastIndex(user, "@"); idx >= 0 {
		return user[idx+1:]
	}
	return "unknown"
}

// cmdAuthenticate implements AUTHENTICATE PLAIN/LOGIN (§4.1's AUTHENTICATE
// PLAIN plus the supplemented LOGIN mechanism, §4.2 of SPEC_FULL). Unlike
// the teacher's POP3 AUTH, which threads SASL state across command
// dispatches via a subprocess pipe, IMAP's synchronous continuation model
// lets the whole exchange run inline within this one handler call.
func cmdAuthenticate(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) < 1 {
		bad(conn, tag, "AUTHENTICATE requires a mechanism")
		return
	}

	if !sess.Secure() && !e.allowPlaintext {
		respondErr(conn, tag, &AuthError{Reason: "AUTHENTICATE disabled on a plaintext connection"})
		return
	}

	mechanism := strings.ToUpper(args[0])

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
		bad(conn, tag, "Unsupported SASL mechanism")
		return
	}

	var initial []byte
	if len(args) > 1 {
		if args[1] == "=" {
			initial = []byte{}
		} else {
			decoded, err := base64.StdEncoding.DecodeString(args[1])
			if err != nil {
				bad(conn, tag, "Invalid base64 in initial response")
				return
			}
			initial = decoded
		}
	}

	response := initial
	haveResponse := len(args) > 1
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
				e.metrics.AuthAttempt("imap", "unknown", false)
			}
			if verifyErr != nil || outcome == auth.OutcomeUnavailable {
				respondErr(conn, tag, &AuthError{Reason: "Authentication server unavailable", Transient: true})
			} else {
				respondErr(conn, tag, &AuthError{Reason: "Authentication failed"})
			}
			return
		}

		if done {
			break
		}

		conn.Enqueue("+ " + base64.StdEncoding.EncodeToString(challenge))

		line, err := conn.Reader().ReadLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "*" {
			bad(conn, tag, "Authentication cancelled")
			return
		}

		response, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			bad(conn, tag, "Invalid base64 encoding")
			return
		}
		haveResponse = true
	}

	success := verifyErr == nil && outcome == auth.OutcomeOK
	if e.metrics != nil {
		e.metrics.AuthAttempt("imap", authDomain(identity), success)
	}

	if !success {
		if outcome == auth.OutcomeUnavailable {
			respondErr(conn, tag, &AuthError{Reason: "Authentication server unavailable", Transient: true})
		} else {
			respondErr(conn, tag, &AuthError{Reason: "Authentication failed"})
		}
		return
	}

	sess.Authenticate(identity)
	ok(conn, tag, "AUTHENTICATE completed")
}

func cmdStartTLS(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if sess.Secure() {
		bad(conn, tag, "Already using TLS")
		return
	}
	if e.tlsConfig == nil {
		no(conn, tag, "", "TLS not available")
		return
	}

	ok(conn, tag, "Begin TLS negotiation now")

	if err := conn.UpgradeToTLS(ctx, e.tlsConfig); err != nil {
		return
	}
	sess.SetSecure()
	if e.metrics != nil {
		e.metrics.TLSConnectionEstablished("imap")
	}
}
