package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/maild/internal/codec"
	"github.com/infodancer/maild/internal/config"
)

// Connection wraps an accepted net.Conn with the line codec, a writer
// fan-in goroutine, and the TLS/timeout bookkeeping shared by both
// protocols (C2/C4.4/C8).
type Connection struct {
	netConn atomic.Pointer[net.Conn]
	reader  *codec.Reader

	mode config.ListenerMode

	writeCh chan []byte
	writeWG sync.WaitGroup

	tls    atomic.Bool
	closed atomic.Bool

	commandTimeout time.Duration
	idleTimeout    time.Duration

	writeErr atomic.Pointer[error]
}

// newConnection constructs a Connection around conn, starting its writer
// fan-in goroutine. strict selects the codec's CRLF strictness (SMTP:
// true, IMAP: false, matching §4.3's stated per-protocol defaults).
func newConnection(conn net.Conn, mode config.ListenerMode, strict bool, commandTimeout, idleTimeout time.Duration) *Connection {
	c := &Connection{
		mode:           mode,
		writeCh:        make(chan []byte, 64),
		commandTimeout: commandTimeout,
		idleTimeout:    idleTimeout,
	}
	c.netConn.Store(&conn)
	c.tls.Store(isTLSConn(conn))

	c.reader = codec.NewReader(conn, strict, c.writeContinuation)

	c.writeWG.Add(1)
	go c.writeLoop()

	return c
}

func isTLSConn(conn net.Conn) bool {
	_, ok := conn.(*tls.Conn)
	return ok
}

func (c *Connection) conn() net.Conn {
	return *c.netConn.Load()
}

// Reader returns the connection's line reader.
func (c *Connection) Reader() *codec.Reader {
	return c.reader
}

// Mode returns the listener mode (imap/imaps/smtp/smtps) this connection
// was accepted under.
func (c *Connection) Mode() config.ListenerMode {
	return c.mode
}

// RemoteAddr returns the peer network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn().RemoteAddr()
}

// IsTLS reports whether the connection is currently secured.
func (c *Connection) IsTLS() bool {
	return c.tls.Load()
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Enqueue pushes a line (without CRLF) onto the writer fan-in queue. It
// never writes to the socket itself; the dedicated writer goroutine owns
// the socket exclusively (§4.4). The queue holds 64 frames; once it is
// full, Enqueue blocks until the writer has drained a frame.
func (c *Connection) Enqueue(line string) {
	if c.closed.Load() {
		return
	}
	buf := make([]byte, 0, len(line)+2)
	buf = append(buf, line...)
	buf = append(buf, '\r', '\n')
	select {
	case c.writeCh <- buf:
	default:
		// Channel buffer exhausted under extreme backlog; fall back to a
		// blocking send so no frame is silently dropped.
		c.writeCh <- buf
	}
}

// WriteErr returns the error, if any, that caused the writer goroutine to
// stop accepting new frames.
func (c *Connection) WriteErr() error {
	if p := c.writeErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Connection) writeLoop() {
	defer c.writeWG.Done()
	for buf := range c.writeCh {
		if c.closed.Load() {
			continue
		}
		if _, err := c.conn().Write(buf); err != nil {
			c.writeErr.Store(&err)
			_ = c.Close()
		}
	}
}

// writeContinuation emits the IMAP literal continuation prompt
// synchronously, bypassing the fan-in queue since it must be flushed
// before the client sends literal bytes.
func (c *Connection) writeContinuation() error {
	_, err := c.conn().Write([]byte("+ Ready for literal data\r\n"))
	return err
}

// SetCommandTimeout applies the per-command read deadline, covering reads
// made while a command runs (SASL continuations, SMTP DATA lines).
func (c *Connection) SetCommandTimeout() {
	_ = c.conn().SetReadDeadline(time.Now().Add(c.commandTimeout))
}

// ResetIdleTimeout applies the idle read deadline, set before each command
// is read while the connection awaits it.
func (c *Connection) ResetIdleTimeout() {
	_ = c.conn().SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// UpgradeToTLS performs a server-side TLS handshake over the existing
// socket and, on success, swaps the underlying net.Conn and codec reader
// so subsequent reads/writes flow through the secured stream (STARTTLS,
// §4.5). Per Open Question (3), any bytes already buffered past the
// command that triggered STARTTLS are discarded rather than replayed.
func (c *Connection) UpgradeToTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if c.tls.Load() {
		return ErrAlreadyTLS
	}

	tlsConn := tls.Server(c.conn(), tlsConfig)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = tlsConn.SetDeadline(deadline)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}
	_ = tlsConn.SetDeadline(time.Time{})

	var asConn net.Conn = tlsConn
	c.netConn.Store(&asConn)
	c.tls.Store(true)
	c.reader = codec.NewReader(tlsConn, c.reader.Strict(), c.writeContinuation)

	return nil
}

// Close closes the underlying connection and stops the writer goroutine.
// Safe to call multiple times.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn().Close()
	close(c.writeCh)
	return err
}
