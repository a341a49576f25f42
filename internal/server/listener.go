package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
)

// ConnectionHandler processes one accepted connection until it terminates.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// ListenerConfig configures a single accept loop (C8).
type ListenerConfig struct {
	Address        string
	Mode           config.ListenerMode
	TLSConfig      *tls.Config
	CommandTimeout time.Duration
	IdleTimeout    time.Duration
	Limiter        *ConnectionLimiter
	Logger         *slog.Logger
	Handler        ConnectionHandler
	Metrics        MetricsRecorder
}

// MetricsRecorder is the narrow slice of metrics.Collector the listener
// itself needs, kept separate so this package does not import metrics.
type MetricsRecorder interface {
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	TLSConnectionEstablished(protocol string)
}

// Listener runs one accept loop, dispatching each accepted connection to
// its own goroutine.
type Listener struct {
	cfg ListenerConfig
	ln  net.Listener
}

// NewListener constructs a Listener from cfg. The socket is not bound
// until Start is called.
func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{cfg: cfg}
}

// Address returns the configured bind address.
func (l *Listener) Address() string {
	return l.cfg.Address
}

// Start binds the listening socket and accepts connections until ctx is
// cancelled or a fatal accept error occurs.
func (l *Listener) Start(ctx context.Context) error {
	logger := l.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var ln net.Listener
	var err error
	if l.cfg.Mode.Implicit() {
		if l.cfg.TLSConfig == nil {
			return fmt.Errorf("listener %s: TLS required for %s mode but not configured", l.cfg.Address, l.cfg.Mode)
		}
		ln, err = tls.Listen("tcp", l.cfg.Address, l.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", l.cfg.Address)
	}
	if err != nil {
		return err
	}
	l.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("listener started", slog.String("address", l.cfg.Address), slog.String("mode", string(l.cfg.Mode)))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		if l.cfg.Limiter != nil && !l.cfg.Limiter.TryAcquire() {
			logger.Warn("connection refused: at capacity", slog.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}

		go l.serve(ctx, conn, logger)
	}
}

func (l *Listener) serve(ctx context.Context, netConn net.Conn, logger *slog.Logger) {
	protocol := l.cfg.Mode.Protocol()

	defer func() {
		if l.cfg.Limiter != nil {
			l.cfg.Limiter.Release()
		}
		if r := recover(); r != nil {
			logger.Error("connection handler panicked", slog.Any("panic", r), slog.String("remote", netConn.RemoteAddr().String()))
		}
	}()

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ConnectionOpened(protocol)
		if l.cfg.Mode.Implicit() {
			l.cfg.Metrics.TLSConnectionEstablished(protocol)
		}
		defer l.cfg.Metrics.ConnectionClosed(protocol)
	}

	strict := protocol == "smtp"
	conn := newConnection(netConn, l.cfg.Mode, strict, l.cfg.CommandTimeout, l.cfg.IdleTimeout)
	defer conn.Close()

	connCtx := logging.WithLogger(ctx, logger.With(
		slog.String("remote", netConn.RemoteAddr().String()),
		slog.String("mode", string(l.cfg.Mode)),
	))

	conn.ResetIdleTimeout()

	handler := l.cfg.Handler
	if handler == nil {
		return
	}
	handler(connCtx, conn)
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

