package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
)

// Server coordinates the IMAP and SMTP listeners sharing one process,
// one TLS configuration, and one connection limiter.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	limiter   *ConnectionLimiter
	metrics   MetricsRecorder

	imapHandler ConnectionHandler
	smtpHandler ConnectionHandler

	listeners []*Listener
	mu        sync.Mutex
}

// Config holds configuration for creating a new Server.
type Config struct {
	Cfg       *config.Config
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Metrics   MetricsRecorder
}

// New creates a new Server with the given configuration.
func New(sc Config) (*Server, error) {
	logger := sc.Logger
	if logger == nil {
		logger = logging.NewLogger(sc.Cfg.LogLevel)
	}

	return &Server{
		cfg:       sc.Cfg,
		tlsConfig: sc.TLSConfig,
		logger:    logger,
		limiter:   NewConnectionLimiter(sc.Cfg.Limits.MaxConnections),
		metrics:   sc.Metrics,
	}, nil
}

// SetIMAPHandler sets the connection handler used for imap/imaps listeners.
func (s *Server) SetIMAPHandler(handler ConnectionHandler) {
	s.imapHandler = handler
}

// SetSMTPHandler sets the connection handler used for smtp/smtps listeners.
func (s *Server) SetSMTPHandler(handler ConnectionHandler) {
	s.smtpHandler = handler
}

// Run starts all configured listeners and blocks until the context is
// cancelled or every listener has stopped.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()

	for _, lc := range s.cfg.Listeners() {
		var tlsCfg *tls.Config
		if lc.Mode.Implicit() {
			if s.tlsConfig == nil {
				s.mu.Unlock()
				return fmt.Errorf("listener %s: TLS required for %s mode but not configured", lc.Address, lc.Mode)
			}
			tlsCfg = s.tlsConfig
		} else if s.tlsConfig != nil {
			tlsCfg = s.tlsConfig
		}

		handler := s.smtpHandler
		if lc.Mode.Protocol() == "imap" {
			handler = s.imapHandler
		}

		listener := NewListener(ListenerConfig{
			Address:        lc.Address,
			Mode:           lc.Mode,
			TLSConfig:      tlsCfg,
			CommandTimeout: s.cfg.Timeouts.CommandTimeout(),
			IdleTimeout:    s.idleTimeoutFor(lc.Mode),
			Limiter:        s.limiter,
			Logger:         s.logger,
			Handler:        handler,
			Metrics:        s.metrics,
		})
		s.listeners = append(s.listeners, listener)
	}

	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("hostname", s.cfg.Mail.Hostname),
		slog.Int("listener_count", len(s.listeners)),
	)

	var wg sync.WaitGroup
	errChan := make(chan error, len(s.listeners))

	for _, l := range s.listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
	case <-stopped:
	}

	wg.Wait()

	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// idleTimeoutFor returns the RFC-recommended idle timeout for the
// listener's protocol: 30 minutes for IMAP (RFC 9051), 5 minutes for SMTP.
func (s *Server) idleTimeoutFor(mode config.ListenerMode) time.Duration {
	if mode.Protocol() == "imap" {
		return s.cfg.Timeouts.IdleTimeout(30 * time.Minute)
	}
	return s.cfg.Timeouts.IdleTimeout(5 * time.Minute)
}

// Shutdown stops all listeners from accepting new connections.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// TLSConfig returns the server's TLS configuration, if any.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}
