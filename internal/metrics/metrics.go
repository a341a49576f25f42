// Package metrics provides interfaces and implementations for collecting
// maild server metrics. This mirrors the Collector/Server split used by the
// author's pop3d and smtpd daemons, generalised to cover both protocols
// maild speaks.
package metrics

import "context"

// Collector defines the interface for recording maild server metrics.
type Collector interface {
	// Connection metrics.
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	TLSConnectionEstablished(protocol string)

	// Authentication metrics, keyed by the authenticated user's domain.
	AuthAttempt(protocol, authDomain string, success bool)

	// Command metrics.
	CommandProcessed(protocol, command string)

	// Mailbox metrics.
	MailboxSelected(folder string)
	MessageFetched(sizeBytes int64)
	MessageAppended(sizeBytes int64)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
