package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(protocol string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(protocol string) {}

// TLSConnectionEstablished is a no-op.
func (n *NoopCollector) TLSConnectionEstablished(protocol string) {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(protocol, authDomain string, success bool) {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(protocol, command string) {}

// MailboxSelected is a no-op.
func (n *NoopCollector) MailboxSelected(folder string) {}

// MessageFetched is a no-op.
func (n *NoopCollector) MessageFetched(sizeBytes int64) {}

// MessageAppended is a no-op.
func (n *NoopCollector) MessageAppended(sizeBytes int64) {}
