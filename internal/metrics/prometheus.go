package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal   *prometheus.CounterVec
	connectionsActive  *prometheus.GaugeVec
	tlsConnectionTotal *prometheus.CounterVec

	authAttemptsTotal *prometheus.CounterVec

	commandsTotal *prometheus.CounterVec

	mailboxSelectedTotal *prometheus.CounterVec
	messagesFetchedTotal prometheus.Counter
	messagesAppendedTotal prometheus.Counter
	messageSizeBytes     prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_connections_total",
			Help: "Total number of connections opened, by protocol.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maild_connections_active",
			Help: "Number of currently active connections, by protocol.",
		}, []string{"protocol"}),
		tlsConnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_tls_connections_total",
			Help: "Total number of TLS connections established, by protocol.",
		}, []string{"protocol"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"protocol", "domain", "result"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_commands_total",
			Help: "Total number of protocol commands processed.",
		}, []string{"protocol", "command"}),

		mailboxSelectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_mailbox_selected_total",
			Help: "Total number of SELECT/EXAMINE operations, by folder.",
		}, []string{"folder"}),
		messagesFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maild_messages_fetched_total",
			Help: "Total number of FETCH responses emitted.",
		}),
		messagesAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maild_messages_appended_total",
			Help: "Total number of messages appended to a mailbox via SMTP delivery.",
		}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maild_message_size_bytes",
			Help:    "Size of messages fetched or appended, in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800},
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.tlsConnectionTotal,
		c.authAttemptsTotal,
		c.commandsTotal,
		c.mailboxSelectedTotal,
		c.messagesFetchedTotal,
		c.messagesAppendedTotal,
		c.messageSizeBytes,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(protocol string) {
	c.connectionsTotal.WithLabelValues(protocol).Inc()
	c.connectionsActive.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(protocol string) {
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// TLSConnectionEstablished increments the TLS connection counter.
func (c *PrometheusCollector) TLSConnectionEstablished(protocol string) {
	c.tlsConnectionTotal.WithLabelValues(protocol).Inc()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(protocol, authDomain string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(protocol, authDomain, result).Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(protocol, command string) {
	c.commandsTotal.WithLabelValues(protocol, command).Inc()
}

// MailboxSelected increments the mailbox-selected counter.
func (c *PrometheusCollector) MailboxSelected(folder string) {
	c.mailboxSelectedTotal.WithLabelValues(folder).Inc()
}

// MessageFetched increments the fetched counter and observes message size.
func (c *PrometheusCollector) MessageFetched(sizeBytes int64) {
	c.messagesFetchedTotal.Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
}

// MessageAppended increments the appended counter and observes message size.
func (c *PrometheusCollector) MessageAppended(sizeBytes int64) {
	c.messagesAppendedTotal.Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
}

// prometheusServer exposes the default registry over HTTP at Path.
type prometheusServer struct {
	addr string
	path string
	srv  *http.Server
}

// NewPrometheusServer creates a metrics HTTP server serving the default
// Prometheus registry at path.
func NewPrometheusServer(addr, path string) Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &prometheusServer{addr: addr, path: path, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving metrics. It blocks until the context is canceled.
func (s *prometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = s.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *prometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
