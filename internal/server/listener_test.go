package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/infodancer/maild/internal/config"
)

func TestListenerInvokesHandlerPerConnection(t *testing.T) {
	var mu sync.Mutex
	var handled int

	l := NewListener(ListenerConfig{
		Address:        "127.0.0.1:0",
		Mode:           config.ModeIMAP,
		CommandTimeout: time.Second,
		IdleTimeout:    time.Second,
		Handler: func(ctx context.Context, conn *Connection) {
			mu.Lock()
			handled++
			mu.Unlock()
			conn.Enqueue("* OK test greeting")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = l.Start(ctx)
	}()
	<-started

	addr := waitForAddress(t, l)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != "* OK test greeting\r\n" {
		t.Errorf("got %q", string(buf[:n]))
	}

	mu.Lock()
	defer mu.Unlock()
	if handled != 1 {
		t.Errorf("handled = %d, want 1", handled)
	}
}

func TestListenerRejectsOverCapacity(t *testing.T) {
	limiter := NewConnectionLimiter(0)
	release := make(chan struct{})

	l := NewListener(ListenerConfig{
		Address: "127.0.0.1:0",
		Mode:    config.ModeSMTP,
		Limiter: limiter,
		Handler: func(ctx context.Context, conn *Connection) {
			<-release
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer close(release)

	go func() { _ = l.Start(ctx) }()
	addr := waitForAddress(t, l)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err == nil {
		t.Error("expected connection to be closed immediately when over capacity")
	}
}

func waitForAddress(t *testing.T, l *Listener) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.ln != nil {
			return l.ln.Addr().String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("listener never bound")
	return ""
}
