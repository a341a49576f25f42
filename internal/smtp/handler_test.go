package smtp_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/smtp"
	"github.com/infodancer/maild/internal/storage"
)

type fakeBackend struct {
	user, pass string
}

func (b *fakeBackend) Verify(ctx context.Context, user, password string) (auth.Result, error) {
	if user == b.user && password == b.pass {
		return auth.Result{Outcome: auth.OutcomeOK, Identity: user}, nil
	}
	return auth.Result{Outcome: auth.OutcomeBadCredentials}, nil
}

// fakeStorage records AppendMail calls in memory; only the delivery path
// is exercised by the SMTP dispatcher.
type fakeStorage struct {
	mu        sync.Mutex
	delivered map[string][][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{delivered: make(map[string][][]byte)}
}

func (s *fakeStorage) CreateFolder(ctx context.Context, user, folder string) error { return nil }
func (s *fakeStorage) ListFolders(ctx context.Context, user string) ([]string, error) {
	return []string{"INBOX"}, nil
}
func (s *fakeStorage) FolderInfo(ctx context.Context, user, folder string) (storage.FolderInfo, error) {
	return storage.FolderInfo{Name: folder, UIDValidity: 1, UIDNext: 1}, nil
}
func (s *fakeStorage) ListMails(ctx context.Context, user, folder string) ([]storage.MailEntry, error) {
	return nil, nil
}
func (s *fakeStorage) SetFolderFlag(ctx context.Context, user, folder, flag string) error {
	return nil
}
func (s *fakeStorage) AppendMail(ctx context.Context, user, folder string, body []byte, initialFlags []storage.Flag) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[user] = append(s.delivered[user], append([]byte(nil), body...))
	return uint32(len(s.delivered[user])), nil
}

func startTestServer(t *testing.T, backend auth.Backend, store storage.MailStorage) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	localDomain := func(domain string) bool {
		return strings.EqualFold(domain, "mx.test.local")
	}

	lc := server.NewListener(server.ListenerConfig{
		Address:        addr,
		Mode:           config.ModeSMTP,
		CommandTimeout: 5 * time.Second,
		IdleTimeout:    5 * time.Second,
		Handler:        smtp.Handler("mx.test.local", backend, store, nil, true, &metrics.NoopCollector{}, localDomain),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go lc.Start(ctx)
	t.Cleanup(cancel)

	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("readLine: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", line); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

func TestHandlerHappyPath(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	addr := startTestServer(t, backend, store)

	c := dial(t, addr)
	defer c.conn.Close()

	greeting := c.readLine()
	if !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting = %q, want 220 prefix", greeting)
	}

	c.send("EHLO client.example.com")
	var ehloLines []string
	for {
		line := c.readLine()
		ehloLines = append(ehloLines, line)
		if strings.HasPrefix(line, "250 ") {
			break
		}
	}
	joined := strings.Join(ehloLines, "\n")
	if !strings.Contains(joined, "STARTTLS") || !strings.Contains(joined, "SMTPUTF8") {
		t.Fatalf("EHLO response = %v, want STARTTLS/SMTPUTF8", ehloLines)
	}

	c.send("MAIL FROM:<bob@example.com>")
	if got := c.readLine(); !strings.HasPrefix(got, "250") {
		t.Fatalf("MAIL FROM response = %q, want 250", got)
	}

	c.send("RCPT TO:<alice@mx.test.local>")
	if got := c.readLine(); !strings.HasPrefix(got, "250") {
		t.Fatalf("RCPT TO response = %q, want 250", got)
	}

	c.send("DATA")
	if got := c.readLine(); !strings.HasPrefix(got, "354") {
		t.Fatalf("DATA response = %q, want 354", got)
	}
	c.send("Subject: hi")
	c.send("")
	c.send("hello world")
	c.send(".")
	if got := c.readLine(); !strings.HasPrefix(got, "250") {
		t.Fatalf("end-of-DATA response = %q, want 250", got)
	}

	store.mu.Lock()
	delivered := store.delivered["alice"]
	store.mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("delivered messages for alice = %d, want 1", len(delivered))
	}
	if !strings.Contains(string(delivered[0]), "hello world") {
		t.Errorf("delivered body = %q, want to contain hello world", delivered[0])
	}

	c.send("QUIT")
	if got := c.readLine(); !strings.HasPrefix(got, "221") {
		t.Fatalf("QUIT response = %q, want 221", got)
	}
}

func TestHandlerRejectsUnknownRecipient(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	addr := startTestServer(t, backend, store)

	c := dial(t, addr)
	defer c.conn.Close()

	c.readLine() // greeting
	c.send("EHLO client.example.com")
	for {
		if strings.HasPrefix(c.readLine(), "250 ") {
			break
		}
	}

	c.send("MAIL FROM:<bob@example.com>")
	c.readLine()

	c.send("RCPT TO:<nobody@elsewhere.com>")
	if got := c.readLine(); !strings.HasPrefix(got, "550") {
		t.Errorf("RCPT TO unknown domain = %q, want 550", got)
	}
}

func TestHandlerRejectsWrongSequence(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	addr := startTestServer(t, backend, store)

	c := dial(t, addr)
	defer c.conn.Close()

	c.readLine() // greeting
	c.send("EHLO client.example.com")
	for {
		if strings.HasPrefix(c.readLine(), "250 ") {
			break
		}
	}

	c.send("DATA")
	if got := c.readLine(); !strings.HasPrefix(got, "503") {
		t.Errorf("DATA before MAIL/RCPT = %q, want 503", got)
	}
}
