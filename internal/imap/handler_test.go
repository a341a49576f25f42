package imap_test

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
	"github.com/infodancer/maild/internal/imap"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/storage"
)

// fakeBackend authenticates exactly one (user, password) pair.
type fakeBackend struct {
	user, pass string
}

func (b *fakeBackend) Verify(ctx context.Context, user, password string) (auth.Result, error) {
	if user == b.user && password == b.pass {
		return auth.Result{Outcome: auth.OutcomeOK, Identity: user}, nil
	}
	return auth.Result{Outcome: auth.OutcomeBadCredentials}, nil
}

// fakeMail is an in-memory storage.MailEntry.
type fakeMail struct {
	uid   uint32
	flags map[storage.Flag]bool
	hdrs  []storage.HeaderField
	body  []byte
}

func (m *fakeMail) UID() uint32 { return m.uid }
func (m *fakeMail) Headers(ctx context.Context) ([]storage.HeaderField, error) {
	return m.hdrs, nil
}
func (m *fakeMail) BodySize(ctx context.Context) (uint64, error) { return uint64(len(m.body)), nil }
func (m *fakeMail) Body(ctx context.Context) ([]byte, error)     { return m.body, nil }
func (m *fakeMail) Flags(ctx context.Context) ([]storage.Flag, error) {
	var out []storage.Flag
	for f, on := range m.flags {
		if on {
			out = append(out, f)
		}
	}
	return out, nil
}
func (m *fakeMail) SetFlag(ctx context.Context, flag storage.Flag, on bool) error {
	if m.flags == nil {
		m.flags = make(map[storage.Flag]bool)
	}
	m.flags[flag] = on
	return nil
}
func (m *fakeMail) InternalDate(ctx context.Context) (time.Time, error) {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), nil
}

// fakeStorage is an in-memory storage.MailStorage holding one INBOX per user.
type fakeStorage struct {
	mu      sync.Mutex
	folders map[string][]string
	mails   map[string][]storage.MailEntry
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		folders: make(map[string][]string),
		mails:   make(map[string][]storage.MailEntry),
	}
}

func (s *fakeStorage) key(user, folder string) string { return user + "/" + folder }

func (s *fakeStorage) CreateFolder(ctx context.Context, user, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[user] = append(s.folders[user], folder)
	return nil
}

func (s *fakeStorage) ListFolders(ctx context.Context, user string) ([]string, error) {
	return []string{"INBOX"}, nil
}

func (s *fakeStorage) FolderInfo(ctx context.Context, user, folder string) (storage.FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mails := s.mails[s.key(user, folder)]
	var next uint32 = 1
	for _, m := range mails {
		if m.UID() >= next {
			next = m.UID() + 1
		}
	}
	return storage.FolderInfo{Name: folder, UIDValidity: 1, UIDNext: next}, nil
}

func (s *fakeStorage) ListMails(ctx context.Context, user, folder string) ([]storage.MailEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.MailEntry(nil), s.mails[s.key(user, folder)]...), nil
}

func (s *fakeStorage) SetFolderFlag(ctx context.Context, user, folder, flag string) error {
	return nil
}

func (s *fakeStorage) AppendMail(ctx context.Context, user, folder string, body []byte, initialFlags []storage.Flag) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(user, folder)
	uid := uint32(len(s.mails[k]) + 1)
	flags := make(map[storage.Flag]bool)
	for _, f := range initialFlags {
		flags[f] = true
	}
	s.mails[k] = append(s.mails[k], &fakeMail{uid: uid, flags: flags, body: body})
	return uid, nil
}

// startTestServer boots a real IMAP listener on loopback, backed by the
// given fakes, mirroring the teacher's build-a-real-socket integration
// style rather than mocking the transport layer.
func startTestServer(t *testing.T, backend auth.Backend, store storage.MailStorage) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	lc := server.NewListener(server.ListenerConfig{
		Address:        addr,
		Mode:           config.ModeIMAP,
		CommandTimeout: 5 * time.Second,
		IdleTimeout:    5 * time.Second,
		Handler:        imap.Handler("mx.test.local", backend, store, nil, true, &metrics.NoopCollector{}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go lc.Start(ctx)
	t.Cleanup(cancel)

	// Give the accept loop a moment to bind.
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

// readUntilTagged reads lines until one begins with tag+" ", returning all
// lines read (including the tagged one).
func (c *testClient) readUntilTagged(tag string) []string {
	c.t.Helper()
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if strings.HasPrefix(line, tag+" ") {
			return lines
		}
	}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", line); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

func TestHandlerLoginSelectFetchLogout(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	if _, err := store.AppendMail(context.Background(), "alice", "INBOX",
		[]byte("From: bob@example.com\r\nSubject: hi\r\n\r\nbody text\r\n"), nil); err != nil {
		t.Fatalf("seed mail: %v", err)
	}

	addr := startTestServer(t, backend, store)
	c := dial(t, addr)
	defer c.conn.Close()

	greeting := c.readLine()
	if !strings.HasPrefix(greeting, "* OK") {
		t.Fatalf("greeting = %q, want * OK prefix", greeting)
	}

	c.send("a1 LOGIN alice s3cret")
	loginLines := c.readUntilTagged("a1")
	last := loginLines[len(loginLines)-1]
	if !strings.HasPrefix(last, "a1 OK") {
		t.Fatalf("LOGIN response = %v, want a1 OK", loginLines)
	}

	c.send("a2 SELECT INBOX")
	selectLines := c.readUntilTagged("a2")
	joined := strings.Join(selectLines, "\n")
	if !strings.Contains(joined, "EXISTS") || !strings.Contains(joined, "UIDVALIDITY") {
		t.Fatalf("SELECT response = %v, want EXISTS/UIDVALIDITY", selectLines)
	}
	if !strings.HasPrefix(selectLines[len(selectLines)-1], "a2 OK") {
		t.Fatalf("SELECT completion = %q, want a2 OK prefix", selectLines[len(selectLines)-1])
	}

	c.send("a3 UID FETCH 1:* (UID FLAGS)")
	fetchLines := c.readUntilTagged("a3")
	if len(fetchLines) < 2 {
		t.Fatalf("UID FETCH response = %v, want at least one untagged FETCH line", fetchLines)
	}
	if !strings.Contains(fetchLines[0], "FETCH (UID 1") {
		t.Errorf("UID FETCH line = %q, want UID 1", fetchLines[0])
	}
	if !strings.HasPrefix(fetchLines[len(fetchLines)-1], "a3 OK") {
		t.Fatalf("UID FETCH completion = %q, want a3 OK prefix", fetchLines[len(fetchLines)-1])
	}

	c.send("a4 LOGOUT")
	logoutLines := c.readUntilTagged("a4")
	if !strings.HasPrefix(logoutLines[0], "* BYE") {
		t.Errorf("LOGOUT first line = %q, want * BYE prefix", logoutLines[0])
	}
	if !strings.HasPrefix(logoutLines[len(logoutLines)-1], "a4 OK") {
		t.Errorf("LOGOUT completion = %q, want a4 OK prefix", logoutLines[len(logoutLines)-1])
	}
}

func TestHandlerRejectsCommandInWrongState(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	addr := startTestServer(t, backend, store)
	c := dial(t, addr)
	defer c.conn.Close()

	c.readLine() // greeting

	c.send("a1 SELECT INBOX")
	lines := c.readUntilTagged("a1")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "a1 NO") && !strings.HasPrefix(last, "a1 BAD") {
		t.Errorf("SELECT before LOGIN = %q, want NO/BAD", last)
	}
}

func TestHandlerLoginBadCredentials(t *testing.T) {
	backend := &fakeBackend{user: "alice", pass: "s3cret"}
	store := newFakeStorage()
	addr := startTestServer(t, backend, store)
	c := dial(t, addr)
	defer c.conn.Close()

	c.readLine() // greeting

	c.send("a1 LOGIN alice wrongpass")
	lines := c.readUntilTagged("a1")
	if !strings.HasPrefix(lines[len(lines)-1], "a1 NO") {
		t.Errorf("LOGIN with bad password = %v, want a1 NO", lines)
	}
}
