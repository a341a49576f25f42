// Package imap implements the IMAP4rev1/IMAP4rev2 command dispatcher: the
// session automaton, command parser, and command handlers (C3/C4/C5).
package imap

import (
	"crypto/tls"
	"sync"

	"github.com/infodancer/maild/internal/storage"
)

// State is one of the four session automaton states (§4.1).
type State int

const (
	StateNotAuthenticated State = iota
	StateAuthenticated
	StateSelected
	StateLogout
)

func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "NotAuthenticated"
	case StateAuthenticated:
		return "Authenticated"
	case StateSelected:
		return "Selected"
	case StateLogout:
		return "Logout"
	default:
		return "Unknown"
	}
}

// Session is the per-connection mutable record shared by the dispatcher and
// the (future) unsolicited-response writer (§3). Reads happen during
// command dispatch; writes happen during state transitions; the lock is
// never held across socket I/O.
type Session struct {
	mu sync.RWMutex

	state    State
	secure   bool
	username string

	folder      string // canonical wire name, e.g. "INBOX" or "INBOX/Sent"
	folderInfo  storage.FolderInfo
	readOnly    bool
	hasFolder   bool

	tlsConfig *tls.Config

	hostname string
}

// NewSession constructs a fresh NotAuthenticated session.
func NewSession(hostname string, tlsConfig *tls.Config, alreadySecure bool) *Session {
	return &Session{
		state:     StateNotAuthenticated,
		secure:    alreadySecure,
		hostname:  hostname,
		tlsConfig: tlsConfig,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) Secure() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secure
}

// SetSecure marks the connection as TLS-protected. Per invariant (ii), this
// is monotone false->true; calling it with an already-true session is a
// no-op rather than an error.
func (s *Session) SetSecure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secure = true
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Authenticate transitions NotAuthenticated -> Authenticated and records
// the verified identity. Callers must have already checked State().
func (s *Session) Authenticate(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = identity
	s.state = StateAuthenticated
}

// SelectFolder transitions Authenticated -> Selected (or re-selects from an
// already-Selected session, an atomic swap per §4.1).
func (s *Session) SelectFolder(folder string, info storage.FolderInfo, readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folder = folder
	s.folderInfo = info
	s.readOnly = readOnly
	s.hasFolder = true
	s.state = StateSelected
}

// Unselect transitions Selected -> Authenticated, per CLOSE/UNSELECT.
func (s *Session) Unselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasFolder = false
	s.state = StateAuthenticated
}

// SelectedFolder returns the currently selected folder's canonical wire name and
// cached FolderInfo. ok is false outside of Selected state, satisfying
// invariant (i).
func (s *Session) SelectedFolder() (folder string, info storage.FolderInfo, readOnly bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder, s.folderInfo, s.readOnly, s.hasFolder
}

// Logout transitions to the terminal Logout state.
func (s *Session) Logout() {
	s.setState(StateLogout)
}

func (s *Session) TLSConfig() *tls.Config {
	return s.tlsConfig
}

func (s *Session) Hostname() string {
	return s.hostname
}
