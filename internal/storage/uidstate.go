package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// uidStateFile is the sidecar TOML file persisting the stable UID and
// UIDVALIDITY mapping that go-maildir's opaque string keys do not
// themselves carry (§3's MailboxRef.UIDValidity addition).
const uidStateFile = ".maild-uidstate.toml"

type uidState struct {
	UIDValidity uint32            `toml:"uid_validity"`
	NextUID     uint32            `toml:"next_uid"`
	Flags       []string          `toml:"flags"`
	Keys        map[string]uint32 `toml:"keys"`

	mu   sync.Mutex
	path string
}

func loadUIDState(dir string) (*uidState, error) {
	path := filepath.Join(dir, uidStateFile)

	st := &uidState{path: path, Keys: make(map[string]uint32)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			st.UIDValidity = newUIDValidity()
			st.NextUID = 1
			return st, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, st); err != nil {
		return nil, err
	}
	if st.Keys == nil {
		st.Keys = make(map[string]uint32)
	}
	st.path = path
	return st, nil
}

func (s *uidState) save() error {
	data, err := toml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// uidFor returns the stable UID for key, assigning a fresh one (never
// reusing or inventing UIDs outside monotonic allocation, per invariant
// (iv)) if key has not been seen in this folder before. The assignment is
// held in memory only; callers persist it with save.
func (s *uidState) uidFor(key string) (uid uint32, isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uid, ok := s.Keys[key]; ok {
		return uid, false
	}

	uid = s.NextUID
	s.NextUID++
	s.Keys[key] = uid
	return uid, true
}

func (s *uidState) hasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (s *uidState) addFlag(flag string) {
	if s.hasFlag(flag) {
		return
	}
	s.Flags = append(s.Flags, flag)
}

// newUIDValidity stamps a folder with a value derived from wall-clock
// time at creation, changing whenever UID continuity would otherwise be
// broken (§3's UIDVALIDITY semantics, GLOSSARY).
func newUIDValidity() uint32 {
	return uint32(time.Now().Unix())
}
