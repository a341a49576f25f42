package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-maildir"
)

// MaildirStore implements MailStorage directly on top of
// github.com/emersion/go-maildir, the same library the author's other
// daemons carry indirectly through their message-store layer, promoted
// here to a direct dependency since IMAP's folder hierarchy and UID
// semantics need its Dir/Key primitives rather than a flat mailbox view.
type MaildirStore struct {
	root string
}

// NewMaildirStore builds a store rooted at root, a directory containing
// one Maildir tree per user (<root>/<user>/).
func NewMaildirStore(root string) *MaildirStore {
	return &MaildirStore{root: root}
}

func (s *MaildirStore) userDir(user string) string {
	return filepath.Join(s.root, user)
}

func (s *MaildirStore) folderDir(user, folder string) string {
	diskName := NormalizeFolder(folder)
	if diskName == "" {
		return s.userDir(user)
	}
	return filepath.Join(s.userDir(user), diskName)
}

// CreateFolder creates the on-disk Maildir structure for folder, applying
// the \Trash flag when its final path segment is "Trash" (§4.1 CREATE).
func (s *MaildirStore) CreateFolder(ctx context.Context, user, folder string) error {
	dir := maildir.Dir(s.folderDir(user, folder))
	if err := dir.Init(); err != nil {
		return fmt.Errorf("storage: creating folder %q: %w", folder, err)
	}

	state, err := loadUIDState(string(dir))
	if err != nil {
		return fmt.Errorf("storage: initialising uid state for %q: %w", folder, err)
	}
	if IsTrash(folder) {
		state.addFlag("\\Trash")
	}
	return state.save()
}

// ListFolders returns every folder under user's maildir tree, with INBOX
// always first (§4.1 LIST).
func (s *MaildirStore) ListFolders(ctx context.Context, user string) ([]string, error) {
	root := s.userDir(user)

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{"INBOX"}, nil
		}
		return nil, fmt.Errorf("storage: listing folders: %w", err)
	}

	folders := []string{"INBOX"}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ".") {
			continue
		}
		folders = append(folders, DisplayName(e.Name()))
	}
	return folders, nil
}

// FolderInfo returns the identity values SELECT/EXAMINE must emit.
func (s *MaildirStore) FolderInfo(ctx context.Context, user, folder string) (FolderInfo, error) {
	dir := maildir.Dir(s.folderDir(user, folder))
	if _, err := os.Stat(string(dir)); err != nil {
		return FolderInfo{}, ErrNotExist
	}

	state, err := loadUIDState(string(dir))
	if err != nil {
		return FolderInfo{}, fmt.Errorf("storage: reading uid state for %q: %w", folder, err)
	}

	return FolderInfo{
		Name:        folder,
		UIDValidity: state.UIDValidity,
		UIDNext:     state.NextUID,
		Flags:       append([]string(nil), state.Flags...),
	}, nil
}

// SetFolderFlag records a folder-level flag (e.g. \Trash) in the sidecar
// state file, since Maildir carries no native concept of per-folder flags.
func (s *MaildirStore) SetFolderFlag(ctx context.Context, user, folder, flag string) error {
	dir := string(maildir.Dir(s.folderDir(user, folder)))
	state, err := loadUIDState(dir)
	if err != nil {
		return err
	}
	state.addFlag(flag)
	return state.save()
}

// ListMails returns every mail in folder in ascending UID order, assigning
// fresh UIDs to any keys the sidecar state has not seen before.
func (s *MaildirStore) ListMails(ctx context.Context, user, folder string) ([]MailEntry, error) {
	dir := maildir.Dir(s.folderDir(user, folder))

	keys, err := dir.Keys()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: listing mails in %q: %w", folder, err)
	}

	state, err := loadUIDState(string(dir))
	if err != nil {
		return nil, fmt.Errorf("storage: reading uid state for %q: %w", folder, err)
	}

	dirty := false
	entries := make([]MailEntry, 0, len(keys))
	for _, key := range keys {
		uid, isNew := state.uidFor(string(key))
		if isNew {
			dirty = true
		}
		entries = append(entries, &maildirEntry{dir: dir, key: key, uid: uid})
	}

	if dirty {
		if err := state.save(); err != nil {
			return nil, fmt.Errorf("storage: persisting uid state for %q: %w", folder, err)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UID() < entries[j].UID()
	})

	return entries, nil
}

// AppendMail delivers body into folder, returning its newly assigned UID.
func (s *MaildirStore) AppendMail(ctx context.Context, user, folder string, body []byte, initialFlags []Flag) (uint32, error) {
	dir := maildir.Dir(s.folderDir(user, folder))
	if err := dir.Init(); err != nil {
		return 0, fmt.Errorf("storage: ensuring folder %q exists: %w", folder, err)
	}

	key, w, err := dir.Create(toMaildirFlags(initialFlags))
	if err != nil {
		return 0, fmt.Errorf("storage: creating message in %q: %w", folder, err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("storage: writing message in %q: %w", folder, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("storage: closing message in %q: %w", folder, err)
	}

	state, err := loadUIDState(string(dir))
	if err != nil {
		return 0, fmt.Errorf("storage: reading uid state for %q: %w", folder, err)
	}
	uid, _ := state.uidFor(string(key))
	if err := state.save(); err != nil {
		return 0, fmt.Errorf("storage: persisting uid state for %q: %w", folder, err)
	}

	return uid, nil
}

type maildirEntry struct {
	dir maildir.Dir
	key maildir.Key
	uid uint32
}

func (e *maildirEntry) UID() uint32 { return e.uid }

func (e *maildirEntry) Headers(ctx context.Context) ([]HeaderField, error) {
	mh, err := e.dir.Header(e.key)
	if err != nil {
		return nil, fmt.Errorf("storage: reading headers: %w", err)
	}
	return headerFieldsFrom(mh), nil
}

func (e *maildirEntry) Body(ctx context.Context) ([]byte, error) {
	f, err := e.dir.Open(e.key)
	if err != nil {
		return nil, fmt.Errorf("storage: opening message: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (e *maildirEntry) BodySize(ctx context.Context) (uint64, error) {
	f, err := e.dir.Open(e.key)
	if err != nil {
		return 0, fmt.Errorf("storage: opening message: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, f)
	if err != nil {
		return 0, fmt.Errorf("storage: reading message: %w", err)
	}
	return uint64(n), nil
}

func (e *maildirEntry) InternalDate(ctx context.Context) (time.Time, error) {
	path, err := e.dir.Filename(e.key)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: resolving message path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: statting message: %w", err)
	}
	return info.ModTime(), nil
}

func (e *maildirEntry) Flags(ctx context.Context) ([]Flag, error) {
	flags, err := e.dir.Flags(e.key)
	if err != nil {
		return nil, fmt.Errorf("storage: reading flags: %w", err)
	}
	return fromMaildirFlags(flags), nil
}

func (e *maildirEntry) SetFlag(ctx context.Context, flag Flag, on bool) error {
	current, err := e.dir.Flags(e.key)
	if err != nil {
		return fmt.Errorf("storage: reading flags: %w", err)
	}

	mf := flagToMaildir(flag)
	var next []maildir.Flag
	found := false
	for _, f := range current {
		if f == mf {
			found = true
			if !on {
				continue
			}
		}
		next = append(next, f)
	}
	if on && !found {
		next = append(next, mf)
	}

	if err := e.dir.SetFlags(e.key, next); err != nil {
		return fmt.Errorf("storage: setting flags: %w", err)
	}
	return nil
}

func headerFieldsFrom(mh textproto.MIMEHeader) []HeaderField {
	keys := make([]string, 0, len(mh))
	for k := range mh {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []HeaderField
	for _, k := range keys {
		for _, v := range mh[k] {
			fields = append(fields, HeaderField{Name: k, Value: v})
		}
	}
	return fields
}

func toMaildirFlags(flags []Flag) []maildir.Flag {
	out := make([]maildir.Flag, 0, len(flags))
	for _, f := range flags {
		out = append(out, flagToMaildir(f))
	}
	return out
}

func fromMaildirFlags(flags []maildir.Flag) []Flag {
	out := make([]Flag, 0, len(flags))
	for _, f := range flags {
		if flag, ok := flagFromMaildir(f); ok {
			out = append(out, flag)
		}
	}
	return out
}

func flagToMaildir(flag Flag) maildir.Flag {
	switch flag {
	case FlagSeen:
		return maildir.FlagSeen
	case FlagFlagged:
		return maildir.FlagFlagged
	case FlagDraft:
		return maildir.FlagDraft
	case FlagAnswered:
		return maildir.FlagReplied
	case FlagDeleted:
		return maildir.FlagTrashed
	default:
		return 0
	}
}

func flagFromMaildir(flag maildir.Flag) (Flag, bool) {
	switch flag {
	case maildir.FlagSeen:
		return FlagSeen, true
	case maildir.FlagFlagged:
		return FlagFlagged, true
	case maildir.FlagDraft:
		return FlagDraft, true
	case maildir.FlagReplied:
		return FlagAnswered, true
	case maildir.FlagTrashed:
		return FlagDeleted, true
	default:
		return "", false
	}
}
