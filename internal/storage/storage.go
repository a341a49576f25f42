// Package storage implements the narrow Maildir-backed interface the IMAP
// and SMTP dispatchers depend on (C7): folder management, mail listing,
// flag mutation, and delivery.
package storage

import (
	"context"
	"time"
)

// Flag is one of the six IMAP system flags.
type Flag string

const (
	FlagSeen    Flag = "\\Seen"
	FlagFlagged Flag = "\\Flagged"
	FlagDraft   Flag = "\\Draft"
	FlagAnswered Flag = "\\Answered"
	FlagDeleted Flag = "\\Deleted"
	FlagRecent  Flag = "\\Recent"
)

// HeaderField is one ordered (name, value) header pair.
type HeaderField struct {
	Name  string
	Value string
}

// MailEntry is an opaque handle to one message within a folder (§3).
type MailEntry interface {
	UID() uint32
	Headers(ctx context.Context) ([]HeaderField, error)
	BodySize(ctx context.Context) (uint64, error)
	Body(ctx context.Context) ([]byte, error)
	Flags(ctx context.Context) ([]Flag, error)
	SetFlag(ctx context.Context, flag Flag, on bool) error
	// InternalDate returns the message's arrival time, for IMAP's
	// INTERNALDATE attribute. Maildir has no message metadata database, so
	// implementations derive it from the filesystem (the message file's
	// modification time) rather than storing it separately.
	InternalDate(ctx context.Context) (time.Time, error)
}

// FolderInfo describes one folder's identity for SELECT/EXAMINE.
type FolderInfo struct {
	Name        string
	UIDValidity uint32
	UIDNext     uint32
	Flags       []string
}

// ErrNotExist indicates the referenced folder or user does not exist.
var ErrNotExist = errNotExist{}

type errNotExist struct{}

func (errNotExist) Error() string { return "storage: folder does not exist" }

// MailStorage is the complete set of operations the dispatchers depend on
// (§4.7). Implementations may use any on-disk convention; the core never
// inspects Maildir layout directly.
type MailStorage interface {
	CreateFolder(ctx context.Context, user, folder string) error
	ListFolders(ctx context.Context, user string) ([]string, error)
	FolderInfo(ctx context.Context, user, folder string) (FolderInfo, error)
	ListMails(ctx context.Context, user, folder string) ([]MailEntry, error)
	SetFolderFlag(ctx context.Context, user, folder, flag string) error
	AppendMail(ctx context.Context, user, folder string, body []byte, initialFlags []Flag) (uid uint32, err error)
}
