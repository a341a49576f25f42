package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/storage"
)

func cmdList(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) != 2 {
		bad(conn, tag, "LIST requires a reference and a mailbox pattern")
		return
	}

	pattern := args[1]

	folders, err := e.store.ListFolders(ctx, sess.Username())
	if err != nil {
		respondErr(conn, tag, &StorageError{Reason: "unable to list folders"})
		return
	}

	names := make([]string, 0, len(folders)+1)
	names = append(names, "INBOX")
	for _, f := range folders {
		if strings.EqualFold(f, "INBOX") {
			continue
		}
		names = append(names, f)
	}

	for _, name := range names {
		if !matchListPattern(pattern, name) {
			continue
		}
		untagged(conn, fmt.Sprintf(`LIST (\HasNoChildren) "/" %s`, quoteMailboxName(name)))
	}

	ok(conn, tag, "LIST completed")
}

// matchListPattern implements the two IMAP LIST wildcards: '*' matches any
// sequence (including hierarchy delimiters), '%' matches any sequence not
// containing the delimiter.
func matchListPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	return listGlob(pattern, name)
}

func listGlob(pattern, name string) bool {
	switch {
	case pattern == "":
		return name == ""
	case pattern[0] == '*':
		for i := 0; i <= len(name); i++ {
			if listGlob(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	case pattern[0] == '%':
		for i := 0; i <= len(name); i++ {
			if strings.ContainsRune(name[:i], '/') {
				break
			}
			if listGlob(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	case name == "":
		return false
	case pattern[0] == name[0]:
		return listGlob(pattern[1:], name[1:])
	default:
		return false
	}
}

func quoteMailboxName(name string) string {
	if !strings.ContainsAny(name, " \"\\") {
		return name
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range name {
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	sb.WriteByte('"')
	return sb.String()
}

func cmdSelect(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	doSelect(ctx, e, sess, conn, tag, args, false)
}

func cmdExamine(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	doSelect(ctx, e, sess, conn, tag, args, true)
}

func doSelect(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string, readOnly bool) {
	if len(args) != 1 {
		bad(conn, tag, "requires a mailbox name")
		return
	}

	wireName := unquote(args[0])
	folder := storage.DisplayName(storage.NormalizeFolder(wireName))

	info, err := e.store.FolderInfo(ctx, sess.Username(), folder)
	if err != nil {
		respondErr(conn, tag, &StorageError{Reason: "No such mailbox", NotExist: true})
		return
	}

	mails, err := e.store.ListMails(ctx, sess.Username(), folder)
	if err != nil {
		respondErr(conn, tag, &StorageError{Reason: "unable to list mailbox"})
		return
	}

	recent := 0
	for _, m := range mails {
		flags, _ := m.Flags(ctx)
		for _, f := range flags {
			if f == storage.FlagRecent {
				recent++
				break
			}
		}
	}

	sess.SelectFolder(folder, info, readOnly)

	untagged(conn, fmt.Sprintf("%d EXISTS", len(mails)))
	untagged(conn, fmt.Sprintf("%d RECENT", recent))
	untagged(conn, fmt.Sprintf("OK [UIDVALIDITY %d] UIDs valid", info.UIDValidity))
	untagged(conn, fmt.Sprintf("OK [UIDNEXT %d] Predicted next UID", info.UIDNext))
	untagged(conn, `FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
	untagged(conn, `OK [PERMANENTFLAGS (\Answered \Flagged \Deleted \Seen \Draft)] Limited`)

	if readOnly {
		ok(conn, tag, "[READ-ONLY] SELECT completed")
	} else {
		ok(conn, tag, "[READ-WRITE] SELECT completed")
	}
}

func cmdCreate(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) != 1 {
		bad(conn, tag, "CREATE requires a mailbox name")
		return
	}

	wireName := unquote(args[0])
	folder := storage.DisplayName(storage.NormalizeFolder(wireName))

	if err := e.store.CreateFolder(ctx, sess.Username(), folder); err != nil {
		respondErr(conn, tag, &StorageError{Reason: "unable to create mailbox"})
		return
	}

	if storage.IsTrash(wireName) {
		if err := e.store.SetFolderFlag(ctx, sess.Username(), folder, `\Trash`); err != nil {
			respondErr(conn, tag, &StorageError{Reason: "unable to set mailbox flag"})
			return
		}
	}

	ok(conn, tag, "CREATE completed")
}

func cmdClose(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	sess.Unselect()
	ok(conn, tag, "CLOSE completed")
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	return tok
}
