package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/maild/internal/server"
	"github.com/infodancer/maild/internal/storage"
)

// cmdUID dispatches the UID-prefixed subcommands. Only FETCH is
// implemented; the rest are recognised-but-unsupported per §4.1.
func cmdUID(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) < 1 {
		bad(conn, tag, "UID requires a subcommand")
		return
	}

	sub := strings.ToUpper(args[0])
	rest := args[1:]

	switch sub {
	case "FETCH":
		cmdUIDFetch(ctx, e, sess, conn, tag, rest)
	case "COPY", "MOVE", "EXPUNGE", "SEARCH", "STORE":
		bad(conn, tag, "Not supported")
	default:
		bad(conn, tag, "Unknown UID subcommand")
	}
}

// cmdNotSupported answers the bare (non-UID) forms of FETCH/STORE/APPEND
// recognised but deliberately unimplemented per the Non-goals in §1.
func cmdNotSupported(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	bad(conn, tag, "Not supported")
}

func cmdUIDFetch(ctx context.Context, e *env, sess *Session, conn *server.Connection, tag string, args []string) {
	if len(args) != 2 {
		bad(conn, tag, "UID FETCH requires a sequence set and an attribute list")
		return
	}

	uidRange, err := ParseUIDRange(args[0])
	if err != nil {
		bad(conn, tag, err.Error())
		return
	}

	attrs, err := ParseFetchAttrs(args[1])
	if err != nil {
		bad(conn, tag, "Unable to parse")
		return
	}

	folder, _, readOnly, ok := sess.SelectedFolder()
	if !ok {
		respondErr(conn, tag, &StateError{Command: "UID FETCH", State: sess.State()})
		return
	}

	mails, err := e.store.ListMails(ctx, sess.Username(), folder)
	if err != nil {
		respondErr(conn, tag, &StorageError{Reason: "unable to list mailbox"})
		return
	}

	var highest uint32
	for _, m := range mails {
		if m.UID() > highest {
			highest = m.UID()
		}
	}

	for i, m := range mails {
		if !uidRange.Contains(m.UID(), highest) {
			continue
		}
		line, err := renderFetchResponse(ctx, m, attrs, i+1, readOnly)
		if err != nil {
			respondErr(conn, tag, &StorageError{Reason: "unable to read message"})
			return
		}
		untagged(conn, line)
	}

	if e.metrics != nil {
		e.metrics.MailboxSelected(folder)
	}

	ok(conn, tag, "UID FETCH completed")
}

// renderFetchResponse builds one "<seqno> FETCH (UID <uid> ...)" line.
func renderFetchResponse(ctx context.Context, m storage.MailEntry, attrs []Attr, seqno int, readOnly bool) (string, error) {
	var parts []string
	parts = append(parts, "UID "+strconv.FormatUint(uint64(m.UID()), 10))

	for _, attr := range attrs {
		piece, marksSeen, err := renderAttr(ctx, m, attr)
		if err != nil {
			return "", err
		}
		if piece != "" {
			parts = append(parts, piece)
		}
		if marksSeen && !readOnly {
			_ = m.SetFlag(ctx, storage.FlagSeen, true)
		}
	}

	return fmt.Sprintf("%d FETCH (%s)", seqno, strings.Join(parts, " ")), nil
}

func renderAttr(ctx context.Context, m storage.MailEntry, attr Attr) (piece string, marksSeen bool, err error) {
	switch attr.Kind {
	case AttrUID:
		return "", false, nil // already included unconditionally
	case AttrFlags:
		flags, err := m.Flags(ctx)
		if err != nil {
			return "", false, err
		}
		names := make([]string, len(flags))
		for i, f := range flags {
			names[i] = string(f)
		}
		return "FLAGS (" + strings.Join(names, " ") + ")", false, nil
	case AttrInternalDate:
		t, err := m.InternalDate(ctx)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf(`INTERNALDATE "%s"`, t.UTC().Format("02-Jan-2006 15:04:05 -0700")), false, nil
	case AttrRFC822Size:
		size, err := m.BodySize(ctx)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("RFC822.SIZE %d", size), false, nil
	case AttrRFC822Header:
		headers, err := m.Headers(ctx)
		if err != nil {
			return "", false, err
		}
		block := renderHeaderBlock(headers, nil, false)
		return fmt.Sprintf("RFC822.HEADER {%d}\r\n%s", len(block), block), false, nil
	case AttrEnvelope:
		headers, err := m.Headers(ctx)
		if err != nil {
			return "", false, err
		}
		return "ENVELOPE " + renderEnvelope(headers), false, nil
	case AttrBodyStructure:
		size, err := m.BodySize(ctx)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf(`BODYSTRUCTURE ("TEXT" "PLAIN" NIL NIL NIL "7BIT" %d NIL NIL NIL)`, size), false, nil
	case AttrBody:
		return renderBodySection(ctx, m, attr)
	case AttrBinary:
		piece, seen, err := renderBodySection(ctx, m, attr)
		if err != nil {
			return "", false, err
		}
		return strings.Replace(piece, "BODY[", "BINARY[", 1), seen, nil
	case AttrBinarySize:
		size, err := bodySectionSize(ctx, m, attr.Section)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("BINARY.SIZE[] %d", size), false, nil
	default:
		return "", false, nil
	}
}

func renderBodySection(ctx context.Context, m storage.MailEntry, attr Attr) (piece string, marksSeen bool, err error) {
	headers, err := m.Headers(ctx)
	if err != nil {
		return "", false, err
	}

	var content string
	switch attr.Section.Kind {
	case SectionNone:
		body, err := m.Body(ctx)
		if err != nil {
			return "", false, err
		}
		content = string(body)
	case SectionHeader:
		content = renderHeaderBlock(headers, nil, false)
	case SectionText:
		body, err := m.Body(ctx)
		if err != nil {
			return "", false, err
		}
		content = stripHeaders(string(body))
	case SectionHeaderFields:
		content = renderHeaderBlock(headers, attr.Section.Fields, false)
	case SectionHeaderFieldsNot:
		content = renderHeaderBlock(headers, attr.Section.Fields, true)
	}

	label := sectionLabel(attr.Section)
	return fmt.Sprintf("BODY[%s] {%d}\r\n%s", label, len(content), content), !attr.Peek, nil
}

func bodySectionSize(ctx context.Context, m storage.MailEntry, section Section) (int, error) {
	switch section.Kind {
	case SectionNone:
		size, err := m.BodySize(ctx)
		return int(size), err
	default:
		headers, err := m.Headers(ctx)
		if err != nil {
			return 0, err
		}
		return len(renderHeaderBlock(headers, section.Fields, section.Kind == SectionHeaderFieldsNot)), nil
	}
}

func sectionLabel(s Section) string {
	switch s.Kind {
	case SectionHeader:
		return "HEADER"
	case SectionText:
		return "TEXT"
	case SectionHeaderFields:
		return "HEADER.FIELDS (" + strings.Join(s.Fields, " ") + ")"
	case SectionHeaderFieldsNot:
		return "HEADER.FIELDS.NOT (" + strings.Join(s.Fields, " ") + ")"
	default:
		return ""
	}
}

// renderHeaderBlock joins the headers matching (or, if exclude, not
// matching) fields case-insensitively into an RFC 822 header block. A nil
// fields list with exclude=false means "all headers".
func renderHeaderBlock(headers []storage.HeaderField, fields []string, exclude bool) string {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[strings.ToLower(f)] = true
	}

	var sb strings.Builder
	for _, h := range headers {
		matched := fields == nil || want[strings.ToLower(h.Name)]
		if exclude {
			matched = !want[strings.ToLower(h.Name)]
		}
		if !matched {
			continue
		}
		sb.WriteString(h.Name)
		sb.WriteString(": ")
		sb.WriteString(h.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

func stripHeaders(raw string) string {
	if idx := strings.Index(raw, "\r\n\r\n"); idx >= 0 {
		return raw[idx+4:]
	}
	if idx := strings.Index(raw, "\n\n"); idx >= 0 {
		return raw[idx+2:]
	}
	return raw
}

// renderEnvelope produces a minimal RFC 9051 §7.5.2 ENVELOPE structure
// populated from the headers this storage layer exposes: date, subject,
// from/sender/reply-to (all aliased to From, since Maildir headers carry
// no distinct routing information beyond what the message itself states),
// to, cc, bcc, in-reply-to, and message-id.
func renderEnvelope(headers []storage.HeaderField) string {
	get := func(name string) string {
		for _, h := range headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	addr := func(field string) string {
		v := get(field)
		if v == "" {
			return "NIL"
		}
		return fmt.Sprintf(`((NIL NIL %q NIL))`, v)
	}

	quote := func(v string) string {
		if v == "" {
			return "NIL"
		}
		return strconv.Quote(v)
	}

	from := addr("From")
	return fmt.Sprintf("(%s %s %s %s %s %s %s %s %s %s)",
		quote(get("Date")), quote(get("Subject")),
		from, from, from,
		addr("To"), addr("Cc"), addr("Bcc"),
		quote(get("In-Reply-To")), quote(get("Message-Id")))
}
