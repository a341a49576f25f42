package storage

import "strings"

// NormalizeFolder resolves Open Question (2): split the wire-form IMAP
// path on "/", drop a leading INBOX segment (case-insensitively, since
// INBOX is always the untransformed root), and dot-join what remains into
// the on-disk Maildir++ folder name. The empty result denotes the root
// inbox itself.
//
// Examples: "INBOX" -> "", "INBOX/Sent" -> ".Sent", "Archive/2024" ->
// ".Archive.2024".
func NormalizeFolder(wirePath string) string {
	segments := strings.Split(wirePath, "/")

	filtered := segments[:0:0]
	for i, seg := range segments {
		if i == 0 && strings.EqualFold(seg, "INBOX") {
			continue
		}
		if seg == "" {
			continue
		}
		filtered = append(filtered, seg)
	}

	if len(filtered) == 0 {
		return ""
	}
	return "." + strings.Join(filtered, ".")
}

// DisplayName converts an on-disk folder name (as returned by
// NormalizeFolder, e.g. ".Sent" or "") back into wire form ("INBOX/Sent",
// "INBOX").
func DisplayName(diskName string) string {
	if diskName == "" {
		return "INBOX"
	}
	trimmed := strings.TrimPrefix(diskName, ".")
	segments := strings.Split(trimmed, ".")
	return "INBOX/" + strings.Join(segments, "/")
}

// IsTrash reports whether folder's final path segment is "Trash"
// (case-insensitive), per §4.1's CREATE rule.
func IsTrash(wirePath string) bool {
	segments := strings.Split(wirePath, "/")
	last := segments[len(segments)-1]
	return strings.EqualFold(last, "Trash")
}
