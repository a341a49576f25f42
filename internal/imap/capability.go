package imap

import "strings"

// Capabilities returns the server's advertised capability list (§4.1's
// greeting and CAPABILITY response), computed from connection state: the
// LOGINDISABLED capability is advertised iff the connection is not secured
// and the configuration forbids plaintext authentication.
func Capabilities(secure, allowPlaintext bool) []string {
	caps := []string{"IMAP4rev1", "IMAP4rev2"}

	if !secure {
		caps = append(caps, "STARTTLS")
	}

	if secure || allowPlaintext {
		caps = append(caps, "AUTH=PLAIN")
	} else {
		caps = append(caps, "LOGINDISABLED")
	}

	return caps
}

// CapabilityLine formats the capability list as the untagged response body
// following "* CAPABILITY ".
func CapabilityLine(secure, allowPlaintext bool) string {
	return strings.Join(Capabilities(secure, allowPlaintext), " ")
}
