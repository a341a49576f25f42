package imap

import "fmt"

// responder is the narrow slice of *server.Connection the command handlers
// need: enqueue a response line onto the writer fan-in queue (§4.4).
type responder interface {
	Enqueue(line string)
}

// untagged writes a "* ..." response line.
func untagged(w responder, body string) {
	w.Enqueue("* " + body)
}

// ok writes the tagged "<tag> OK ..." completion.
func ok(w responder, tag, text string) {
	w.Enqueue(fmt.Sprintf("%s OK %s", tag, text))
}

// no writes the tagged "<tag> NO ..." completion, optionally with a
// bracketed response code (e.g. "UNAVAILABLE", "TRYCREATE").
func no(w responder, tag, code, text string) {
	if code != "" {
		w.Enqueue(fmt.Sprintf("%s NO [%s] %s", tag, code, text))
		return
	}
	w.Enqueue(fmt.Sprintf("%s NO %s", tag, text))
}

// bad writes the tagged "<tag> BAD ..." completion.
func bad(w responder, tag, text string) {
	w.Enqueue(fmt.Sprintf("%s BAD %s", tag, text))
}

// respondErr maps a taxonomy error (§7) onto the appropriate tagged
// completion. Unrecognised error types are treated as InternalError.
func respondErr(w responder, tag string, err error) {
	switch e := err.(type) {
	case *ParseError:
		bad(w, tag, e.Reason)
	case *StateError:
		bad(w, tag, fmt.Sprintf("Command not allowed in %s", e.State))
	case *AuthError:
		if e.Transient {
			no(w, tag, "UNAVAILABLE", e.Reason)
		} else {
			no(w, tag, "", e.Reason)
		}
	case *StorageError:
		if e.NotExist {
			no(w, tag, "TRYCREATE", e.Reason)
		} else {
			no(w, tag, "", e.Reason)
		}
	default:
		untagged(w, "BAD [SERVERBUG] internal error")
	}
}
