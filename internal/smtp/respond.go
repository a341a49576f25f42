package smtp

import "fmt"

// responder is the narrow slice of *server.Connection the command handlers
// need: enqueue a response line onto the writer fan-in queue (§4.4).
type responder interface {
	Enqueue(line string)
}

// reply writes a single-line "<code> <text>" response.
func reply(w responder, code int, text string) {
	w.Enqueue(fmt.Sprintf("%d %s", code, text))
}

// replyMulti writes a multi-line reply: every line but the last uses the
// "<code>-<text>" continuation form; the last uses "<code> <text>" (EHLO).
func replyMulti(w responder, code int, lines []string) {
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		w.Enqueue(fmt.Sprintf("%d%s%s", code, sep, l))
	}
}

// respondErr maps a taxonomy error (§7) onto the appropriate SMTP reply
// code.
func respondErr(w responder, err error) {
	switch e := err.(type) {
	case *ParseError:
		reply(w, 501, e.Reason)
	case *StateError:
		reply(w, 503, fmt.Sprintf("Bad sequence of commands (%s not allowed in %s)", e.Command, e.State))
	case *AuthError:
		if e.Transient {
			reply(w, 454, e.Reason)
		} else {
			reply(w, 535, e.Reason)
		}
	case *StorageError:
		if e.NotExist {
			reply(w, 550, e.Reason)
		} else {
			reply(w, 451, e.Reason)
		}
	default:
		reply(w, 451, "internal error")
	}
}
