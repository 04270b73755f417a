package channel

import (
	"errors"

	"golang.org/x/crypto/ssh"
)

// Request wraps ssh.Request, tracking whether Reply has already been
// called so handlers and the dispatch loop's auto-reply never race to
// write two replies to the same request.
type Request struct {
	*ssh.Request
	replied bool
}

// WrapRequest adapts a raw ssh.Request.
func WrapRequest(req *ssh.Request) *Request {
	return &Request{Request: req}
}

// Reply sends a reply and marks the request as replied. Calling it
// twice returns an error instead of writing to the wire twice.
func (r *Request) Reply(ok bool, payload []byte) error {
	if r.replied {
		return errors.New("channel: request already replied to")
	}
	r.replied = true
	return r.Request.Reply(ok, payload)
}

// Replied reports whether Reply has already been called.
func (r *Request) Replied() bool { return r.replied }
