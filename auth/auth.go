// Package auth implements the UserAuth service (§4.3): the
// SERVICE_REQUEST/USERAUTH_REQUEST/FAILURE/SUCCESS state machine over
// a *transport.Transport, including the publickey
// query-then-signature-verify handshake (RFC 4252 §7) and the
// keyboard-interactive INFO_REQUEST/RESPONSE round trip (RFC 4256),
// plus the pluggable per-method authenticators, the per-session
// attempt budget, and the method-chaining bookkeeping an embedder
// configures via Config.
package auth

import (
	"errors"
	"fmt"
	"net"

	"github.com/sshcore/sshd/buffer"
	"github.com/sshcore/sshd/session"
	"github.com/sshcore/sshd/transport"
	"golang.org/x/crypto/ssh"
)

// PasswordAuthenticator decides whether password is correct for user.
// sess is already bound to the connection (service is still
// ssh-userauth at this point; only User()/RemoteAddr()/SessionID()
// etc. are meaningful).
type PasswordAuthenticator func(user, password string, sess *session.Session) (bool, error)

// PublickeyAuthenticator decides whether pub is an acceptable key for
// user. It is called once during the query probe (no signature yet)
// and, if accepted there, again once the client supplies a valid
// signature — mirroring how RFC 4252 §7's two-round handshake lets a
// client ask "would this key work" before committing to sign with it.
type PublickeyAuthenticator func(user string, pub ssh.PublicKey, sess *session.Session) (bool, error)

// KeyboardInteractiveChallenger runs a challenge/response round and
// reports whether the answers authenticate user.
type KeyboardInteractiveChallenger func(user string, sess *session.Session, challenge ssh.KeyboardInteractiveChallenge) (bool, error)

// MethodPassword, MethodPublicKey and MethodKeyboardInteractive name
// the per-method attempt budgets in Config.PerMethodMaxAttempts and
// the entries of Config.RequiredMethods.
const (
	MethodNone                = "none"
	MethodPassword            = "password"
	MethodPublicKey           = "publickey"
	MethodKeyboardInteractive = "keyboard-interactive"
)

// DefaultMaxAttempts is the default per-session authentication attempt
// budget (§4.3: "configurable maximum attempts per session (default
// 20)").
const DefaultMaxAttempts = 20

// Config configures the UserAuth service. The zero value disables
// every method; at least one of Password, PublicKey or
// KeyboardInteractive must be set unless NoClientAuth is true.
type Config struct {
	Password            PasswordAuthenticator
	PublicKey           PublickeyAuthenticator
	KeyboardInteractive KeyboardInteractiveChallenger

	// NoClientAuth disables authentication entirely; any client is
	// accepted as-is. Used for embedders that enforce authorization
	// out of band (§6).
	NoClientAuth bool

	// MaxAttempts bounds the number of USERAUTH_REQUEST messages
	// accepted per connection before it is dropped. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int

	// PerMethodMaxAttempts further bounds attempts of one specific
	// method (e.g. {"password": 3}), on top of the session-wide
	// MaxAttempts. A method absent from the map is bounded only by
	// MaxAttempts.
	PerMethodMaxAttempts map[string]int

	// RequiredMethods, when non-empty, lists every method that must
	// individually succeed before the connection is authenticated
	// (e.g. []string{MethodPublicKey, MethodPassword} for two-factor
	// auth). When empty, any single successful method authenticates
	// the connection (plain OR semantics). A method accepted before
	// every required method has completed is reported to the client
	// as USERAUTH_FAILURE with partial_success=true (RFC 4252 §5.1),
	// so well-behaved clients advance to the next method on their
	// own rather than re-offering one already satisfied.
	RequiredMethods []string

	// AuthLog, when non-nil, observes every authentication attempt,
	// successful or not.
	AuthLog func(user, method string, sess *session.Session, err error)

	// SessionFactory constructs the Session threaded through every
	// authenticator call. When nil, a minimal Session wrapping the
	// connection with DefaultConfig() and a zero Algorithms is used.
	SessionFactory func(conn ssh.ConnMetadata) *session.Session
}

// ErrTooManyAttempts is returned (causing the connection to be
// dropped) once a session's attempt budget is exhausted.
var ErrTooManyAttempts = errors.New("auth: too many authentication attempts")

// ErrMethodDisabled is reported for a method with no configured
// authenticator.
var ErrMethodDisabled = errors.New("auth: method not configured")

// tracker holds the mutable authentication state for one connection's
// USERAUTH_REQUEST loop: attempts so far (total and per-method), and
// which of Config.RequiredMethods have completed.
type tracker struct {
	total     int
	perMethod map[string]int
	satisfied map[string]bool
}

func newTracker() *tracker {
	return &tracker{perMethod: map[string]int{}, satisfied: map[string]bool{}}
}

// attempt records one USERAUTH_REQUEST for method and reports whether
// the session's attempt budget still permits it.
func (t *tracker) attempt(cfg Config, method string) bool {
	t.total++
	t.perMethod[method]++

	max := cfg.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if t.total > max {
		return false
	}
	if perMax, ok := cfg.PerMethodMaxAttempts[method]; ok && t.perMethod[method] > perMax {
		return false
	}
	return true
}

// complete marks method as having succeeded and reports whether every
// method in required has now succeeded (the connection may
// authenticate).
func (t *tracker) complete(required []string, method string) bool {
	t.satisfied[method] = true
	if len(required) == 0 {
		return true
	}
	for _, m := range required {
		if !t.satisfied[m] {
			return false
		}
	}
	return true
}

// Service runs the UserAuth wire protocol for connections, built from
// a Config shared across every connection the server accepts.
type Service struct {
	cfg     Config
	methods []string
}

// NewService constructs a Service from cfg.
func NewService(cfg Config) *Service {
	s := &Service{cfg: cfg}
	if cfg.Password != nil {
		s.methods = append(s.methods, MethodPassword)
	}
	if cfg.PublicKey != nil {
		s.methods = append(s.methods, MethodPublicKey)
	}
	if cfg.KeyboardInteractive != nil {
		s.methods = append(s.methods, MethodKeyboardInteractive)
	}
	return s
}

func (s *Service) session(conn ssh.ConnMetadata) *session.Session {
	if s.cfg.SessionFactory != nil {
		return s.cfg.SessionFactory(conn)
	}
	return session.New(conn, session.DefaultConfig(), session.Algorithms{})
}

func (s *Service) log(user, method string, sess *session.Session, err error) {
	if s.cfg.AuthLog != nil {
		s.cfg.AuthLog(user, method, sess, err)
	}
}

// connMeta adapts a *transport.Transport plus the username offered in
// the current USERAUTH_REQUEST to ssh.ConnMetadata, so session.Session
// (and any embedder code already written against that interface) does
// not need to change shape along with the transport underneath it.
type connMeta struct {
	t    *transport.Transport
	user string
}

func (c *connMeta) User() string          { return c.user }
func (c *connMeta) SessionID() []byte     { return c.t.SessionID() }
func (c *connMeta) ClientVersion() []byte { return c.t.ClientVersion() }
func (c *connMeta) ServerVersion() []byte { return c.t.ServerVersion() }
func (c *connMeta) RemoteAddr() net.Addr  { return c.t.RemoteAddr() }
func (c *connMeta) LocalAddr() net.Addr   { return c.t.LocalAddr() }

// userAuthRequest is RFC 4252 §5's SSH_MSG_USERAUTH_REQUEST: user,
// service and method names, followed by method-specific fields this
// package parses per method in authenticateMethod.
type userAuthRequest struct {
	user, service, method string
	fields                *buffer.Buffer
}

func parseUserAuthRequest(payload []byte) (*userAuthRequest, error) {
	r := buffer.NewReader(payload[1:])
	user, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("auth: parsing USERAUTH_REQUEST: %w", err)
	}
	service, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("auth: parsing USERAUTH_REQUEST: %w", err)
	}
	method, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("auth: parsing USERAUTH_REQUEST: %w", err)
	}
	return &userAuthRequest{user: user, service: service, method: method, fields: r}, nil
}

// Authenticate drives one connection's UserAuth service to completion:
// read SERVICE_REQUEST "ssh-userauth", accept it, then loop over
// USERAUTH_REQUEST messages until either an authorized method chain
// completes (returning the connection's Session, with its Service
// already advanced to ServiceConnection) or the attempt budget is
// exhausted (returning ErrTooManyAttempts).
func (s *Service) Authenticate(t *transport.Transport) (*session.Session, error) {
	if err := expectServiceRequest(t, "ssh-userauth"); err != nil {
		return nil, err
	}

	tr := newTracker()
	for {
		payload, err := t.ReadPacket()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || payload[0] != msgUserAuthRequest {
			return nil, fmt.Errorf("auth: expected USERAUTH_REQUEST, got message %d", payloadType(payload))
		}
		req, err := parseUserAuthRequest(payload)
		if err != nil {
			return nil, err
		}

		meta := &connMeta{t: t, user: req.user}
		sess := s.session(meta)

		if s.cfg.NoClientAuth {
			if err := sendUserAuthSuccess(t); err != nil {
				return nil, err
			}
			sess.SetService(session.ServiceConnection)
			return sess, nil
		}

		if !tr.attempt(s.cfg, req.method) {
			return nil, ErrTooManyAttempts
		}

		accepted, probeOnly, err := s.authenticateMethod(t, req, sess)
		s.log(req.user, req.method, sess, authErr(accepted, err))
		if err != nil {
			return nil, fmt.Errorf("auth: %s: %w", req.method, err)
		}
		if probeOnly {
			// A publickey query probe replies PK_OK/FAILURE itself
			// and is never a completed authentication attempt, so it
			// is taken back off the attempt budget.
			tr.total--
			tr.perMethod[req.method]--
			continue
		}
		if accepted && tr.complete(s.cfg.RequiredMethods, req.method) {
			if err := sendUserAuthSuccess(t); err != nil {
				return nil, err
			}
			sess.SetService(session.ServiceConnection)
			return sess, nil
		}
		if err := sendUserAuthFailure(t, s.methods, accepted); err != nil {
			return nil, err
		}
	}
}

func authErr(accepted bool, err error) error {
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("auth: rejected")
	}
	return nil
}

func payloadType(p []byte) int {
	if len(p) == 0 {
		return -1
	}
	return int(p[0])
}
