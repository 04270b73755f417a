// Package session defines the top-level stateful entity for one SSH TCP
// connection (§3.1): negotiated algorithm sets, the immutable session id,
// the active service, the authenticated user, and the connection's
// configuration. It is the shared context threaded through the
// connection-layer channel multiplexer and the user-authentication
// service.
package session

import (
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Service names the active SSH service bound to this session.
type Service int

const (
	// ServiceNone means no service has been requested yet.
	ServiceNone Service = iota
	// ServiceUserAuth is bound after SERVICE_REQUEST "ssh-userauth".
	ServiceUserAuth
	// ServiceConnection is bound after a successful authentication.
	ServiceConnection
)

func (s Service) String() string {
	switch s {
	case ServiceUserAuth:
		return "ssh-userauth"
	case ServiceConnection:
		return "ssh-connection"
	default:
		return "none"
	}
}

// Algorithms records the algorithm sets this session was configured to
// offer for each negotiation category (§3.1, §6). golang.org/x/crypto/ssh
// performs the actual first-match negotiation internally and does not
// expose which entry from each list was ultimately chosen; Algorithms
// therefore reflects the configured, offered sets rather than the
// post-negotiation picks (see DESIGN.md's open-question resolution for
// this limitation).
type Algorithms struct {
	KexAlgorithms           []string
	HostKeyAlgorithms       []string
	CiphersClientToServer   []string
	CiphersServerToClient   []string
	MACsClientToServer      []string
	MACsServerToClient      []string
	CompressionClientToSrv  []string
	CompressionServerToClnt []string
}

// Config carries the configuration surface properties relevant to a
// session's runtime behavior (§6): window sizing, timeouts and rekey
// limits. It is intentionally a plain value type so sessions can be
// constructed in tests without a full server.
type Config struct {
	WindowSize      uint32
	MaxPacketSize   uint32
	RekeyBytesLimit uint64
	RekeyTimeLimit  uint64 // seconds
	AuthTimeout     uint32 // seconds
	IdleTimeout     uint32 // seconds
}

// DefaultConfig returns the configuration surface defaults from §6.
func DefaultConfig() Config {
	return Config{
		WindowSize:      2 * 1024 * 1024,
		MaxPacketSize:   32 * 1024,
		RekeyBytesLimit: 1 << 30,
		RekeyTimeLimit:  3600,
		AuthTimeout:     120,
		IdleTimeout:     0,
	}
}

// Session is the top-level stateful entity for one accepted TCP
// connection, created once the transport handshake (version exchange +
// KEX, performed by golang.org/x/crypto/ssh underneath) has produced an
// ssh.ServerConn.
type Session struct {
	conn   ssh.ConnMetadata
	config Config
	algos  Algorithms

	mu      sync.RWMutex
	service Service
}

// New creates a Session bound to an already-handshaked connection.
func New(conn ssh.ConnMetadata, cfg Config, algos Algorithms) *Session {
	return &Session{conn: conn, config: cfg, algos: algos, service: ServiceNone}
}

// SessionID returns the first exchange hash H, immutable for the
// lifetime of the session (§3.1).
func (s *Session) SessionID() []byte { return s.conn.SessionID() }

// User returns the authenticated username (or empty before
// authentication completes).
func (s *Session) User() string { return s.conn.User() }

// ClientVersion returns the peer's identification banner.
func (s *Session) ClientVersion() []byte { return s.conn.ClientVersion() }

// ServerVersion returns our own identification banner.
func (s *Session) ServerVersion() []byte { return s.conn.ServerVersion() }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns our network address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Config returns the session's configuration surface.
func (s *Session) Config() Config { return s.config }

// Algorithms returns the configured (offered) algorithm sets.
func (s *Session) Algorithms() Algorithms { return s.algos }

// Service returns the currently active service.
func (s *Session) Service() Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.service
}

// SetService transitions the active service. Only ssh-userauth may
// follow ServiceNone, and only ssh-connection may follow a successful
// authentication; golang.org/x/crypto/ssh enforces the underlying
// SERVICE_REQUEST state machine, this simply records the outcome for
// observability and for components (like the SFTP subsystem) that key
// their own policy off of it.
func (s *Session) SetService(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.service = svc
}
