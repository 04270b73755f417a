// Package channel implements the Connection-service channel
// multiplexer (§4.4): the channel table, global-request and
// channel-open dispatch, and the built-in session, direct-tcpip and
// forwarded-tcpip channel variants (§4.5). The wire-level open/data/
// window-adjust/close messages themselves, and per-channel flow
// control, are handled by the embedded golang.org/x/crypto/ssh
// connection (ssh.NewChannel / ssh.Channel); this package owns the
// dispatch policy layered on top: which handler a channel type or
// channel-request name resolves to, and how session channels wire a
// Command's stdio to the channel's stream adapters.
package channel

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// GlobalRequestHandler handles a connection-level (non-channel-scoped)
// request such as "tcpip-forward". Returning an error rejects the
// request; call req.Reply for a custom reply, otherwise the dispatch
// loop auto-replies (err == nil) once the handler returns.
type GlobalRequestHandler func(mux *Multiplexer, req *Request) error

// ChannelHandler handles a newly offered channel of one wire channel
// type ("session", "direct-tcpip", "forwarded-tcpip", ...). It is
// responsible for accepting or rejecting the channel itself.
type ChannelHandler func(mux *Multiplexer, newChannel ssh.NewChannel) error

// SessionRequestHandler handles one channel-request type received on
// an already-open session channel (e.g. "pty-req", "shell").
type SessionRequestHandler func(sess *Session, req *Request) error

// SubsystemHandler handles a "subsystem" channel-request for one
// named subsystem (e.g. "sftp").
type SubsystemHandler func(sess *Session, req *Request) error

// Config configures a Multiplexer.
type Config struct {
	Logger *slog.Logger

	// KeepAlive, when non-zero, sends a periodic "keepalive@sshcore"
	// global request on the connection at this interval.
	KeepAlive time.Duration

	// IgnoreEnv discards "env" channel-requests instead of applying
	// them to the command's environment.
	IgnoreEnv bool

	// Shell names a login shell for embedders; the Multiplexer itself
	// never reads it. "shell" requests always go to the Commands
	// factory (NewOSCommandFactory takes its own shell argument), and
	// fail when no factory is configured.
	Shell string

	// Session enables the built-in "session" channel type with its
	// pty-req/window-change/env/shell/exec/subsystem handlers.
	Session bool
	// Commands supplies the process behind shell/exec/subsystem
	// requests. Required when Session is true.
	Commands CommandFactory

	// LocalForwarding enables "direct-tcpip" channels (client asks us
	// to connect out).
	LocalForwarding bool
	// RemoteForwarding enables "tcpip-forward"/"cancel-tcpip-forward"
	// global requests (client asks us to listen and forward back).
	RemoteForwarding bool
	// Forwarding, when non-nil, is consulted before honoring any
	// forwarding request.
	Forwarding ForwardingFilter

	// Subsystems maps subsystem name to handler; "sftp" is populated
	// by server.Config when the SFTP subsystem is enabled.
	Subsystems map[string]SubsystemHandler

	GlobalRequestHandlers map[string]GlobalRequestHandler
	ChannelHandlers       map[string]ChannelHandler
}

// Multiplexer owns one connection's channel table and dispatches
// SSH_MSG_GLOBAL_REQUEST and SSH_MSG_CHANNEL_OPEN traffic to the
// handlers registered in its Config. It implements ssh.Conn by
// delegating to the underlying connection, so callers can use it
// wherever an ssh.Conn is expected (e.g. to OpenChannel for
// forwarded-tcpip).
type Multiplexer struct {
	ssh.Conn
	cfg      Config
	channels <-chan ssh.NewChannel
	requests <-chan *ssh.Request

	globalRequestHandlers  map[string]GlobalRequestHandler
	channelHandlers        map[string]ChannelHandler
	subsystemHandlers      map[string]SubsystemHandler
	sessionRequestHandlers map[string]SessionRequestHandler

	fwdOnce sync.Once
	fwd     forwardState
}

// New builds a Multiplexer around an already-authenticated connection
// (the channels/requests values returned alongside ssh.NewServerConn).
func New(conn ssh.Conn, channels <-chan ssh.NewChannel, requests <-chan *ssh.Request, cfg Config) *Multiplexer {
	m := &Multiplexer{Conn: conn, cfg: cfg, channels: channels, requests: requests}

	m.globalRequestHandlers = map[string]GlobalRequestHandler{}
	maps.Copy(m.globalRequestHandlers, cfg.GlobalRequestHandlers)
	m.channelHandlers = map[string]ChannelHandler{}
	maps.Copy(m.channelHandlers, cfg.ChannelHandlers)
	m.subsystemHandlers = map[string]SubsystemHandler{}
	maps.Copy(m.subsystemHandlers, cfg.Subsystems)
	m.sessionRequestHandlers = map[string]SessionRequestHandler{
		"pty-req":       handlePtyReq,
		"window-change": handleWindowChange,
		"env":           handleEnv,
		"shell":         handleShell,
		"exec":          handleExec,
	}

	if cfg.Session {
		m.channelHandlers["session"] = handleSessionChannel
	}
	if cfg.LocalForwarding {
		m.channelHandlers["direct-tcpip"] = handleDirectTCPIP
	}
	if cfg.RemoteForwarding {
		m.globalRequestHandlers["tcpip-forward"] = handleTCPIPForward
		m.globalRequestHandlers["cancel-tcpip-forward"] = handleCancelTCPIPForward
	}
	return m
}

// RegisterSubsystem adds (or replaces) the handler for a named
// subsystem, e.g. server.Config wires "sftp" here.
func (m *Multiplexer) RegisterSubsystem(name string, h SubsystemHandler) {
	m.subsystemHandlers[name] = h
}

// Serve dispatches global requests and channels until the underlying
// connection's channels are exhausted. It blocks; call it in its own
// goroutine per connection.
func (m *Multiplexer) Serve() {
	go m.serveGlobalRequests()
	if m.cfg.KeepAlive > 0 {
		go func() {
			t := time.NewTicker(m.cfg.KeepAlive)
			defer t.Stop()
			for range t.C {
				if _, _, err := m.SendRequest("keepalive@sshcore", true, nil); err != nil {
					return
				}
			}
		}()
	}
	m.serveChannels()
}

func (m *Multiplexer) serveGlobalRequests() {
	for raw := range m.requests {
		m.debugf("global request: %s", raw.Type)
		handler, ok := m.globalRequestHandlers[raw.Type]
		if !ok {
			m.debugf("no handler for global request: %s", raw.Type)
			if raw.WantReply {
				_ = raw.Reply(false, nil)
			}
			continue
		}
		req := WrapRequest(raw)
		err := handler(m, req)
		if err != nil {
			m.errorf("global request %q failed: %s", req.Type, err)
		}
		if req.WantReply && !req.Replied() {
			_ = req.Reply(err == nil, nil)
		}
	}
}

func (m *Multiplexer) serveChannels() {
	for newChannel := range m.channels {
		go m.dispatchChannel(newChannel)
	}
}

func (m *Multiplexer) dispatchChannel(newChannel ssh.NewChannel) {
	channelType := newChannel.ChannelType()
	m.debugf("channel open request: %s", channelType)

	handler, ok := m.channelHandlers[channelType]
	if !ok {
		m.debugf("unknown channel type: %s", channelType)
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", channelType))
		return
	}
	if err := handler(m, newChannel); err != nil {
		m.errorf("channel %q failed: %s", channelType, err)
	}
}

func (m *Multiplexer) debugf(f string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

func (m *Multiplexer) errorf(f string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Error(fmt.Sprintf(f, args...))
	}
}

// shellPath resolves the shell executable to run for a bare "shell"
// request when Config.Commands does not special-case it.
func shellPath(shell string) (string, error) {
	if shell == "" {
		if runtime.GOOS == "windows" {
			shell = "powershell"
		} else {
			shell = "bash"
		}
	}
	path, err := exec.LookPath(shell)
	if err != nil {
		return "", fmt.Errorf("channel: shell %q not found: %w", shell, err)
	}
	return path, nil
}

// subsystemName decodes the RFC 4254 §6.5 payload of a "subsystem"
// channel-request: a single length-prefixed string.
func subsystemName(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("channel: malformed subsystem payload")
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) != n {
		return "", fmt.Errorf("channel: subsystem name length mismatch")
	}
	return string(payload[4:]), nil
}

// commandLine decodes the RFC 4254 §6.5 payload of an "exec"
// channel-request: a single length-prefixed string.
func commandLine(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", fmt.Errorf("channel: malformed exec payload")
	}
	n := binary.BigEndian.Uint32(payload)
	if uint32(len(payload)-4) != n {
		return "", fmt.Errorf("channel: command length mismatch")
	}
	return string(payload[4:]), nil
}
