package channel

import (
	"fmt"
	"log/slog"

	"github.com/sshcore/sshd/closer"
	"golang.org/x/crypto/ssh"
)

// exitStatusMsg mirrors RFC 4254 §6.10, the payload of an
// "exit-status" channel-request.
type exitStatusMsg struct {
	Status uint32
}

// exitSignalMsg mirrors RFC 4254 §6.10, the payload of an
// "exit-signal" channel-request.
type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Errmsg     string
	LangTag    string
}

// Session represents one open "session" channel (§4.5): the state
// accumulated from env/pty-req/window-change requests, and — once
// shell/exec/subsystem arrives — the running Command wired to it.
type Session struct {
	mux     *Multiplexer
	Channel ssh.Channel
	Env     []string
	Resizes chan []byte
	Logger  *slog.Logger

	closer *closer.Once
	cmd    Command
}

// Mux returns the connection multiplexer this session belongs to.
func (s *Session) Mux() *Multiplexer { return s.mux }

func (s *Session) debugf(f string, args ...any) {
	if s.Logger != nil {
		s.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

func (s *Session) errorf(f string, args ...any) {
	if s.Logger != nil {
		s.Logger.Error(fmt.Sprintf(f, args...))
	}
}

// close builds and runs this session's close composition: request
// handling stops (implicit, once Channel.Close returns), any running
// command is destroyed, and the channel itself is closed exactly once
// (§4.4's close protocol, applied at channel-variant granularity).
func (s *Session) close() *closer.Future {
	return s.closer.Close(false)
}

// handleSessionChannel is the ChannelHandler for the "session" channel
// type: accept the channel, then dispatch its channel-requests until
// the client closes it.
func handleSessionChannel(mux *Multiplexer, newChannel ssh.NewChannel) error {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return fmt.Errorf("channel: could not accept session channel: %w", err)
	}

	sess := &Session{
		mux:     mux,
		Channel: channel,
		Resizes: make(chan []byte, 8),
		Logger:  mux.cfg.Logger,
	}
	sess.closer = closer.NewOnce(closer.Func(func(immediate bool) *closer.Future {
		if sess.cmd != nil {
			_ = sess.cmd.Destroy()
		}
		return closer.Sequential(
			closer.RunAction(func() { close(sess.Resizes) }),
			closer.RunAction(func() { _ = channel.Close() }),
		).Close(immediate)
	}))

	go serveSessionRequests(sess, requests)
	return nil
}

// serveSessionRequests dispatches channel-requests arriving on an
// open session channel. "subsystem" is special-cased exactly as RFC
// 4254 §6.5 describes it (a length-prefixed name), the rest go
// through the registered SessionRequestHandler table.
func serveSessionRequests(sess *Session, requests <-chan *ssh.Request) {
	defer sess.close()

	for raw := range requests {
		req := WrapRequest(raw)
		sess.debugf("session request: %s", req.Type)

		if req.Type == "subsystem" {
			ok := dispatchSubsystem(sess, req)
			if req.WantReply && !req.Replied() {
				_ = req.Reply(ok, nil)
			}
			if !ok {
				return
			}
			continue
		}

		handler, ok := sess.mux.sessionRequestHandlers[req.Type]
		if !ok {
			sess.debugf("unhandled session request: %s", req.Type)
			if req.WantReply && !req.Replied() {
				_ = req.Reply(false, nil)
			}
			continue
		}
		err := handler(sess, req)
		if err != nil {
			sess.errorf("session request %q failed: %s", req.Type, err)
		}
		if req.WantReply && !req.Replied() {
			_ = req.Reply(err == nil, nil)
		}
	}
}

func dispatchSubsystem(sess *Session, req *Request) bool {
	name, err := subsystemName(req.Payload)
	if err != nil {
		sess.debugf("malformed subsystem request: %s", err)
		return false
	}
	handler, ok := sess.mux.subsystemHandlers[name]
	if !ok {
		sess.debugf("unsupported subsystem: %q", name)
		return false
	}
	if err := handler(sess, req); err != nil {
		sess.errorf("subsystem %q failed: %s", name, err)
		return false
	}
	return true
}

func handlePtyReq(sess *Session, req *Request) error {
	if len(req.Payload) < 4 {
		return fmt.Errorf("channel: malformed pty-req payload")
	}
	termLen := req.Payload[3]
	if int(termLen)+4 > len(req.Payload) {
		return fmt.Errorf("channel: malformed pty-req payload")
	}
	sess.Resizes <- req.Payload[termLen+4:]
	return nil
}

func handleWindowChange(sess *Session, req *Request) error {
	sess.Resizes <- req.Payload
	return nil
}

func handleEnv(sess *Session, req *Request) error {
	var e struct{ Name, Value string }
	if err := ssh.Unmarshal(req.Payload, &e); err != nil {
		return fmt.Errorf("channel: malformed env payload: %w", err)
	}
	if sess.mux.cfg.IgnoreEnv {
		return nil
	}
	sess.Env = setEnv(sess.Env, e.Name, e.Value)
	return nil
}

func setEnv(env []string, name, value string) []string {
	prefix := name + "="
	for i, e := range env {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func handleShell(sess *Session, req *Request) error {
	return startCommand(sess, "")
}

func handleExec(sess *Session, req *Request) error {
	line, err := commandLine(req.Payload)
	if err != nil {
		return err
	}
	return startCommand(sess, line)
}

// startCommand instantiates a Command via the configured factory,
// wires its stdio to the channel (Sync mode: the command reads and
// writes the channel directly), and forwards exit-status/exit-signal
// back to the peer once it terminates.
func startCommand(sess *Session, commandLine string) error {
	if sess.mux.cfg.Commands == nil {
		return fmt.Errorf("channel: no command factory configured")
	}
	cmd, err := sess.mux.cfg.Commands(commandLine)
	if err != nil {
		return fmt.Errorf("channel: command factory: %w", err)
	}
	sess.cmd = cmd

	cmd.SetInput(sess.Channel)
	cmd.SetOutput(sess.Channel)
	cmd.SetError(sess.Channel.Stderr())
	cmd.SetExitCallback(func(code uint32, signal string) {
		if signal != "" {
			_, _ = sess.Channel.SendRequest("exit-signal", false, ssh.Marshal(&exitSignalMsg{Signal: signal}))
		} else {
			_, _ = sess.Channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: code}))
		}
		sess.close()
	})

	env := sess.Env
	if !hasEnvKey(env, "TERM") {
		env = append(env, "TERM=xterm-256color")
	}
	if err := cmd.Start(env); err != nil {
		return fmt.Errorf("channel: command start: %w", err)
	}
	return nil
}

func hasEnvKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
