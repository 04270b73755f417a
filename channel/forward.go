package channel

import (
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// tcpipForwardMsg mirrors RFC 4254 §7.1, the payload of a
// "tcpip-forward" / "cancel-tcpip-forward" global request.
type tcpipForwardMsg struct {
	Host string
	Port uint32
}

// forwardedTCPIPPayload mirrors RFC 4254 §7.2, both the extra data of
// a "forwarded-tcpip" channel-open and (with different field meaning)
// a "direct-tcpip" channel-open.
type forwardedTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// forwardListener tracks one active reverse-forwarding bind so it can
// be torn down by a matching cancel-tcpip-forward request.
type forwardListener struct {
	listener net.Listener
}

// forwardState is the per-connection bookkeeping for remote
// forwarding, embedded in the Multiplexer so cancel requests can find
// their listener and everything is released when the connection ends.
type forwardState struct {
	mu        sync.Mutex
	listeners map[string]*forwardListener
}

func stateFor(mux *Multiplexer) *forwardState {
	mux.fwdOnce.Do(func() { mux.fwd.listeners = map[string]*forwardListener{} })
	return &mux.fwd
}

func handleTCPIPForward(mux *Multiplexer, req *Request) error {
	var payload tcpipForwardMsg
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("channel: malformed tcpip-forward payload: %w", err)
	}
	if mux.cfg.Forwarding != nil && !mux.cfg.Forwarding(ForwardingTCPIPForward, "", 0, payload.Host, payload.Port) {
		return fmt.Errorf("channel: tcpip-forward to %s:%d denied", payload.Host, payload.Port)
	}

	bindAddr := net.JoinHostPort(payload.Host, fmt.Sprintf("%d", payload.Port))
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("channel: listen %s: %w", bindAddr, err)
	}

	st := stateFor(mux)
	st.mu.Lock()
	st.listeners[bindAddr] = &forwardListener{listener: listener}
	st.mu.Unlock()

	actualPort := uint32(listener.Addr().(*net.TCPAddr).Port)
	if req.WantReply {
		var reply struct{ Port uint32 }
		reply.Port = actualPort
		if err := req.Reply(true, ssh.Marshal(&reply)); err != nil {
			mux.errorf("channel: reply to tcpip-forward: %s", err)
		}
	}

	go acceptForwarded(mux, listener, payload.Host, actualPort)
	return nil
}

func handleCancelTCPIPForward(mux *Multiplexer, req *Request) error {
	var payload tcpipForwardMsg
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("channel: malformed cancel-tcpip-forward payload: %w", err)
	}
	bindAddr := net.JoinHostPort(payload.Host, fmt.Sprintf("%d", payload.Port))

	st := stateFor(mux)
	st.mu.Lock()
	fl, ok := st.listeners[bindAddr]
	if ok {
		delete(st.listeners, bindAddr)
	}
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel: no reverse forwarding bound at %s", bindAddr)
	}
	return fl.listener.Close()
}

func acceptForwarded(mux *Multiplexer, listener net.Listener, host string, port uint32) {
	defer listener.Close()
	for {
		conn, err := listener.Accept()
		if err != nil {
			mux.debugf("forwarded-tcpip listener closed: %s", err)
			return
		}
		go relayForwarded(mux, conn, host, port)
	}
}

func relayForwarded(mux *Multiplexer, conn net.Conn, host string, port uint32) {
	defer conn.Close()

	remote := conn.RemoteAddr().(*net.TCPAddr)
	payload := forwardedTCPIPPayload{
		Host:       host,
		Port:       port,
		OriginHost: remote.IP.String(),
		OriginPort: uint32(remote.Port),
	}
	channel, requests, err := mux.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
	if err != nil {
		mux.debugf("channel: forwarded-tcpip open failed: %s", err)
		return
	}
	defer channel.Close()
	go ssh.DiscardRequests(requests)

	pipe(mux, conn, channel)
}

func handleDirectTCPIP(mux *Multiplexer, newChannel ssh.NewChannel) error {
	var payload forwardedTCPIPPayload
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, "invalid direct-tcpip payload")
		return fmt.Errorf("channel: malformed direct-tcpip payload: %w", err)
	}
	if mux.cfg.Forwarding != nil && !mux.cfg.Forwarding(ForwardingDirectTCPIP, payload.OriginHost, payload.OriginPort, payload.Host, payload.Port) {
		_ = newChannel.Reject(ssh.Prohibited, "forwarding denied")
		return fmt.Errorf("channel: direct-tcpip to %s:%d denied", payload.Host, payload.Port)
	}

	destAddr := net.JoinHostPort(payload.Host, fmt.Sprintf("%d", payload.Port))
	conn, err := net.Dial("tcp", destAddr)
	if err != nil {
		_ = newChannel.Reject(ssh.ConnectionFailed, fmt.Sprintf("connect to %s failed", destAddr))
		return fmt.Errorf("channel: dial %s: %w", destAddr, err)
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		conn.Close()
		return fmt.Errorf("channel: accept direct-tcpip: %w", err)
	}
	go ssh.DiscardRequests(requests)

	go func() {
		defer channel.Close()
		defer conn.Close()
		pipe(mux, channel, conn)
	}()
	return nil
}

// pipe copies bytes bidirectionally between a and b until both
// directions drain, half-closing the write side of the peer as each
// direction hits EOF (matching the direction-independent close in
// §4.5's direct/forwarded-tcpip description).
func pipe(mux *Multiplexer, a, b io.ReadWriteCloser) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(b, a)
		closeWrite(b)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(a, b)
		closeWrite(a)
	}()
	wg.Wait()
}

func closeWrite(c io.ReadWriteCloser) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
