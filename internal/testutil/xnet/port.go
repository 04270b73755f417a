// Package xnet provides small networking helpers for end-to-end
// tests: free-port allocation and an in-memory bufconn-backed
// listener/dialer, adapted from
// _examples/jpillora-sshd-lite/sshd/xnet.
package xnet

import (
	"fmt"
	"io"
	"net"
)

// GetRandomListener listens on a random loopback TCP port.
func GetRandomListener() (net.Listener, string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	addr := listener.Addr().(*net.TCPAddr)
	return listener, addr.String(), nil
}

// FindFreePort returns an available TCP port by binding to port 0 and
// immediately releasing it.
func FindFreePort() (int, error) {
	listener, addr, err := GetRandomListener()
	if err != nil {
		return 0, fmt.Errorf("xnet: find free port: %w", err)
	}
	listener.Close()

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, err
	}
	return tcpAddr.Port, nil
}

// ForwardConnections bidirectionally copies between conn1 and conn2
// until either side closes, the same shape this module's own
// channel.handleDirectTCPIP uses for a single forwarded connection,
// reused here to drive the far end of an end-to-end forwarding test.
func ForwardConnections(conn1, conn2 net.Conn) {
	defer conn1.Close()
	defer conn2.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(conn1, conn2) //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(conn2, conn1) //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
}
