package xnet

import (
	"context"
	"net"

	"google.golang.org/grpc/test/bufconn"
)

// ListenerDialer combines a net.Listener with a Dial method, letting
// a test drive both ends of a connection without touching a real
// socket.
type ListenerDialer interface {
	net.Listener
	Dial(ctx context.Context, network, addr string) (net.Conn, error)
}

type mem struct {
	*bufconn.Listener
}

// NewMem returns an in-memory ListenerDialer backed by
// google.golang.org/grpc/test/bufconn with a 32 KiB buffer (twice the
// SFTP default max packet length of 16 KiB) rather than a grpc-message
// size.
func NewMem() ListenerDialer {
	return &mem{Listener: bufconn.Listen(32 * 1024)}
}

func (m *mem) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return m.Listener.DialContext(ctx)
}
