package channel

import (
	"io"
	"net"
	"testing"
	"time"
)

// fakeSSHChannel adapts a net.Conn to ssh.Channel (Read/Write/Close
// only; CloseWrite/SendRequest/Stderr are unused by muxstream.go's own
// logic and thus not exercised here).
type fakeSSHChannel struct{ net.Conn }

func (f fakeSSHChannel) CloseWrite() error                              { return nil }
func (f fakeSSHChannel) SendRequest(string, bool, []byte) (bool, error) { return true, nil }
func (f fakeSSHChannel) Stderr() io.ReadWriter                          { return nil }

func TestStreamMuxFraming(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	mxA := newStreamMux(fakeSSHChannel{a})
	mxB := newStreamMux(fakeSSHChannel{b})

	done := make(chan struct{})
	go func() {
		stdout := mxB.Open("stdout")
		buf := make([]byte, 5)
		n, err := stdout.Read(buf)
		if err != nil || string(buf[:n]) != "hello" {
			t.Errorf("got %q err=%v", buf[:n], err)
		}
		close(done)
	}()

	stdout := mxA.Open("stdout")
	if _, err := stdout.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framed read")
	}
}
