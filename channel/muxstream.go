package channel

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/sshcore/sshd/closer"
)

// MuxStreamHandler is invoked once per accepted "smux" channel, given a
// StreamMux to open named logical streams over it. It runs for the
// lifetime of the channel; returning ends the channel's mux loop.
type MuxStreamHandler func(mx *StreamMux)

// EnableMuxStream registers the "smux" channel type on cfg, accepting
// one physical SSH channel and multiplexing several named logical
// streams over it with a length-prefixed frame header
// (name-length|name|payload-length|payload), the same shape as the
// teacher's own multiplexed session control channel
// (github.com/jpillora/sshd-lite/pkg/smux), reimplemented here on top
// of the closer package's Closeable/Future close algebra instead of a
// bespoke session manager.
func EnableMuxStream(cfg *Config, handler MuxStreamHandler) {
	if cfg.ChannelHandlers == nil {
		cfg.ChannelHandlers = map[string]ChannelHandler{}
	}
	cfg.ChannelHandlers["smux"] = func(mux *Multiplexer, newChannel ssh.NewChannel) error {
		ch, requests, err := newChannel.Accept()
		if err != nil {
			return err
		}
		go ssh.DiscardRequests(requests)
		mx := newStreamMux(ch)
		go func() {
			handler(mx)
			mx.Close(false).Verify(0)
		}()
		return nil
	}
}

// StreamMux multiplexes named byte streams over one ssh.Channel.
type StreamMux struct {
	ch ssh.Channel

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]*MuxedStream
	closed  bool
}

func newStreamMux(ch ssh.Channel) *StreamMux {
	mx := &StreamMux{ch: ch, streams: map[string]*MuxedStream{}}
	go mx.readLoop()
	return mx
}

// Open returns the logical stream named name, creating it on first
// use. Both peers must agree on stream names out of band (e.g. a
// fixed set like "stdout"/"stderr"/"ctl", or a name negotiated over a
// well-known control stream).
func (mx *StreamMux) Open(name string) *MuxedStream {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	if s, ok := mx.streams[name]; ok {
		return s
	}
	s := &MuxedStream{name: name, mx: mx, in: make(chan []byte, 16)}
	mx.streams[name] = s
	return s
}

func (mx *StreamMux) readLoop() {
	defer mx.dispatchEOF()
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(mx.ch, hdr[:1]); err != nil {
			return
		}
		nameLen := int(hdr[0])
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(mx.ch, name); err != nil {
			return
		}
		if _, err := io.ReadFull(mx.ch, hdr[:4]); err != nil {
			return
		}
		payloadLen := binary.BigEndian.Uint32(hdr[:4])
		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := io.ReadFull(mx.ch, payload); err != nil {
				return
			}
		}
		s := mx.Open(string(name))
		select {
		case s.in <- payload:
		default:
			// slow consumer: drop rather than block the shared read loop,
			// matching the at-most-once delivery the teacher's own
			// broadcast-to-clients loop assumes for a stalled viewer.
		}
	}
}

func (mx *StreamMux) dispatchEOF() {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	for _, s := range mx.streams {
		close(s.in)
	}
}

func (mx *StreamMux) writeFrame(name string, payload []byte) error {
	mx.writeMu.Lock()
	defer mx.writeMu.Unlock()
	if len(name) > 255 {
		return fmt.Errorf("channel: smux stream name %q too long", name)
	}
	if _, err := mx.ch.Write([]byte{byte(len(name))}); err != nil {
		return err
	}
	if _, err := mx.ch.Write([]byte(name)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := mx.ch.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := mx.ch.Write(payload)
	return err
}

// Close closes the underlying channel using this package's standard
// close composition (§4.4): a single sequential stage since a
// StreamMux owns no nested closeables of its own beyond the channel.
func (mx *StreamMux) Close(immediate bool) *closer.Future {
	return closer.Sequential(closer.RunAction(func() {
		mx.mu.Lock()
		mx.closed = true
		mx.mu.Unlock()
		mx.ch.Close()
	})).Close(immediate)
}

// MuxedStream is one named logical stream within a StreamMux. It
// implements io.Reader and io.Writer.
type MuxedStream struct {
	name string
	mx   *StreamMux
	in   chan []byte
	buf  []byte
}

func (s *MuxedStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		chunk, ok := <-s.in
		if !ok {
			return 0, io.EOF
		}
		s.buf = chunk
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *MuxedStream) Write(p []byte) (int, error) {
	if err := s.mx.writeFrame(s.name, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
