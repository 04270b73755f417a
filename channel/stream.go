package channel

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/sshcore/sshd/closer"
)

// This file implements the three streaming modes a Command's stdio may
// be wired through (§4.5): Sync (the command gets the channel's own
// blocking Reader/Writer), Inverted (the channel owns a pipe and the
// caller drives the other end, useful for in-process test commands
// that should not see an ssh.Channel at all), and Async (reads and
// writes each return a Future, with the single-pending-read contract
// exercised by the "previous pending read" testable property).

// SyncStream returns rw itself, unmodified: the simplest stream mode,
// where the command reads and writes the channel directly.
func SyncStream(rw io.ReadWriter) io.ReadWriter { return rw }

// InvertedPipe is one end of an inverted stream: the channel side
// (returned to a Command via SetInput/SetOutput) is a plain
// io.Reader/io.Writer, while the caller drives the opposite,
// "inverted" end returned alongside it.
type InvertedPipe struct {
	// CommandSide is wired to the Command via SetInput or SetOutput.
	CommandSide io.ReadWriteCloser
	// InvertedSide is read from or written to by the owner of the
	// channel (typically test code standing in for a real peer).
	InvertedSide io.ReadWriteCloser
}

// NewInvertedStream creates a pipe-backed stream where the channel
// owns both ends: the command-facing side and the caller-facing
// "inverted" side that mirrors it.
func NewInvertedStream() *InvertedPipe {
	toCommandR, toCommandW := io.Pipe()
	fromCommandR, fromCommandW := io.Pipe()
	return &InvertedPipe{
		CommandSide:  &pipeReadWriteCloser{r: toCommandR, w: fromCommandW},
		InvertedSide: &pipeReadWriteCloser{r: fromCommandR, w: toCommandW},
	}
}

type pipeReadWriteCloser struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeReadWriteCloser) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeReadWriteCloser) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeReadWriteCloser) Close() error {
	rerr := p.r.Close()
	werr := p.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// ErrPreviousPendingRead is returned (synchronously, via an
// already-completed Future) when Read is called while an earlier Read
// on the same AsyncStream has not yet completed (§4.5, §8 property 8).
var ErrPreviousPendingRead = errors.New("channel: previous pending read")

// AsyncStream wraps an io.ReadWriter so that reads and writes each
// return a *closer.Future instead of blocking the caller. At most one
// read may be outstanding at a time.
type AsyncStream struct {
	rw io.ReadWriter

	readPending atomic.Bool
}

// NewAsyncStream wraps rw for asynchronous use.
func NewAsyncStream(rw io.ReadWriter) *AsyncStream {
	return &AsyncStream{rw: rw}
}

// ReadAsync starts a read into buf, returning a Future that completes
// with the byte count once data arrives (or an error, including
// io.EOF). If a previous ReadAsync on this stream has not yet
// completed, the returned Future is already failed with
// ErrPreviousPendingRead and no read is attempted.
func (a *AsyncStream) ReadAsync(buf []byte) *closer.Future {
	if !a.readPending.CompareAndSwap(false, true) {
		return closer.Completed(0, ErrPreviousPendingRead)
	}
	f := closer.NewFuture()
	go func() {
		n, err := a.rw.Read(buf)
		a.readPending.Store(false)
		f.Complete(n, err)
	}()
	return f
}

// WriteAsync starts a write of p, returning a Future that completes
// with the byte count once the underlying Write returns. Unlike reads,
// concurrent writes are not restricted by this type; ordering, if
// required, is the caller's responsibility.
func (a *AsyncStream) WriteAsync(p []byte) *closer.Future {
	f := closer.NewFuture()
	go func() {
		n, err := a.rw.Write(p)
		f.Complete(n, err)
	}()
	return f
}
