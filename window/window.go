// Package window implements the SSH connection protocol's per-channel flow
// control credit counter (RFC 4254 section 5.2): a non-negative 32-bit
// counter that blocks senders once exhausted and is replenished by
// CHANNEL_WINDOW_ADJUST messages.
package window

import (
	"context"
	"errors"
	"sync"
)

// ErrClosing is returned by Consume when the owning channel has entered
// its closing state; any blocked or future consumers fail immediately.
var ErrClosing = errors.New("window: channel is closing")

// maxWindow is the saturation point for Expand, 2^32-1.
const maxWindow = 1<<32 - 1

// Window is a blocking credit counter with a configured maximum packet
// size. One Window tracks the sending credit in a single direction; a
// channel owns two independent Windows (§3.3 of the design).
type Window struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    uint64
	initial uint32
	maxPkt  uint32
	closed  bool
}

// New creates a Window with the given initial credit and maximum packet
// size.
func New(initialSize, maxPacketSize uint32) *Window {
	w := &Window{size: uint64(initialSize), initial: initialSize, maxPkt: maxPacketSize}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Size returns the current credit, a non-blocking snapshot.
func (w *Window) Size() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint32(w.size)
}

// MaxPacketSize returns the configured maximum packet size.
func (w *Window) MaxPacketSize() uint32 {
	return w.maxPkt
}

// Consume blocks until n bytes of credit are available and debits them,
// or returns ErrClosing if the window is closed (directly, or while
// waiting). It honors ctx cancellation.
func (w *Window) Consume(ctx context.Context, n uint32) error {
	if n == 0 {
		return nil
	}
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.cond.Broadcast()
				w.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.closed {
			return ErrClosing
		}
		if w.size >= uint64(n) {
			w.size -= uint64(n)
			return nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		w.cond.Wait()
	}
}

// ConsumeChunked blocks until at least one byte of credit is available and
// debits up to n bytes (bounded also by MaxPacketSize), returning how many
// bytes of credit were actually consumed. Used by outbound data writers
// that chunk to the negotiated max packet size.
func (w *Window) ConsumeChunked(ctx context.Context, n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if n > w.maxPkt && w.maxPkt > 0 {
		n = w.maxPkt
	}

	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.cond.Broadcast()
				w.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.closed {
			return 0, ErrClosing
		}
		if w.size > 0 {
			take := uint64(n)
			if w.size < take {
				take = w.size
			}
			w.size -= take
			return uint32(take), nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
		}
		w.cond.Wait()
	}
}

// Expand adds n bytes of credit and wakes any blocked consumers. The
// counter saturates at 2^32-1 rather than overflowing.
func (w *Window) Expand(n uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.size += uint64(n)
	if w.size > maxWindow {
		w.size = maxWindow
	}
	w.cond.Broadcast()
}

// ConsumeAndCheck debits n bytes from the local (inbound) window and
// reports how many bytes should be advertised back to the peer via
// CHANNEL_WINDOW_ADJUST. It returns 0 when the advertised floor has not
// yet fallen below half the initial window size.
//
// "Advertised floor" is tracked as the current size; once size drops
// below initial/2, the full deficit (initial - size) is returned and the
// local bookkeeping is restored to initial, matching the restore-to-full
// policy described in the design.
func (w *Window) ConsumeAndCheck(n uint32) (adjust uint32, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosing
	}
	if uint64(n) > w.size {
		return 0, errors.New("window: consume exceeds available credit")
	}
	w.size -= uint64(n)
	half := uint64(w.initial) / 2
	if w.size >= half {
		return 0, nil
	}
	adjust = uint32(uint64(w.initial) - w.size)
	w.size = uint64(w.initial)
	return adjust, nil
}

// Close marks the window as closing: blocked and future Consume calls
// fail with ErrClosing, and all waiters are woken.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.cond.Broadcast()
}
