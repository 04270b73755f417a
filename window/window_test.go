package window

import (
	"context"
	"testing"
	"time"
)

func TestConsumeExpandRoundTrip(t *testing.T) {
	w := New(1024, 256)
	if err := w.Consume(context.Background(), 500); err != nil {
		t.Fatal(err)
	}
	if got := w.Size(); got != 524 {
		t.Fatalf("got %d want 524", got)
	}
	w.Expand(500)
	if got := w.Size(); got != 1024 {
		t.Fatalf("got %d want 1024", got)
	}
}

func TestConsumeBlocksUntilExpand(t *testing.T) {
	w := New(10, 256)
	if err := w.Consume(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- w.Consume(context.Background(), 5)
	}()
	select {
	case <-done:
		t.Fatal("consume should have blocked with zero credit")
	case <-time.After(50 * time.Millisecond):
	}
	w.Expand(5)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("consume did not unblock after expand")
	}
}

func TestConsumeFailsWhenClosing(t *testing.T) {
	w := New(10, 256)
	w.Close()
	if err := w.Consume(context.Background(), 1); err != ErrClosing {
		t.Fatalf("got %v want ErrClosing", err)
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	w := New(0, 256)
	done := make(chan error, 1)
	go func() {
		done <- w.Consume(context.Background(), 1)
	}()
	time.Sleep(20 * time.Millisecond)
	w.Close()
	select {
	case err := <-done:
		if err != ErrClosing {
			t.Fatalf("got %v want ErrClosing", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked consumer")
	}
}

func TestExpandSaturates(t *testing.T) {
	w := New(0, 256)
	w.Expand(maxWindow)
	w.Expand(1000)
	if got := w.Size(); got != maxWindow {
		t.Fatalf("got %d want %d", got, uint32(maxWindow))
	}
}

func TestConsumeAndCheckRestoresAtHalf(t *testing.T) {
	w := New(1000, 256)
	adjust, err := w.ConsumeAndCheck(400)
	if err != nil {
		t.Fatal(err)
	}
	if adjust != 0 {
		t.Fatalf("got adjust=%d want 0 (600 >= 500)", adjust)
	}
	adjust, err = w.ConsumeAndCheck(200)
	if err != nil {
		t.Fatal(err)
	}
	if adjust != 600 {
		t.Fatalf("got adjust=%d want 600 (400 -> restore to 1000)", adjust)
	}
	if got := w.Size(); got != 1000 {
		t.Fatalf("got %d want 1000 after restore", got)
	}
}

func TestConsumeChunkedBoundedByMaxPacket(t *testing.T) {
	w := New(1000, 100)
	n, err := w.ConsumeChunked(context.Background(), 500)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Fatalf("got %d want 100", n)
	}
}

func TestConsumeRespectsContextCancel(t *testing.T) {
	w := New(0, 256)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Consume(ctx, 1)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consume did not respect context cancellation")
	}
}
