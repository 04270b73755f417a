package channel

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// TestAsyncStreamPreviousPendingRead exercises §8 property 8: a second
// concurrent ReadAsync on the same stream fails synchronously with
// ErrPreviousPendingRead while the first is still outstanding.
func TestAsyncStreamPreviousPendingRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	stream := NewAsyncStream(pr)

	buf1 := make([]byte, 16)
	f1 := stream.ReadAsync(buf1)
	if f1.IsDone() {
		t.Fatal("first read should not have completed yet, nothing was written")
	}

	buf2 := make([]byte, 16)
	f2 := stream.ReadAsync(buf2)
	if !f2.IsDone() {
		t.Fatal("second concurrent read should fail synchronously")
	}
	_, err := f2.Verify(time.Second)
	if !errors.Is(err, ErrPreviousPendingRead) {
		t.Fatalf("got %v want ErrPreviousPendingRead", err)
	}

	if _, err := pw.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	res, err := f1.Verify(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n := res.(int); n != 5 {
		t.Fatalf("got %d bytes want 5", n)
	}

	// once the first read completes, a new read is allowed.
	buf3 := make([]byte, 16)
	f3 := stream.ReadAsync(buf3)
	if f3.IsDone() {
		t.Fatal("third read should be pending, nothing new written yet")
	}
}

func TestAsyncStreamWrite(t *testing.T) {
	var buf bytes.Buffer
	stream := NewAsyncStream(&buf)
	f := stream.WriteAsync([]byte("data"))
	res, err := f.Verify(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.(int) != 4 || buf.String() != "data" {
		t.Fatalf("got %d %q", res, buf.String())
	}
}

func TestInvertedStreamRoundTrip(t *testing.T) {
	p := NewInvertedStream()
	go func() {
		p.CommandSide.Write([]byte("pong"))
	}()
	buf := make([]byte, 4)
	n, err := p.InvertedSide.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("got %q", buf[:n])
	}
}
