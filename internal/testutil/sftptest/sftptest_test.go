package sftptest

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	sshdsftp "github.com/sshcore/sshd/sftp"
)

// TestUploadThenRead is scenario E3 from the specification: open a
// new path for write, write 1 MiB, close, reopen for read, read it
// all back and compare, then remove it.
func TestUploadThenRead(t *testing.T) {
	dir := t.TempDir()
	client, closeFn, err := Dial(sshdsftp.Config{RootDir: dir, MaxVersion: 6})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closeFn()

	want := make([]byte, 1<<20)
	if _, err := rand.Read(want); err != nil {
		t.Fatal(err)
	}

	f, err := client.Create("upload.bin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rf, err := client.Open("upload.bin")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rf.Close()

	if !bytes.Equal(got, want) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", len(got), len(want))
	}

	if err := client.Remove("upload.bin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
