package sftp

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sshcore/sshd/buffer"
)

func newTestServer(t *testing.T, root string) (*Server, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	s := NewServer(nil, out, Config{RootDir: root})
	s.version = 3
	return s, out
}

func TestHandleTableUniqueness(t *testing.T) {
	ht := newHandleTable(16, 10, 0)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		h, err := ht.insert(&resource{})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if seen[h] {
			t.Fatalf("duplicate handle %q", h)
		}
		seen[h] = true
	}
	if ht.count() != 50 {
		t.Fatalf("count = %d, want 50", ht.count())
	}
}

func TestHandleTableMaxHandles(t *testing.T) {
	ht := newHandleTable(16, 10, 2)
	if _, err := ht.insert(&resource{}); err != nil {
		t.Fatal(err)
	}
	if _, err := ht.insert(&resource{}); err != nil {
		t.Fatal(err)
	}
	if _, err := ht.insert(&resource{}); err != ErrTooManyHandles {
		t.Fatalf("err = %v, want ErrTooManyHandles", err)
	}
}

func TestAttrRoundTripV3(t *testing.T) {
	a := Attr{
		Set:         AttrSize | AttrPermissions,
		Size:        1234,
		Permissions: 0o644,
	}
	b := buffer.New()
	a.Encode(b, 3)
	r := buffer.NewReader(b.Bytes())
	got, err := DecodeAttr(r, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != a.Size || got.Permissions != a.Permissions {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestAttrRoundTripV4(t *testing.T) {
	a := Attr{
		Set:  AttrSize | AttrOwnerGroup,
		Size: 42,
		OwnerName: "alice",
		GroupName: "staff",
	}
	b := buffer.New()
	a.Encode(b, 4)
	r := buffer.NewReader(b.Bytes())
	got, err := DecodeAttr(r, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerName != "alice" || got.GroupName != "staff" {
		t.Fatalf("got %+v", got)
	}
}

func TestStatusForMapping(t *testing.T) {
	if code, _ := statusFor(os.ErrNotExist); code != StatusNoSuchFile {
		t.Fatalf("ErrNotExist -> %d, want StatusNoSuchFile", code)
	}
	if code, _ := statusFor(os.ErrPermission); code != StatusPermissionDenied {
		t.Fatalf("ErrPermission -> %d", code)
	}
	if code, _ := statusFor(nil); code != StatusOK {
		t.Fatalf("nil -> %d, want StatusOK", code)
	}
	if code, _ := statusFor(ErrInvalidHandle); code != StatusInvalidHandle {
		t.Fatalf("ErrInvalidHandle -> %d", code)
	}
}

func TestResolveClampsUnderRoot(t *testing.T) {
	s, _ := newTestServer(t, "/srv/data")
	got := s.resolve("../../etc/passwd")
	want := filepath.Join("/srv/data", "etc/passwd")
	if got != want {
		t.Fatalf("resolve = %q, want %q", got, want)
	}
}

func TestResolveNoRoot(t *testing.T) {
	s, _ := newTestServer(t, "")
	if got := s.resolve("foo/bar"); got != "/foo/bar" {
		t.Fatalf("resolve = %q", got)
	}
}

func TestByteRangeLockOverlap(t *testing.T) {
	r := &resource{}
	if err := r.block(0, 100, true); err != nil {
		t.Fatal(err)
	}
	if err := r.block(50, 10, false); err != ErrLockConflict {
		t.Fatalf("err = %v, want ErrLockConflict", err)
	}
	if err := r.unblock(0, 100); err != nil {
		t.Fatal(err)
	}
	if err := r.unblock(0, 100); err != ErrNoMatchingLock {
		t.Fatalf("err = %v, want ErrNoMatchingLock", err)
	}
}

func TestVersionSelectMustBeFirst(t *testing.T) {
	s, out := newTestServer(t, "")
	s.cfg.MinVersion, s.cfg.MaxVersion = 3, 6

	req := buffer.New()
	req.WriteByte(OpLstat)
	req.WriteUint32(1)
	req.WriteString("/tmp")
	if err := s.dispatch(req.Bytes()); err != nil {
		// file may not exist; either way versionSelected must now be true
	}
	_ = out

	vs := buffer.New()
	vs.WriteByte(OpExtended)
	vs.WriteUint32(2)
	vs.WriteString(ExtVersionSelect)
	vs.WriteString("4")
	if err := s.dispatch(vs.Bytes()); err == nil {
		t.Fatal("expected error dispatching late version-select")
	}
}

func TestAdvertisedExtensionsListsVersions(t *testing.T) {
	exts := AdvertisedExtensions(3, 6)
	if exts[0][0] != "versions" || exts[0][1] != "3,4,5,6" {
		t.Fatalf("versions ext = %v", exts[0])
	}
}

func TestOverlapsHelper(t *testing.T) {
	if !overlaps(0, 10, 5, 10) {
		t.Fatal("expected overlap")
	}
	if overlaps(0, 10, 10, 10) {
		t.Fatal("expected no overlap at boundary")
	}
	if !overlaps(0, 0, 100, 10) {
		t.Fatal("zero length means to-EOF, should overlap")
	}
}
