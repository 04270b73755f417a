package server

import "testing"

func TestSplitPair(t *testing.T) {
	u, p := splitPair("alice:s3cret")
	if u != "alice" || p != "s3cret" {
		t.Fatalf("splitPair = %q, %q", u, p)
	}
	u, p = splitPair("bob")
	if u != "bob" || p != "" {
		t.Fatalf("splitPair no-colon = %q, %q", u, p)
	}
}

func TestStaticPasswordAuth(t *testing.T) {
	auth := staticPasswordAuth("alice:s3cret")
	ok, err := auth("alice", "s3cret", nil)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = auth("alice", "wrong", nil)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}
