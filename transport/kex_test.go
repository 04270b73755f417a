package transport

import (
	"math/big"
	"reflect"
	"testing"
)

func TestKexInitMarshalParseRoundTrip(t *testing.T) {
	cookie, err := newCookie()
	if err != nil {
		t.Fatal(err)
	}
	m := &kexInitMsg{
		cookie:                  cookie,
		kexAlgorithms:           []string{"curve25519-sha256", "curve25519-sha256@libssh.org"},
		serverHostKeyAlgorithms: []string{"ssh-ed25519", "rsa-sha2-256"},
		ciphersClientToServer:   []string{"aes128-ctr"},
		ciphersServerToClient:   []string{"aes256-ctr"},
		macsClientToServer:      []string{"hmac-sha2-256"},
		macsServerToClient:      []string{"hmac-sha1"},
		compressClientToServer:  []string{"none"},
		compressServerToClient:  []string{"none"},
		firstKexPacketFollows:   true,
	}

	got, err := parseKexInit(m.marshal())
	if err != nil {
		t.Fatalf("parseKexInit: %v", err)
	}
	if got.cookie != m.cookie {
		t.Fatalf("cookie mismatch")
	}
	if !reflect.DeepEqual(got.kexAlgorithms, m.kexAlgorithms) {
		t.Fatalf("kexAlgorithms: got %v want %v", got.kexAlgorithms, m.kexAlgorithms)
	}
	if !reflect.DeepEqual(got.serverHostKeyAlgorithms, m.serverHostKeyAlgorithms) {
		t.Fatalf("serverHostKeyAlgorithms mismatch")
	}
	if got.firstKexPacketFollows != true {
		t.Fatalf("firstKexPacketFollows not preserved")
	}
}

func TestNegotiateFirstMatchOnClientOrder(t *testing.T) {
	client := []string{"zzz-unsupported", "aes256-ctr", "aes128-ctr"}
	server := []string{"aes128-ctr", "aes256-ctr"}

	got, err := negotiate(client, server)
	if err != nil {
		t.Fatal(err)
	}
	if got != "aes256-ctr" {
		t.Fatalf("got %q, want aes256-ctr (first client preference the server also supports)", got)
	}
}

func TestNegotiateNoOverlapFails(t *testing.T) {
	if _, err := negotiate([]string{"a"}, []string{"b"}); err == nil {
		t.Fatal("expected error for disjoint algorithm sets")
	}
}

func TestDeriveKeyDeterministicAndSized(t *testing.T) {
	k := big.NewInt(123456789)
	h := []byte("exchange-hash")
	sessionID := []byte("session-id")

	a := deriveKey(k, h, sessionID, 'A', 40)
	b := deriveKey(k, h, sessionID, 'A', 40)
	if len(a) != 40 {
		t.Fatalf("len = %d, want 40", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("derivation is not deterministic at byte %d", i)
		}
	}

	c := deriveKey(k, h, sessionID, 'B', 40)
	if string(a) == string(c) {
		t.Fatalf("distinct letters produced identical key material")
	}
}
