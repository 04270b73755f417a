package key_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sshcore/sshd/key"
	"golang.org/x/crypto/ssh"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	t.Parallel()

	k1, err := key.GenerateKey("", false)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	k2, err := key.GenerateKey("", false)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if string(k1) == string(k2) {
		t.Fatal("keys should be different when using random seed")
	}

	k3, err := key.GenerateKey("seed1", false)
	if err != nil {
		t.Fatalf("failed to generate key with seed: %v", err)
	}
	k4, err := key.GenerateKey("seed1", false)
	if err != nil {
		t.Fatalf("failed to generate key with same seed: %v", err)
	}
	if string(k3) != string(k4) {
		t.Fatal("keys with same seed should be identical")
	}
}

func writeAuthorizedKeys(t *testing.T, path string, signers ...ssh.Signer) {
	t.Helper()
	var out []byte
	for _, s := range signers {
		out = append(out, ssh.MarshalAuthorizedKey(s.PublicKey())...)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatal(err)
	}
}

func genSigner(t *testing.T, seed string) ssh.Signer {
	t.Helper()
	pemBytes, err := key.GenerateKey(seed, true)
	if err != nil {
		t.Fatal(err)
	}
	s, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// TestAuthorizedKeyStoreReloadsExactlyOncePerCall exercises §8 property 6
// and scenario E5: a single Authorized() call performs exactly one
// reload check, whether or not the file content changed underneath it.
func TestAuthorizedKeyStoreReloadsExactlyOncePerCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authorized_keys")

	k1 := genSigner(t, "k1")
	k2 := genSigner(t, "k2")
	writeAuthorizedKeys(t, path, k1)

	store := &key.AuthorizedKeyStore{Path: path}

	before := store.ReloadCount()
	ok, err := store.Authorized("alice", k1.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected key1 to be authorized")
	}
	if got := store.ReloadCount() - before; got != 1 {
		t.Fatalf("got %d reloads want 1", got)
	}

	// mtime unchanged: still exactly one reload for the call, and the
	// second key is correctly reported as not yet authorized.
	before = store.ReloadCount()
	ok, err = store.Authorized("alice", k2.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected key2 to not yet be authorized")
	}
	if got := store.ReloadCount() - before; got != 1 {
		t.Fatalf("got %d reloads want 1", got)
	}

	// rewrite with both keys; next Authorized call must observe key2.
	writeAuthorizedKeys(t, path, k1, k2)
	ok, err = store.Authorized("alice", k2.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected key2 to be authorized after file update")
	}
}

func TestFileKeyProviderGeneratesAndCaches(t *testing.T) {
	p := &key.FileKeyProvider{Seed: "host-seed"}
	k1, err := p.LoadKeys()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := p.LoadKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(k1) != 1 || len(k2) != 1 {
		t.Fatalf("expected exactly one host key, got %d and %d", len(k1), len(k2))
	}
	if k1[0].PublicKey().Marshal() == nil {
		t.Fatal("expected a usable public key")
	}
	types, err := p.KeyTypes()
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 1 {
		t.Fatalf("got %v", types)
	}
}
