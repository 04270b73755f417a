// Package key provides default, file-backed implementations of the
// embedder-facing KeyProvider and AuthorizedKeyStore collaborators (§6):
// host key generation/loading, and watched authorized_keys parsing.
package key

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// Map indexes public keys by their marshaled wire form for O(1)
// membership checks, and retains the authorized_keys comment field.
type Map map[string]string

// HasKey reports whether k is present in the map.
func (m Map) HasKey(k ssh.PublicKey) bool {
	_, ok := m[string(k.Marshal())]
	return ok
}

// GenerateKey produces a PEM-encoded private key. If seed is empty the
// key is generated from crypto/rand; otherwise generation is
// deterministic, seeded from the given string (used by tests and by
// operators who want a stable host key without persisting one to disk).
// ec selects Ed25519 instead of RSA-2048.
func GenerateKey(seed string, ec bool) ([]byte, error) {
	var r io.Reader
	if seed == "" {
		r = rand.Reader
	} else {
		r = NewDetermRand([]byte(seed))
	}
	if ec {
		_, pri, err := ed25519.GenerateKey(r)
		if err != nil {
			return nil, err
		}
		pemBlock, err := ssh.MarshalPrivateKey(pri, "EC PRIVATE KEY")
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(pemBlock), nil
	}
	priv, err := rsa.GenerateKey(r, 2048)
	if err != nil {
		return nil, err
	}
	if err := priv.Validate(); err != nil {
		return nil, err
	}
	b := x509.MarshalPKCS1PrivateKey(priv)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: b}), nil
}

// ParseKeys parses an authorized_keys-formatted byte slice, skipping
// lines that fail to parse (comments, blank lines).
func ParseKeys(b []byte) (Map, error) {
	lines := bytes.Split(b, []byte("\n"))
	m := Map{}
	for _, l := range lines {
		if k, cmt, _, _, err := ssh.ParseAuthorizedKey(l); err == nil {
			m[string(k.Marshal())] = cmt
		}
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("no keys found")
	}
	return m, nil
}

// Fingerprint returns the SHA256 fingerprint of k in the conventional
// "SHA256:base64" form.
func Fingerprint(k ssh.PublicKey) string {
	sum := sha256.Sum256(k.Marshal())
	b64 := base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString(sum[:])
	return "SHA256:" + b64
}

// DetermRandIter is the number of hash iterations used to mix a string
// seed into the deterministic key-generation stream.
const DetermRandIter = 2048

// NewDetermRand returns an io.Reader producing a deterministic byte
// stream derived from seed, suitable for deterministic key generation in
// tests (never for production host keys).
func NewDetermRand(seed []byte) io.Reader {
	var out []byte
	next := seed
	for i := 0; i < DetermRandIter; i++ {
		next, out = hash(next)
	}
	return &determRand{next: next, out: out}
}

type determRand struct{ next, out []byte }

func (d *determRand) Read(b []byte) (int, error) {
	if len(b) == 1 {
		return 1, nil
	}
	n := 0
	for n < len(b) {
		next, out := hash(d.next)
		n += copy(b[n:], out)
		d.next = next
	}
	return n, nil
}

func hash(input []byte) (next, output []byte) {
	sum := sha512.Sum512(input)
	return sum[:sha512.Size/2], sum[sha512.Size/2:]
}

// FileKeyProvider supplies a single host key: read from the PEM file at
// Path or, when Path is empty, generated from Seed (deterministically,
// or from crypto/rand when Seed is empty too). The key is cached in
// memory after first use. It implements the KeyProvider collaborator
// described in §6.
type FileKeyProvider struct {
	Path string
	Seed string
	EC   bool

	mu   sync.Mutex
	keys []ssh.Signer
}

// LoadKeys returns every host key this provider can supply, generating
// one on first use if none is configured.
func (p *FileKeyProvider) LoadKeys() ([]ssh.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keys != nil {
		return p.keys, nil
	}
	var pemBytes []byte
	if p.Path != "" {
		b, err := os.ReadFile(p.Path)
		if err != nil {
			return nil, fmt.Errorf("key: reading %s: %w", p.Path, err)
		}
		pemBytes = b
	} else {
		b, err := GenerateKey(p.Seed, p.EC)
		if err != nil {
			return nil, err
		}
		pemBytes = b
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("key: parsing host key: %w", err)
	}
	p.keys = []ssh.Signer{signer}
	return p.keys, nil
}

// LoadKey returns the first loaded key whose public key type matches
// keyType (e.g. "ssh-rsa", "ssh-ed25519").
func (p *FileKeyProvider) LoadKey(keyType string) (ssh.Signer, error) {
	keys, err := p.LoadKeys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.PublicKey().Type() == keyType {
			return k, nil
		}
	}
	return nil, fmt.Errorf("key: no host key of type %q", keyType)
}

// KeyTypes returns the public key algorithm names this provider can
// supply.
func (p *FileKeyProvider) KeyTypes() ([]string, error) {
	keys, err := p.LoadKeys()
	if err != nil {
		return nil, err
	}
	types := make([]string, len(keys))
	for i, k := range keys {
		types[i] = k.PublicKey().Type()
	}
	return types, nil
}

// AuthorizedKeyStore answers "is this public key authorized for this
// user" by parsing an authorized_keys file, reloading it whenever its
// mtime changes. Every call to Authorized performs exactly one stat of
// the backing file, satisfying the reload-accounting contract in §8
// property 6 / scenario E5: a caller can read ReloadCount() before and
// after a single Authorized call and see it advance by exactly one,
// regardless of whether the content actually changed.
type AuthorizedKeyStore struct {
	Path string

	mu          sync.Mutex
	modTime     int64
	keys        Map
	reloadCount int64
}

// Authorized reports whether pub is present in the authorized_keys file
// for the given user. sshd-lite (and this design) is single-user scoped:
// the same file is consulted regardless of username, matching the
// teacher's behavior.
func (s *AuthorizedKeyStore) Authorized(user string, pub ssh.PublicKey) (bool, error) {
	keys, err := s.reload()
	if err != nil {
		return false, err
	}
	return keys.HasKey(pub), nil
}

// ReloadCount returns the number of times the backing file has been
// stat-checked (one per Authorized call).
func (s *AuthorizedKeyStore) ReloadCount() int64 {
	return atomic.LoadInt64(&s.reloadCount)
}

func (s *AuthorizedKeyStore) reload() (Map, error) {
	atomic.AddInt64(&s.reloadCount, 1)
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("key: stat %s: %w", s.Path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mt := info.ModTime().UnixNano()
	if s.keys != nil && mt == s.modTime {
		return s.keys, nil
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("key: reading %s: %w", s.Path, err)
	}
	keys, err := ParseKeys(b)
	if err != nil {
		return nil, err
	}
	s.keys = keys
	s.modTime = mt
	return keys, nil
}
