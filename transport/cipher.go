package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// cipherState holds one direction's negotiated symmetric cipher and
// MAC, plus the sequence number the packet codec increments after
// every packet it reads or writes in that direction (§4.1's sequence
// counter).
type cipherState struct {
	stream  cipher.Stream
	mac     hash.Hash
	macSize int
	// blockSize governs padding: per RFC 4253 §6 the padding length
	// is chosen so the unencrypted packet is a multiple of the
	// cipher's block size, with an 8-byte floor for stream ciphers.
	blockSize int
}

// noneCipherState is the identity cipher/MAC pair in effect before the
// first NEWKEYS exchange.
func noneCipherState() *cipherState {
	return &cipherState{stream: noopStream{}, macSize: 0, blockSize: 8}
}

type noopStream struct{}

func (noopStream) XORKeyStream(dst, src []byte) { copy(dst, src) }

// cipherAlgo names one supported encryption algorithm by its SSH wire
// name (RFC 4253 §6.3) along with the key/IV sizes needed to build a
// cipher.Stream for it.
type cipherAlgo struct {
	name         string
	keySize      int
	ivSize       int
	blockSize    int
	newStream    func(key, iv []byte) (cipher.Stream, error)
}

var supportedCiphers = []cipherAlgo{
	{
		name:      "aes128-ctr",
		keySize:   16,
		ivSize:    aes.BlockSize,
		blockSize: aes.BlockSize,
		newStream: newAESCTRStream,
	},
	{
		name:      "aes256-ctr",
		keySize:   32,
		ivSize:    aes.BlockSize,
		blockSize: aes.BlockSize,
		newStream: newAESCTRStream,
	},
}

func newAESCTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("transport: aes-ctr: %w", err)
	}
	return cipher.NewCTR(block, iv), nil
}

func findCipher(name string) (cipherAlgo, bool) {
	for _, c := range supportedCiphers {
		if c.name == name {
			return c, true
		}
	}
	return cipherAlgo{}, false
}

// macAlgo names one supported MAC algorithm (RFC 4253 §6.4).
type macAlgo struct {
	name    string
	keySize int
	size    int
	newHash func(key []byte) hash.Hash
}

var supportedMACs = []macAlgo{
	{
		name:    "hmac-sha2-256",
		keySize: 32,
		size:    sha256.Size,
		newHash: func(key []byte) hash.Hash { return hmac.New(sha256.New, key) },
	},
	{
		name:    "hmac-sha1",
		keySize: 20,
		size:    sha1.Size,
		newHash: func(key []byte) hash.Hash { return hmac.New(sha1.New, key) },
	},
}

func findMAC(name string) (macAlgo, bool) {
	for _, m := range supportedMACs {
		if m.name == name {
			return m, true
		}
	}
	return macAlgo{}, false
}

// supportedCipherNames and supportedMACNames back the KEXINIT lists
// this package advertises; see negotiate in kex.go.
func supportedCipherNames() []string {
	names := make([]string, len(supportedCiphers))
	for i, c := range supportedCiphers {
		names[i] = c.name
	}
	return names
}

func supportedMACNames() []string {
	names := make([]string, len(supportedMACs))
	for i, m := range supportedMACs {
		names[i] = m.name
	}
	return names
}

// newCipherState builds the cipher/MAC pair for one direction from the
// negotiated algorithm names and the derived key material.
func newCipherState(cipherName, macName string, key, iv, macKey []byte) (*cipherState, error) {
	ca, ok := findCipher(cipherName)
	if !ok {
		return nil, fmt.Errorf("transport: unsupported cipher %q", cipherName)
	}
	stream, err := ca.newStream(key[:ca.keySize], iv[:ca.ivSize])
	if err != nil {
		return nil, err
	}
	cs := &cipherState{stream: stream, blockSize: ca.blockSize}
	if macName != "" {
		ma, ok := findMAC(macName)
		if !ok {
			return nil, fmt.Errorf("transport: unsupported mac %q", macName)
		}
		cs.mac = ma.newHash(macKey[:ma.keySize])
		cs.macSize = ma.size
	}
	return cs, nil
}
