package transport

import (
	"crypto/sha256"
	"math/big"

	"github.com/sshcore/sshd/buffer"
)

// deriveKey implements RFC 4253 §7.2's key-derivation function: the
// letter identifies which of the six key streams (initial IV, then
// encryption key, then integrity key, one pair per direction) is
// being produced; longer material than one hash digest is extended by
// re-hashing with the material generated so far appended, per the
// RFC's "K1 = HASH(...); K2 = HASH(K || H || K1); ..." construction.
func deriveKey(k *big.Int, h, sessionID []byte, letter byte, size int) []byte {
	var out []byte
	for len(out) < size {
		hasher := sha256.New()
		mp := buffer.New()
		mp.WriteMPInt(k)
		hasher.Write(mp.Bytes())
		hasher.Write(h)
		if len(out) == 0 {
			hasher.Write([]byte{letter})
			hasher.Write(sessionID)
		} else {
			hasher.Write(out)
		}
		out = append(out, hasher.Sum(nil)...)
	}
	return out[:size]
}

// sessionKeys is the six streams derived after a completed key
// exchange, keyed by the RFC 4253 §7.2 letters used to produce them.
type sessionKeys struct {
	ivClientToServer  []byte
	ivServerToClient  []byte
	encClientToServer []byte
	encServerToClient []byte
	macClientToServer []byte
	macServerToClient []byte
}

// maxKeyMaterial is generously sized so any negotiated cipher/MAC
// pair this package supports can slice what it needs from it.
const maxKeyMaterial = 64

func deriveSessionKeys(k *big.Int, h, sessionID []byte) sessionKeys {
	return sessionKeys{
		ivClientToServer:  deriveKey(k, h, sessionID, 'A', maxKeyMaterial),
		ivServerToClient:  deriveKey(k, h, sessionID, 'B', maxKeyMaterial),
		encClientToServer: deriveKey(k, h, sessionID, 'C', maxKeyMaterial),
		encServerToClient: deriveKey(k, h, sessionID, 'D', maxKeyMaterial),
		macClientToServer: deriveKey(k, h, sessionID, 'E', maxKeyMaterial),
		macServerToClient: deriveKey(k, h, sessionID, 'F', maxKeyMaterial),
	}
}
