package transport

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/sshcore/sshd/buffer"
	"golang.org/x/crypto/ssh"
)

// curve25519SHA256 is the only key exchange method this package
// implements: elliptic-curve Diffie-Hellman over Curve25519 with
// SHA-256 as the exchange-hash function (RFC 8731). It is offered
// under both its IETF name and the older libssh.org alias, since
// that is what OpenSSH and most clients still send first.
const (
	curve25519SHA256    = "curve25519-sha256"
	curve25519SHA256Alt = "curve25519-sha256@libssh.org"
)

func supportedKexNames() []string {
	return []string{curve25519SHA256, curve25519SHA256Alt}
}

// serverKexResult carries the outputs of a completed key exchange:
// the shared secret K and the exchange hash H. The session id (H from
// the first exchange, held fixed across every subsequent rekey,
// RFC 4253 §7.2) is not part of this result.
type serverKexResult struct {
	k *big.Int
	h []byte
}

// runServerECDH performs the server side of a curve25519-sha256
// exchange: read the client's ephemeral public key, generate our own,
// derive the shared secret, compute and sign the exchange hash, and
// reply. clientVersion/serverVersion are the identification strings
// without the trailing CRLF; clientKexInit/serverKexInitPayload are
// the two KEXINIT packets exactly as they went over the wire
// (including the leading message-number byte), all inputs to the
// exchange hash per RFC 4253 §8.
func (t *Transport) runServerECDH(hostKey ssh.Signer, clientKexInitPayload, serverKexInitPayload []byte) (*serverKexResult, error) {
	payload, err := t.codec.readPacket()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 || payload[0] != msgKexECDHInit {
		return nil, fmt.Errorf("transport: expected KEX_ECDH_INIT, got message %d", firstByte(payload))
	}
	r := buffer.NewReader(payload[1:])
	clientPubBytes, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("transport: parsing KEX_ECDH_INIT: %w", err)
	}

	curve := ecdh.X25519()
	clientPub, err := curve.NewPublicKey(clientPubBytes)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid client ecdh public key: %w", err)
	}
	serverPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generating ephemeral key: %w", err)
	}
	shared, err := serverPriv.ECDH(clientPub)
	if err != nil {
		return nil, fmt.Errorf("transport: ecdh: %w", err)
	}
	k := new(big.Int).SetBytes(shared)

	hostKeyBlob := hostKey.PublicKey().Marshal()
	serverPubBytes := serverPriv.PublicKey().Bytes()

	h := exchangeHashCurve25519(
		t.clientVersion, t.serverVersion,
		clientKexInitPayload, serverKexInitPayload,
		hostKeyBlob, clientPubBytes, serverPubBytes, k,
	)

	sig, err := hostKey.Sign(rand.Reader, h)
	if err != nil {
		return nil, fmt.Errorf("transport: signing exchange hash: %w", err)
	}

	w := buffer.New()
	_ = w.WriteByte(msgKexECDHReply)
	w.WriteBytes(hostKeyBlob)
	w.WriteBytes(serverPubBytes)
	w.WriteBytes(marshalSignature(sig))
	if _, err := t.codec.writePacket(w.Bytes()); err != nil {
		return nil, fmt.Errorf("transport: writing KEX_ECDH_REPLY: %w", err)
	}

	return &serverKexResult{k: k, h: h}, nil
}

// exchangeHashCurve25519 computes H = SHA256(V_C || V_S || I_C || I_S
// || K_S || Q_C || Q_S || K), RFC 4253 §8 specialized to RFC 5656's
// ECDH key exchange (Q_C/Q_S in place of e/f).
func exchangeHashCurve25519(clientVersion, serverVersion, clientKexInit, serverKexInit, hostKeyBlob, qc, qs []byte, k *big.Int) []byte {
	b := buffer.New()
	b.WriteBytes(clientVersion)
	b.WriteBytes(serverVersion)
	b.WriteBytes(clientKexInit)
	b.WriteBytes(serverKexInit)
	b.WriteBytes(hostKeyBlob)
	b.WriteBytes(qc)
	b.WriteBytes(qs)
	b.WriteMPInt(k)
	sum := sha256.Sum256(b.Bytes())
	return sum[:]
}

// marshalSignature encodes an *ssh.Signature as the RFC 4253 §6.6
// "signature" field content: a name-and-blob pair, itself wrapped as
// a length-prefixed string by the caller (WriteBytes above).
func marshalSignature(sig *ssh.Signature) []byte {
	b := buffer.New()
	b.WriteString(sig.Format)
	b.WriteBytes(sig.Blob)
	return b.Bytes()
}

// ParseSignature is marshalSignature's inverse, exported for the auth
// package to verify a client's publickey userauth proof against the
// signed userauth request blob.
func ParseSignature(blob []byte) (*ssh.Signature, error) {
	r := buffer.NewReader(blob)
	format, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	sigBlob, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	return &ssh.Signature{Format: format, Blob: sigBlob}, nil
}
