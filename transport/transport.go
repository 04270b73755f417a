package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultBanner is the identification string this package sends when
// Config.Banner is empty. RFC 4253 §4.2 requires the "SSH-2.0-"
// prefix; everything after it is a free-form comment field.
const DefaultBanner = "SSH-2.0-sshcore"

// Config configures a server-side Transport's handshake and rekey
// behavior (§4.2, §6).
type Config struct {
	// Banner is the identification string sent to the client, without
	// the trailing CRLF. Empty means DefaultBanner.
	Banner string

	// RekeyBytesLimit triggers a rekey once this many bytes have
	// crossed the connection (either direction) since the last one.
	// Zero disables the byte-count trigger.
	RekeyBytesLimit uint64
	// RekeyTimeLimit triggers a rekey once this long has elapsed
	// since the last one. Zero disables the time trigger.
	RekeyTimeLimit time.Duration
}

// Transport is the server side of one SSH connection's Transport
// Layer Protocol state machine (§4.2): BANNER, KEX, NEWKEYS and the
// ordinary packet-relay state entered once the first key exchange
// completes, with rekeys triggered transparently thereafter. Nothing
// above this layer (auth, the channel multiplexer) ever sees a
// transport-layer message; ReadPacket only ever returns Connection- or
// UserAuth-layer payloads.
type Transport struct {
	conn net.Conn
	br   *bufio.Reader
	codec *codec

	clientVersion []byte
	serverVersion []byte

	hostKeys []ssh.Signer
	cfg      Config

	sessionID []byte
	algos     negotiatedAlgorithms

	writeMu sync.Mutex

	bytesSinceRekey uint64
	lastRekey       time.Time

	pending [][]byte
}

// bufReaderWriter adapts a bufio.Reader for reads and the raw net.Conn
// for writes so the codec can consume banner-exchange leftovers
// without a second buffering layer on the write side.
type bufReaderWriter struct {
	r *bufio.Reader
	w net.Conn
}

func (b *bufReaderWriter) Read(p []byte) (int, error)  { return b.r.Read(p) }
func (b *bufReaderWriter) Write(p []byte) (int, error) { return b.w.Write(p) }

// NewServerTransport performs the version-banner exchange and the
// first key exchange on conn, returning a Transport ready to relay
// UserAuth- and Connection-layer packets. hostKeys must contain at
// least one signer; the host-key algorithm is the client's most
// preferred one among those the signers offer, and the first signer
// of that algorithm is used.
func NewServerTransport(conn net.Conn, hostKeys []ssh.Signer, cfg Config) (*Transport, error) {
	if len(hostKeys) == 0 {
		return nil, fmt.Errorf("transport: no host keys configured")
	}
	t := &Transport{
		conn:     conn,
		br:       bufio.NewReader(conn),
		hostKeys: hostKeys,
		cfg:      cfg,
	}
	t.codec = newCodec(&bufReaderWriter{r: t.br, w: conn})

	if err := t.exchangeVersions(); err != nil {
		return nil, err
	}
	if err := t.kex(); err != nil {
		return nil, err
	}
	t.lastRekey = time.Now()
	return t, nil
}

// exchangeVersions implements RFC 4253 §4.2: send our identification
// line, then read lines from the peer until one begins with "SSH-"
// (earlier lines, if any, are ignored banner text).
func (t *Transport) exchangeVersions() error {
	banner := t.cfg.Banner
	if banner == "" {
		banner = DefaultBanner
	}
	t.serverVersion = []byte(banner)
	if _, err := t.conn.Write(append([]byte(banner), '\r', '\n')); err != nil {
		return fmt.Errorf("transport: writing version banner: %w", err)
	}

	for {
		line, err := t.br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("transport: reading version banner: %w", err)
		}
		line = trimCRLF(line)
		if len(line) >= 4 && line[:4] == "SSH-" {
			t.clientVersion = []byte(line)
			return nil
		}
		if len(line) > 1024 {
			return fmt.Errorf("transport: pre-banner text too long")
		}
	}
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// buildKexInit constructs the KEXINIT we offer. Compression is
// intentionally fixed to "none": the spec's scope does not extend to
// implementing zlib packet compression.
func (t *Transport) buildKexInit() (*kexInitMsg, error) {
	cookie, err := newCookie()
	if err != nil {
		return nil, err
	}
	hostKeyAlgos := make([]string, 0, len(t.hostKeys))
	seen := map[string]bool{}
	for _, k := range t.hostKeys {
		alg := k.PublicKey().Type()
		if !seen[alg] {
			seen[alg] = true
			hostKeyAlgos = append(hostKeyAlgos, alg)
		}
	}
	return &kexInitMsg{
		cookie:                  cookie,
		kexAlgorithms:           supportedKexNames(),
		serverHostKeyAlgorithms: hostKeyAlgos,
		ciphersClientToServer:   supportedCipherNames(),
		ciphersServerToClient:   supportedCipherNames(),
		macsClientToServer:      supportedMACNames(),
		macsServerToClient:      supportedMACNames(),
		compressClientToServer:  []string{"none"},
		compressServerToClient:  []string{"none"},
	}, nil
}

// kex performs one full key exchange: KEXINIT exchange, algorithm
// negotiation, the curve25519-sha256 exchange itself, key derivation,
// and the NEWKEYS handshake that activates the new keys. On the very
// first call the resulting exchange hash becomes the connection's
// permanent session id (RFC 4253 §7.2); later calls (rekeys) reuse it.
func (t *Transport) kex() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	serverInit, err := t.buildKexInit()
	if err != nil {
		return err
	}
	serverInitPayload := serverInit.marshal()
	if _, err := t.codec.writePacket(serverInitPayload); err != nil {
		return fmt.Errorf("transport: writing KEXINIT: %w", err)
	}

	clientInitPayload, err := t.readTransportPacket()
	if err != nil {
		return err
	}
	clientInit, err := parseKexInit(clientInitPayload)
	if err != nil {
		return err
	}

	algos, err := negotiateAll(serverInit, clientInit)
	if err != nil {
		_, _ = t.codec.writePacket(disconnectPayload(DisconnectKeyExchangeFailed, err.Error()))
		return err
	}
	t.algos = algos

	hostKey, err := t.hostKeyFor(algos.hostKey)
	if err != nil {
		return err
	}

	var result *serverKexResult
	switch algos.kex {
	case curve25519SHA256, curve25519SHA256Alt:
		result, err = t.runServerECDH(hostKey, clientInitPayload, serverInitPayload)
	default:
		err = fmt.Errorf("transport: negotiated unsupported kex algorithm %q", algos.kex)
	}
	if err != nil {
		return err
	}

	if t.sessionID == nil {
		t.sessionID = result.h
	}
	keys := deriveSessionKeys(result.k, result.h, t.sessionID)

	readCipher, err := newCipherState(algos.cipherClientToServer, algos.macClientToServer, keys.encClientToServer, keys.ivClientToServer, keys.macClientToServer)
	if err != nil {
		return err
	}
	writeCipher, err := newCipherState(algos.cipherServerToClient, algos.macServerToClient, keys.encServerToClient, keys.ivServerToClient, keys.macServerToClient)
	if err != nil {
		return err
	}

	if _, err := t.codec.writePacket([]byte{msgNewKeys}); err != nil {
		return fmt.Errorf("transport: writing NEWKEYS: %w", err)
	}
	t.codec.setWriteCipher(writeCipher)

	newKeysPayload, err := t.readTransportPacket()
	if err != nil {
		return err
	}
	if len(newKeysPayload) == 0 || newKeysPayload[0] != msgNewKeys {
		return fmt.Errorf("transport: expected NEWKEYS, got message %d", firstByte(newKeysPayload))
	}
	t.codec.setReadCipher(readCipher)

	t.bytesSinceRekey = 0
	t.lastRekey = time.Now()
	return nil
}

func (t *Transport) hostKeyFor(algo string) (ssh.Signer, error) {
	for _, k := range t.hostKeys {
		if k.PublicKey().Type() == algo {
			return k, nil
		}
	}
	return nil, fmt.Errorf("transport: no host key for negotiated algorithm %q", algo)
}

// readTransportPacket reads one packet during the KEX phase, skipping
// IGNORE/DEBUG as RFC 4253 §11.2/§11.3 requires and failing on
// anything but the message the caller is waiting for being handled by
// its own type check.
func (t *Transport) readTransportPacket() ([]byte, error) {
	for {
		p, err := t.codec.readPacket()
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			continue
		}
		switch p[0] {
		case msgIgnore, msgDebug:
			continue
		case msgDisconnect:
			return nil, fmt.Errorf("transport: peer disconnected during handshake")
		default:
			return p, nil
		}
	}
}

func disconnectPayload(reason uint32, msg string) []byte {
	b := make([]byte, 0, 16+len(msg))
	b = append(b, msgDisconnect)
	var rb [4]byte
	putUint32(rb[:], reason)
	b = append(b, rb[:]...)
	b = append(b, encodeString(msg)...)
	b = append(b, encodeString("")...)
	return b
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func encodeString(s string) []byte {
	b := make([]byte, 4+len(s))
	putUint32(b, uint32(len(s)))
	copy(b[4:], s)
	return b
}

// ReadPacket returns the next Connection- or UserAuth-layer payload,
// transparently performing a peer-initiated rekey (a KEXINIT arriving
// out of band) before returning. Only one goroutine may call
// ReadPacket at a time.
func (t *Transport) ReadPacket() ([]byte, error) {
	if len(t.pending) > 0 {
		p := t.pending[0]
		t.pending = t.pending[1:]
		return p, nil
	}
	for {
		p, err := t.codec.readPacket()
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			continue
		}
		switch p[0] {
		case msgIgnore, msgDebug:
			continue
		case msgDisconnect:
			return nil, fmt.Errorf("transport: peer disconnected")
		case msgKexInit:
			if err := t.respondToRekey(p); err != nil {
				return nil, err
			}
			continue
		default:
			t.bytesSinceRekey += uint64(len(p))
			t.maybeInitiateRekey()
			return p, nil
		}
	}
}

// WritePacket writes one Connection- or UserAuth-layer payload,
// serializing concurrent writers from independent channel goroutines.
func (t *Transport) WritePacket(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.codec.writePacket(payload)
	if err != nil {
		return err
	}
	t.bytesSinceRekey += uint64(n)
	return nil
}

// maybeInitiateRekey checks the byte-count and elapsed-time triggers
// (§4.2, §6's rekey-bytes-limit/rekey-time-limit) and, if either has
// fired, drives a fresh key exchange as the initiating side.
func (t *Transport) maybeInitiateRekey() {
	due := (t.cfg.RekeyBytesLimit > 0 && t.bytesSinceRekey >= t.cfg.RekeyBytesLimit) ||
		(t.cfg.RekeyTimeLimit > 0 && time.Since(t.lastRekey) >= t.cfg.RekeyTimeLimit)
	if !due {
		return
	}
	if err := t.kex(); err != nil {
		// A failed proactive rekey tears down the connection on the
		// next read/write; there's no way to signal it from here
		// without changing ReadPacket's synchronous contract.
		_ = t.conn.Close()
	}
}

// respondToRekey handles a KEXINIT the peer sent unprompted (its own
// rekey trigger firing, or simply initiating first): reply with our
// own KEXINIT and run the exchange as the responder. Any Connection-
// or UserAuth-layer packets that arrive interleaved before the peer's
// half of the exchange are queued and drained by ReadPacket once the
// rekey completes, since RFC 4253 §9 only forbids sending them, not
// receiving them, before both sides have exchanged NEWKEYS.
func (t *Transport) respondToRekey(peerInitPayload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	peerInit, err := parseKexInit(peerInitPayload)
	if err != nil {
		return err
	}
	serverInit, err := t.buildKexInit()
	if err != nil {
		return err
	}
	serverInitPayload := serverInit.marshal()
	if _, err := t.codec.writePacket(serverInitPayload); err != nil {
		return err
	}

	algos, err := negotiateAll(serverInit, peerInit)
	if err != nil {
		return err
	}
	t.algos = algos
	hostKey, err := t.hostKeyFor(algos.hostKey)
	if err != nil {
		return err
	}

	var result *serverKexResult
	switch algos.kex {
	case curve25519SHA256, curve25519SHA256Alt:
		result, err = t.runServerECDH(hostKey, peerInitPayload, serverInitPayload)
	default:
		err = fmt.Errorf("transport: negotiated unsupported kex algorithm %q", algos.kex)
	}
	if err != nil {
		return err
	}
	keys := deriveSessionKeys(result.k, result.h, t.sessionID)

	readCipher, err := newCipherState(algos.cipherClientToServer, algos.macClientToServer, keys.encClientToServer, keys.ivClientToServer, keys.macClientToServer)
	if err != nil {
		return err
	}
	writeCipher, err := newCipherState(algos.cipherServerToClient, algos.macServerToClient, keys.encServerToClient, keys.ivServerToClient, keys.macServerToClient)
	if err != nil {
		return err
	}

	if _, err := t.codec.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	t.codec.setWriteCipher(writeCipher)

	for {
		p, err := t.codec.readPacket()
		if err != nil {
			return err
		}
		if len(p) == 0 {
			continue
		}
		if p[0] == msgNewKeys {
			break
		}
		t.pending = append(t.pending, p)
	}
	t.codec.setReadCipher(readCipher)

	t.bytesSinceRekey = 0
	t.lastRekey = time.Now()
	return nil
}

// Close closes the underlying connection.
func (t *Transport) Close() error { return t.conn.Close() }

// SessionID returns the first exchange hash H, immutable for the
// connection's lifetime (§3.1).
func (t *Transport) SessionID() []byte { return t.sessionID }

// ClientVersion returns the peer's identification string.
func (t *Transport) ClientVersion() []byte { return t.clientVersion }

// ServerVersion returns our own identification string.
func (t *Transport) ServerVersion() []byte { return t.serverVersion }

// RemoteAddr returns the peer's network address.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// LocalAddr returns our network address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// NegotiatedKex returns the negotiated key-exchange algorithm name.
func (t *Transport) NegotiatedKex() string { return t.algos.kex }
