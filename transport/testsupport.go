package transport

import "net"

// NewInsecureTestTransport wraps conn in a Transport with the identity
// cipher and a caller-supplied session id, skipping the version-banner
// and key-exchange handshake entirely. It lets higher layers (auth,
// channel) exercise their own wire protocols against a real
// ReadPacket/WritePacket implementation in unit tests without an
// x/crypto/ssh client to drive the handshake side. Production code
// never calls this; only NewServerTransport performs a real handshake.
func NewInsecureTestTransport(conn net.Conn, sessionID []byte) *Transport {
	return &Transport{
		conn:      conn,
		codec:     newCodec(conn),
		sessionID: sessionID,
	}
}
