package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// maxPacketLength is the largest packet_length (RFC 4253 §6.1) this
// codec will read or write, independent of any per-channel
// SSH_MSG_CHANNEL_DATA sizing the Connection protocol layers on top.
// RFC 4253 recommends 35000 bytes; this codec budgets headroom for
// the largest SFTP-over-channel payloads this daemon forwards and
// caps at 256 KiB.
const maxPacketLength = 256 * 1024

// minPadding is the minimum SSH_MSG padding length, RFC 4253 §6.
const minPadding = 4

// codec reads and writes the binary packet protocol framing for one
// direction-independent net.Conn: length-prefixed, padded, optionally
// enciphered and MAC'd packets, with the sequence counter each
// direction's MAC is keyed to.
type codec struct {
	conn io.ReadWriter

	readSeq, writeSeq uint32
	read, write       *cipherState

	readBuf []byte
}

func newCodec(conn io.ReadWriter) *codec {
	return &codec{conn: conn, read: noneCipherState(), write: noneCipherState()}
}

// setReadCipher and setWriteCipher install the cipher/MAC pair
// negotiated by a completed key exchange; per RFC 4253 §7.3 this takes
// effect for the very next packet read/written in that direction,
// which is exactly the call sequence kex.go uses around NEWKEYS.
func (c *codec) setReadCipher(cs *cipherState)  { c.read = cs }
func (c *codec) setWriteCipher(cs *cipherState) { c.write = cs }

// writePacket frames, pads, MACs and (once keyed) encrypts payload,
// then writes it to the connection, incrementing the write sequence
// number. payload must begin with the SSH message number byte.
func (c *codec) writePacket(payload []byte) (int, error) {
	if len(payload) > maxPacketLength {
		return 0, fmt.Errorf("transport: outgoing packet of %d bytes exceeds %d byte limit", len(payload), maxPacketLength)
	}
	bs := c.write.blockSize
	if bs < 8 {
		bs = 8
	}

	padding := bs - (5+len(payload))%bs
	if padding < minPadding {
		padding += bs
	}

	packetLength := 1 + len(payload) + padding
	buf := make([]byte, 4+packetLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetLength))
	buf[4] = byte(padding)
	copy(buf[5:], payload)
	if _, err := rand.Read(buf[5+len(payload):]); err != nil {
		return 0, fmt.Errorf("transport: padding: %w", err)
	}

	var macSum []byte
	if c.write.mac != nil {
		c.write.mac.Reset()
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], c.writeSeq)
		c.write.mac.Write(seqBuf[:])
		c.write.mac.Write(buf)
		macSum = c.write.mac.Sum(nil)
	}

	c.write.stream.XORKeyStream(buf, buf)
	if macSum != nil {
		buf = append(buf, macSum...)
	}
	c.writeSeq++

	n, err := c.conn.Write(buf)
	return n, err
}

// readPacket reads, decrypts, verifies and unpads the next packet,
// returning its payload (the message number byte onward) and
// incrementing the read sequence number.
func (c *codec) readPacket() ([]byte, error) {
	bs := c.read.blockSize
	if bs < 8 {
		bs = 8
	}

	first := make([]byte, bs)
	if _, err := io.ReadFull(c.conn, first); err != nil {
		return nil, err
	}
	c.read.stream.XORKeyStream(first, first)

	packetLength := binary.BigEndian.Uint32(first[:4])
	if packetLength == 0 || packetLength > maxPacketLength {
		return nil, fmt.Errorf("transport: invalid packet_length %d", packetLength)
	}

	rest := make([]byte, int(packetLength)-(bs-4))
	if len(rest) > 0 {
		if _, err := io.ReadFull(c.conn, rest); err != nil {
			return nil, err
		}
		c.read.stream.XORKeyStream(rest, rest)
	}

	var mac []byte
	if c.read.macSize > 0 {
		mac = make([]byte, c.read.macSize)
		if _, err := io.ReadFull(c.conn, mac); err != nil {
			return nil, err
		}
	}

	plain := append(first, rest...)
	if c.read.mac != nil {
		c.read.mac.Reset()
		var seqBuf [4]byte
		binary.BigEndian.PutUint32(seqBuf[:], c.readSeq)
		c.read.mac.Write(seqBuf[:])
		c.read.mac.Write(plain)
		want := c.read.mac.Sum(nil)
		if !hmacEqual(want, mac) {
			return nil, fmt.Errorf("transport: MAC mismatch")
		}
	}
	c.readSeq++

	paddingLength := int(plain[4])
	if paddingLength < minPadding || paddingLength > int(packetLength)-1 {
		return nil, fmt.Errorf("transport: invalid padding_length %d", paddingLength)
	}
	payload := plain[5 : 5+int(packetLength)-1-paddingLength]
	return payload, nil
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
