// Package buffer implements the byte-oriented reader/writer used to encode
// and decode the SSH typed wire primitives defined in RFC 4251 section 5:
// byte, boolean, uint32, uint64, string, mpint, name-list, and raw public
// keys. It backs the SFTP subsystem's packet codec and any other component
// that needs to build or parse a length-prefixed binary payload.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// ErrShortBuffer is returned by Read* methods when the buffer does not hold
// enough bytes to satisfy the request.
var ErrShortBuffer = errors.New("buffer: short buffer")

// Buffer is a growable byte buffer with cursor-based reads and append-based
// writes, matching the semantics of a mutable wire packet under
// construction (writer side) or being consumed (reader side). The zero
// value is an empty, ready to use write buffer.
type Buffer struct {
	buf []byte
	off int
}

// New returns a Buffer ready for writing.
func New() *Buffer {
	return &Buffer{}
}

// NewReader returns a Buffer positioned at offset 0 over b for reading.
// The slice is used directly, not copied.
func NewReader(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the buffer's full backing slice, ignoring the read cursor.
func (b *Buffer) Bytes() []byte { return b.buf }

// Remaining returns the slice of unread bytes.
func (b *Buffer) Remaining() []byte {
	if b.off >= len(b.buf) {
		return nil
	}
	return b.buf[b.off:]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.off }

// Reset discards all content and rewinds the cursor.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

func (b *Buffer) need(n int) error {
	if b.Len() < n {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, b.Len())
	}
	return nil
}

// --- writers ---

// WriteByte appends a single byte. It satisfies io.ByteWriter.
func (b *Buffer) WriteByte(v byte) error {
	b.buf = append(b.buf, v)
	return nil
}

// Write appends raw bytes verbatim. It satisfies io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteBool appends a boolean as a single 0/1 byte.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.buf = append(b.buf, v)
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

// WriteUint64 appends a big-endian uint64.
func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

// WriteString appends a length-prefixed byte string.
func (b *Buffer) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteBytes appends a length-prefixed byte slice.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteUint32(uint32(len(p)))
	b.buf = append(b.buf, p...)
}

// WriteNameList appends a comma-separated name-list, RFC 4251 section 5.
func (b *Buffer) WriteNameList(names []string) {
	total := 0
	for i, n := range names {
		if i > 0 {
			total++
		}
		total += len(n)
	}
	b.WriteUint32(uint32(total))
	for i, n := range names {
		if i > 0 {
			b.buf = append(b.buf, ',')
		}
		b.buf = append(b.buf, n...)
	}
}

// WriteMPInt appends a two's-complement, minimally encoded multiple
// precision integer per RFC 4251 section 5.
func (b *Buffer) WriteMPInt(n *big.Int) {
	if n.Sign() == 0 {
		b.WriteUint32(0)
		return
	}
	var bs []byte
	if n.Sign() < 0 {
		// two's complement encoding of a negative value: ^n (== -n-1)
		// must fit in the bits below the sign bit.
		length := new(big.Int).Not(n).BitLen()/8 + 1
		bs = make([]byte, length)
		twos := new(big.Int).Add(n, new(big.Int).Lsh(big.NewInt(1), uint(length*8)))
		twos.FillBytes(bs)
	} else {
		bs = n.Bytes()
		if len(bs) > 0 && bs[0]&0x80 != 0 {
			bs = append([]byte{0}, bs...)
		}
	}
	b.WriteBytes(bs)
}

// WriteRawPublicKey appends a public key blob as an opaque length-prefixed
// string; callers are responsible for producing the correctly formatted
// blob (e.g. via ssh.PublicKey.Marshal).
func (b *Buffer) WriteRawPublicKey(blob []byte) {
	b.WriteBytes(blob)
}

// --- readers ---

// ReadByte consumes and returns a single byte. It satisfies io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.buf[b.off]
	b.off++
	return v, nil
}

// ReadBool consumes a boolean byte.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadUint8 consumes a single byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	return b.ReadByte()
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.buf[b.off:])
	b.off += 4
	return v, nil
}

// ReadUint64 consumes a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.buf[b.off:])
	b.off += 8
	return v, nil
}

// ReadBytes consumes a length-prefixed byte slice. The returned slice
// aliases the underlying buffer and must be copied by the caller if it
// outlives further reads.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := b.need(int(n)); err != nil {
		return nil, err
	}
	v := b.buf[b.off : b.off+int(n)]
	b.off += int(n)
	return v, nil
}

// ReadString consumes a length-prefixed byte string.
func (b *Buffer) ReadString() (string, error) {
	v, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// ReadNameList consumes a comma-separated name-list.
func (b *Buffer) ReadNameList() ([]string, error) {
	s, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	var names []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			names = append(names, s[start:i])
			start = i + 1
		}
	}
	return names, nil
}

// ReadMPInt consumes a two's-complement, minimally encoded multiple
// precision integer.
func (b *Buffer) ReadMPInt() (*big.Int, error) {
	v, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	n := new(big.Int)
	if len(v) == 0 {
		return n, nil
	}
	if v[0]&0x80 != 0 {
		// negative: undo two's complement
		twos := new(big.Int).SetBytes(v)
		n.Sub(twos, new(big.Int).Lsh(big.NewInt(1), uint(len(v)*8)))
		return n, nil
	}
	n.SetBytes(v)
	return n, nil
}

// ReadRawPublicKey consumes an opaque length-prefixed public key blob.
func (b *Buffer) ReadRawPublicKey() ([]byte, error) {
	return b.ReadBytes()
}
