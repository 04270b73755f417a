package sftp

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sshcore/sshd/buffer"
)

// Config configures one SFTP subsystem instance (§4.6, §6's
// sftp-* configuration keys).
type Config struct {
	Logger *slog.Logger

	// RootDir, when set, jails every path this instance resolves to
	// beneath it (a chroot emulated in userspace, since Go has no
	// portable unprivileged chroot). Empty means paths are used as
	// given, relative to the process's current directory.
	RootDir string

	// MinVersion/MaxVersion bound version negotiation (§4.6: "the
	// server chooses min(client, configured_max)"). Zero values
	// default to 3 and 6.
	MinVersion, MaxVersion int
	// ForceVersion, if non-zero, replaces the negotiated version at
	// INIT and is the version reported in the VERSION response,
	// overriding ordinary negotiation.
	ForceVersion int

	// MaxPacketLength caps the data returned by a single READ.
	// Zero defaults to DefaultMaxPacketLength. WRITE payloads are not
	// checked against it, and READDIR batches are a fixed 128 entries
	// regardless of it.
	MaxPacketLength int

	// HandleSize is the byte length of generated handle ids (4-64,
	// default 16). HandleRandMaxRounds bounds collision retries.
	HandleSize          int
	HandleRandMaxRounds int
	// MaxOpenHandlesPerSession caps concurrently open handles; 0 means
	// unlimited.
	MaxOpenHandlesPerSession int

	// ClientExtensions are appended verbatim to the VERSION response's
	// extension list, letting an embedder advertise extensions this
	// package does not itself implement.
	ClientExtensions [][2]string

	// UnsupportedAttributePolicy governs STAT/SETSTAT attribute gaps.
	UnsupportedAttributePolicy UnsupportedAttributePolicy
}

func (c Config) minVersion() int {
	if c.MinVersion == 0 {
		return 3
	}
	return c.MinVersion
}

func (c Config) maxVersion() int {
	if c.MaxVersion == 0 {
		return 6
	}
	return c.MaxVersion
}

func (c Config) maxPacketLength() int {
	if c.MaxPacketLength == 0 {
		return DefaultMaxPacketLength
	}
	return c.MaxPacketLength
}

// Server is one running SFTP subsystem worker: a dedicated goroutine
// reading length-prefixed packets from In and dispatching by opcode
// (§4.6, §5: "SFTP, which uses a dedicated worker per subsystem
// instance").
type Server struct {
	cfg Config
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex // serializes response packets, mirroring the transport's single writer mutex (§5)

	version           int
	versionSelected   bool // true once the first request has been seen, gating version-select
	versionOverridden bool

	handles *handleTable
}

// NewServer constructs an SFTP subsystem worker reading requests from
// in and writing responses to out (typically the two directions of a
// session channel's "sftp" subsystem).
func NewServer(in io.Reader, out io.Writer, cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		in:      in,
		out:     out,
		handles: newHandleTable(cfg.HandleSize, cfg.HandleRandMaxRounds, cfg.MaxOpenHandlesPerSession),
	}
}

func (s *Server) debugf(f string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

// Serve runs the read-dispatch-respond loop until the input stream is
// exhausted, a fatal framing error occurs, or a request cannot be
// handled (a malformed request, a failed response write, or a failed
// or late version-select); the last case returns the dispatch error so
// the caller tears the session down. It always releases every handle
// still open when it returns.
func (s *Server) Serve() error {
	defer s.handles.closeAll()

	for {
		payload, err := readPacket(s.in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("sftp: reading packet: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := s.dispatch(payload); err != nil {
			s.debugf("dispatch error: %s", err)
			return fmt.Errorf("sftp: %w", err)
		}
	}
}

// readPacket reads one uint32-length-prefixed SFTP packet.
func readPacket(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writePacket frames and writes one response packet, serialized
// against concurrent responses (e.g. an EXTENDED reply racing a
// READDIR batch issued from the same dispatch goroutine never
// actually races, but future concurrent-request support would).
func (s *Server) writePacket(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := s.out.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := s.out.Write(payload)
	return err
}

func (s *Server) sendStatus(id uint32, err error) error {
	code, message := statusFor(err)
	b := buffer.New()
	b.WriteByte(OpStatus)
	b.WriteUint32(id)
	b.WriteUint32(code)
	b.WriteString(message)
	b.WriteString("en")
	return s.writePacket(b.Bytes())
}

func (s *Server) sendHandle(id uint32, handle string) error {
	b := buffer.New()
	b.WriteByte(OpHandle)
	b.WriteUint32(id)
	b.WriteString(handle)
	return s.writePacket(b.Bytes())
}

func (s *Server) sendData(id uint32, data []byte) error {
	b := buffer.New()
	b.WriteByte(OpData)
	b.WriteUint32(id)
	b.WriteBytes(data)
	return s.writePacket(b.Bytes())
}

func (s *Server) sendAttrs(id uint32, a Attr) error {
	b := buffer.New()
	b.WriteByte(OpAttrs)
	b.WriteUint32(id)
	a.Encode(b, s.version)
	return s.writePacket(b.Bytes())
}

type nameEntry struct {
	filename string
	longname string
	attrs    Attr
}

func (s *Server) sendNames(id uint32, entries []nameEntry, eol bool) error {
	b := buffer.New()
	b.WriteByte(OpName)
	b.WriteUint32(id)
	b.WriteUint32(uint32(len(entries)))
	for _, e := range entries {
		b.WriteString(e.filename)
		if s.version <= 3 {
			b.WriteString(e.longname)
		}
		e.attrs.Encode(b, s.version)
	}
	if s.version >= 6 {
		b.WriteBool(eol)
	}
	return s.writePacket(b.Bytes())
}

// dispatch decodes the opcode common to every request (a byte, then a
// uint32 request id for everything but INIT) and routes to the
// per-opcode handler.
func (s *Server) dispatch(payload []byte) error {
	b := buffer.NewReader(payload)
	op, err := b.ReadByte()
	if err != nil {
		return err
	}

	if op == OpInit {
		return s.handleInit(b)
	}

	id, err := b.ReadUint32()
	if err != nil {
		return err
	}

	// version-select must be the first request received after INIT,
	// or the connection is protocol-error territory (§4.6): once any
	// other opcode has been dispatched, reject a late version-select.
	isVersionSelect := op == OpExtended && peekExtendedName(b) == ExtVersionSelect
	if isVersionSelect && s.versionSelected {
		return fmt.Errorf("sftp: version-select must be the first request")
	}
	s.versionSelected = true

	switch op {
	case OpOpen:
		return s.handleOpen(id, b)
	case OpOpendir:
		return s.handleOpendir(id, b)
	case OpClose:
		return s.handleClose(id, b)
	case OpRead:
		return s.handleRead(id, b)
	case OpWrite:
		return s.handleWrite(id, b)
	case OpLstat:
		return s.handleLstat(id, b)
	case OpStat:
		return s.handleStat(id, b)
	case OpFstat:
		return s.handleFstat(id, b)
	case OpSetstat:
		return s.handleSetstat(id, b)
	case OpFsetstat:
		return s.handleFsetstat(id, b)
	case OpReaddir:
		return s.handleReaddir(id, b)
	case OpRemove:
		return s.handleRemove(id, b)
	case OpRmdir:
		return s.handleRmdir(id, b)
	case OpMkdir:
		return s.handleMkdir(id, b)
	case OpRename:
		return s.handleRename(id, b)
	case OpReadlink:
		return s.handleReadlink(id, b)
	case OpSymlink:
		return s.handleSymlink(id, b)
	case OpLink:
		return s.handleLink(id, b)
	case OpRealpath:
		return s.handleRealpath(id, b)
	case OpBlock:
		return s.handleBlock(id, b)
	case OpUnblock:
		return s.handleUnblock(id, b)
	case OpExtended:
		return s.handleExtended(id, b)
	default:
		return s.sendStatus(id, fmt.Errorf("sftp: %w: opcode %d", ErrUnsupportedAttribute, op))
	}
}

func peekExtendedName(b *buffer.Buffer) string {
	saved := b.Remaining()
	name, err := b.ReadString()
	// restore: rebuild a reader over the saved bytes so the real
	// handler still sees the full extended-request payload.
	*b = *buffer.NewReader(saved)
	if err != nil {
		return ""
	}
	return name
}

func (s *Server) handleInit(b *buffer.Buffer) error {
	clientVersion, err := b.ReadUint32()
	if err != nil {
		return err
	}
	v := int(clientVersion)
	if v > s.cfg.maxVersion() {
		v = s.cfg.maxVersion()
	}
	if v < s.cfg.minVersion() {
		v = s.cfg.minVersion()
	}
	if s.cfg.ForceVersion != 0 {
		v = s.cfg.ForceVersion
		s.versionOverridden = true
	}
	s.version = v

	resp := buffer.New()
	resp.WriteByte(OpVersion)
	resp.WriteUint32(uint32(s.version))
	for _, ext := range AdvertisedExtensions(s.cfg.minVersion(), s.cfg.maxVersion()) {
		resp.WriteString(ext[0])
		resp.WriteString(ext[1])
	}
	for _, ext := range s.cfg.ClientExtensions {
		resp.WriteString(ext[0])
		resp.WriteString(ext[1])
	}
	return s.writePacket(resp.Bytes())
}
