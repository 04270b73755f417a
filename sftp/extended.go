package sftp

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sshcore/sshd/buffer"
)

// handleExtended dispatches OpExtended requests by extension name
// (§4.6). version-select must be the first request on the connection;
// that invariant is already enforced in server.go's dispatch before
// this function is reached.
func (s *Server) handleExtended(id uint32, b *buffer.Buffer) error {
	name, err := b.ReadString()
	if err != nil {
		return err
	}
	switch name {
	case ExtVersionSelect:
		return s.handleVersionSelect(id, b)
	case ExtCopyFile:
		return s.handleCopyFile(id, b)
	case ExtCopyData:
		return s.handleCopyData(id, b)
	case ExtMD5Hash:
		return s.handleCheckFileName(id, b, md5.New, true)
	case ExtMD5HashHandle:
		return s.handleCheckFileHandle(id, b, md5.New, true)
	case ExtCheckFileName:
		return s.handleCheckFileName(id, b, nil, false)
	case ExtCheckFileHandle:
		return s.handleCheckFileHandle(id, b, nil, false)
	case ExtSpaceAvailable:
		return s.handleSpaceAvailable(id, b)
	case ExtFsyncOpenSSH:
		return s.handleFsync(id, b)
	case ExtPOSIXRename:
		return s.handlePosixRename(id, b)
	default:
		return s.sendStatus(id, fmt.Errorf("%w: extension %q", ErrUnsupportedAttribute, name))
	}
}

// handleVersionSelect applies the version-select extension
// (secsh-filexfer-13 §4.6), overriding the version chosen at INIT.
// Only legal as the very first post-INIT request (enforced by the
// caller). A malformed or unsupported version is returned as an error,
// with no STATUS reply, so the session is torn down.
func (s *Server) handleVersionSelect(id uint32, b *buffer.Buffer) error {
	v, err := b.ReadString()
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil || n < s.cfg.minVersion() || n > s.cfg.maxVersion() {
		return fmt.Errorf("sftp: version-select: unsupported version %q", v)
	}
	s.version = n
	s.versionOverridden = true
	return s.sendStatus(id, nil)
}

// handleCopyFile implements copy-file@openssh.com-style semantics:
// sourcepath, destpath, overwrite bool.
func (s *Server) handleCopyFile(id uint32, b *buffer.Buffer) error {
	src, err := b.ReadString()
	if err != nil {
		return err
	}
	dst, err := b.ReadString()
	if err != nil {
		return err
	}
	overwrite, err := b.ReadBool()
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.copyFile(s.resolve(src), s.resolve(dst), overwrite))
}

func (s *Server) copyFile(src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return os.ErrExist
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// handleCopyData implements copy-data between two open handles, with
// an overlap check when source and destination happen to be the same
// underlying file.
func (s *Server) handleCopyData(id uint32, b *buffer.Buffer) error {
	readHandle, err := b.ReadString()
	if err != nil {
		return err
	}
	readOffset, err := b.ReadUint64()
	if err != nil {
		return err
	}
	readLength, err := b.ReadUint64()
	if err != nil {
		return err
	}
	writeHandle, err := b.ReadString()
	if err != nil {
		return err
	}
	writeOffset, err := b.ReadUint64()
	if err != nil {
		return err
	}

	rs, ok := s.handles.get(readHandle)
	if !ok || rs.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	ws, ok := s.handles.get(writeHandle)
	if !ok || ws.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	if sameFile(rs.file, ws.file) && overlaps(readOffset, readLength, writeOffset, readLength) {
		return s.sendStatus(id, fmt.Errorf("sftp: copy-data: overlapping source and destination range"))
	}

	if readLength == 0 {
		info, err := rs.file.Stat()
		if err != nil {
			return s.sendStatus(id, err)
		}
		readLength = uint64(info.Size()) - readOffset
	}
	buf := make([]byte, readLength)
	n, err := rs.file.ReadAt(buf, int64(readOffset))
	if err != nil && err != io.EOF {
		return s.sendStatus(id, err)
	}
	_, werr := ws.file.WriteAt(buf[:n], int64(writeOffset))
	return s.sendStatus(id, werr)
}

func sameFile(a, b *os.File) bool {
	ai, aerr := a.Stat()
	bi, berr := b.Stat()
	if aerr != nil || berr != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// handleCheckFileName implements check-file-name: path, a name-list of
// acceptable hash algorithms, offset, length, block size. quick-check
// (forced non-nil, forceQuick true) is the md5-hash/md5-hash-handle
// fast path that skips the algorithm-name negotiation entirely.
func (s *Server) handleCheckFileName(id uint32, b *buffer.Buffer, forced func() hash.Hash, forceQuick bool) error {
	path, err := b.ReadString()
	if err != nil {
		return err
	}
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return s.sendStatus(id, err)
	}
	defer f.Close()
	return s.checkFileCommon(id, b, f, forced, forceQuick)
}

func (s *Server) handleCheckFileHandle(id uint32, b *buffer.Buffer, forced func() hash.Hash, forceQuick bool) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok || r.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	return s.checkFileCommon(id, b, r.file, forced, forceQuick)
}

func (s *Server) checkFileCommon(id uint32, b *buffer.Buffer, f *os.File, forced func() hash.Hash, forceQuick bool) error {
	var algName string
	if !forceQuick {
		algs, err := b.ReadNameList()
		if err != nil {
			return err
		}
		algName = pickHashAlg(algs)
		if algName == "" {
			return s.sendStatus(id, fmt.Errorf("%w: no supported hash algorithm offered", ErrUnsupportedAttribute))
		}
	} else {
		algName = "md5"
	}
	offset, err := b.ReadUint64()
	if err != nil {
		return err
	}
	length, err := b.ReadUint64()
	if err != nil {
		return err
	}
	blockSize, err := b.ReadUint32()
	if err != nil {
		return err
	}

	newHash := forced
	if newHash == nil {
		newHash = hashFor(algName)
	}
	if length == 0 {
		info, err := f.Stat()
		if err != nil {
			return s.sendStatus(id, err)
		}
		length = uint64(info.Size()) - offset
	}

	resp := buffer.New()
	resp.WriteByte(OpExtendedReply)
	resp.WriteUint32(id)
	resp.WriteString(algName)

	if blockSize == 0 {
		sum, err := hashRange(f, newHash(), int64(offset), int64(length))
		if err != nil {
			return s.sendStatus(id, err)
		}
		resp.WriteBytes(sum)
	} else {
		remaining := int64(length)
		pos := int64(offset)
		for remaining > 0 {
			n := int64(blockSize)
			if n > remaining {
				n = remaining
			}
			sum, err := hashRange(f, newHash(), pos, n)
			if err != nil {
				return s.sendStatus(id, err)
			}
			resp.Write(sum)
			pos += n
			remaining -= n
		}
	}
	return s.writePacket(resp.Bytes())
}

func hashRange(f *os.File, h hash.Hash, offset, length int64) ([]byte, error) {
	_, err := io.Copy(h, io.NewSectionReader(f, offset, length))
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func pickHashAlg(offered []string) string {
	for _, want := range []string{"sha256", "sha1", "md5"} {
		for _, o := range offered {
			if strings.EqualFold(o, want) {
				return want
			}
		}
	}
	return ""
}

func hashFor(name string) func() hash.Hash {
	switch name {
	case "sha256":
		return sha256.New
	case "sha1":
		return sha1.New
	default:
		return md5.New
	}
}

// handleSpaceAvailable implements space-available@openssh.com. The
// actual statfs syscall is platform-specific; see space_unix.go /
// space_windows.go.
func (s *Server) handleSpaceAvailable(id uint32, b *buffer.Buffer) error {
	path, err := b.ReadString()
	if err != nil {
		return err
	}
	stats, err := platformSpaceAvailable(s.resolve(path))
	if err != nil {
		return s.sendStatus(id, err)
	}
	resp := buffer.New()
	resp.WriteByte(OpExtendedReply)
	resp.WriteUint32(id)
	resp.WriteUint64(stats.bytesOnDevice)
	resp.WriteUint64(stats.unusedBytesOnDevice)
	resp.WriteUint64(stats.bytesAvailableToUser)
	resp.WriteUint64(stats.unusedBytesAvailableToUser)
	resp.WriteUint64(stats.bytesPerAllocationUnit)
	return s.writePacket(resp.Bytes())
}

func (s *Server) handleFsync(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok || r.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	return s.sendStatus(id, r.file.Sync())
}

// handlePosixRename implements posix-rename@openssh.com: an
// unconditional rename that always overwrites, unlike the bare RENAME
// opcode on v3/v4.
func (s *Server) handlePosixRename(id uint32, b *buffer.Buffer) error {
	oldpath, err := b.ReadString()
	if err != nil {
		return err
	}
	newpath, err := b.ReadString()
	if err != nil {
		return err
	}
	return s.sendStatus(id, os.Rename(s.resolve(oldpath), s.resolve(newpath)))
}
