package sftp

import (
	"os"

	"github.com/sshcore/sshd/buffer"
)

// translatePflags maps the v3 pflags bitmask (§4.6: "v3 flag mapping
// rules as per the IETF draft") to an os.OpenFile flag combination.
// v4+ desired-access/flags pairs are folded down to the same pflags
// bits before reaching here (v4's ACE-style desired-access is a
// superset this server does not distinguish beyond read/write).
func translatePflags(pflags uint32) int {
	var flags int
	switch {
	case pflags&FlagRead != 0 && pflags&FlagWrite != 0:
		flags = os.O_RDWR
	case pflags&FlagWrite != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if pflags&FlagAppend != 0 {
		flags |= os.O_APPEND
	}
	if pflags&FlagCreat != 0 {
		flags |= os.O_CREATE
	}
	if pflags&FlagTrunc != 0 {
		flags |= os.O_TRUNC
	}
	if pflags&FlagExcl != 0 {
		flags |= os.O_EXCL
	}
	return flags
}

func (s *Server) handleOpen(id uint32, b *buffer.Buffer) error {
	filename, err := b.ReadString()
	if err != nil {
		return err
	}
	pflags, err := b.ReadUint32()
	if err != nil {
		return err
	}
	attrs, err := DecodeAttr(b, s.version)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o666)
	if attrs.Set&AttrPermissions != 0 {
		mode = os.FileMode(attrs.Permissions).Perm()
	}

	f, err := os.OpenFile(s.resolve(filename), translatePflags(pflags), mode)
	if err != nil {
		return s.sendStatus(id, err)
	}
	handle, err := s.handles.insert(&resource{file: f})
	if err != nil {
		f.Close()
		return s.sendStatus(id, err)
	}
	return s.sendHandle(id, handle)
}

func (s *Server) handleOpendir(id uint32, b *buffer.Buffer) error {
	dirname, err := b.ReadString()
	if err != nil {
		return err
	}
	local := s.resolve(dirname)
	info, err := os.Stat(local)
	if err != nil {
		return s.sendStatus(id, err)
	}
	if !info.IsDir() {
		return s.sendStatus(id, errNotADirectory(local))
	}
	handle, err := s.handles.insert(&resource{dirPath: local})
	if err != nil {
		return s.sendStatus(id, err)
	}
	return s.sendHandle(id, handle)
}

func (s *Server) handleClose(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	r, ok := s.handles.remove(handle)
	if !ok {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	var closeErr error
	if r.file != nil {
		closeErr = r.file.Close()
	}
	return s.sendStatus(id, closeErr)
}
