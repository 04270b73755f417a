package sftp

import (
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/sshcore/sshd/buffer"
)

func (s *Server) handleLstat(id uint32, b *buffer.Buffer) error {
	return s.statCommon(id, b, os.Lstat)
}

func (s *Server) handleStat(id uint32, b *buffer.Buffer) error {
	return s.statCommon(id, b, os.Stat)
}

func (s *Server) statCommon(id uint32, b *buffer.Buffer, stat func(string) (os.FileInfo, error)) error {
	filename, err := b.ReadString()
	if err != nil {
		return err
	}
	info, err := stat(s.resolve(filename))
	if err != nil {
		return s.sendStatus(id, err)
	}
	attr, err := s.gatherAttr(info)
	if err != nil {
		return s.sendStatus(id, err)
	}
	return s.sendAttrs(id, attr)
}

func (s *Server) handleFstat(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	var info os.FileInfo
	if r.file != nil {
		info, err = r.file.Stat()
	} else {
		info, err = os.Stat(r.dirPath)
	}
	if err != nil {
		return s.sendStatus(id, err)
	}
	attr, err := s.gatherAttr(info)
	if err != nil {
		return s.sendStatus(id, err)
	}
	return s.sendAttrs(id, attr)
}

// gatherAttr builds the full attribute union, applying
// UnsupportedAttributePolicy for whatever the platform cannot supply
// (§4.6).
func (s *Server) gatherAttr(info os.FileInfo) (Attr, error) {
	a, err := FromFileInfo(info, s.cfg.UnsupportedAttributePolicy)
	if err != nil {
		return Attr{}, err
	}
	if a.Set&AttrUIDGID == 0 && s.cfg.UnsupportedAttributePolicy == PolicyWarn {
		s.debugf("uid/gid unavailable for %s", info.Name())
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn("attribute gap", slog.String("attr", "uid/gid"), slog.String("file", info.Name()))
		}
	}
	return a, nil
}

func (s *Server) handleSetstat(id uint32, b *buffer.Buffer) error {
	filename, err := b.ReadString()
	if err != nil {
		return err
	}
	attrs, err := DecodeAttr(b, s.version)
	if err != nil {
		return err
	}
	local := s.resolve(filename)
	return s.sendStatus(id, s.applyAttr(local, attrs))
}

func (s *Server) handleFsetstat(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	attrs, err := DecodeAttr(b, s.version)
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	var local string
	if r.file != nil {
		local = r.file.Name()
	} else {
		local = r.dirPath
	}
	return s.sendStatus(id, s.applyAttr(local, attrs))
}

func (s *Server) applyAttr(local string, attrs Attr) error {
	hooks := ApplyHooks{
		Truncate: func(size int64) error { return os.Truncate(local, size) },
		Chmod:    func(mode fs.FileMode) error { return os.Chmod(local, mode) },
		Chtimes: func(atime, mtime time.Time) error {
			return os.Chtimes(local, atime, mtime)
		},
	}
	if chownSupported {
		hooks.Chown = func(uid, gid int) error { return chownPlatform(local, uid, gid) }
	}
	return attrs.Apply(hooks, s.cfg.UnsupportedAttributePolicy)
}
