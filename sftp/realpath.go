package sftp

import (
	"os"
	"path/filepath"

	"github.com/sshcore/sshd/buffer"
)

// handleRealpath canonicalizes a client path and, from v3 onward,
// reports its attributes alongside the long-name (many v3 clients rely
// on this to resolve "." without a separate STAT). v6 adds a control
// byte selecting whether the target must exist (§4.6).
func (s *Server) handleRealpath(id uint32, b *buffer.Buffer) error {
	path, err := b.ReadString()
	if err != nil {
		return err
	}
	controlByte := RealpathStatIf
	if s.version >= 6 {
		if cb, err := b.ReadByte(); err == nil {
			controlByte = int(cb)
		}
	}

	local := s.resolve(path)
	clean := filepath.Clean(local)
	virtual := s.virtualize(clean)

	var attr Attr
	info, statErr := os.Stat(clean)
	switch controlByte {
	case RealpathStatAlways:
		if statErr != nil {
			return s.sendStatus(id, statErr)
		}
	case RealpathNoCheck:
		// no existence check required
	default: // RealpathStatIf
	}
	if statErr == nil {
		attr, _ = s.gatherAttr(info)
	}

	return s.sendNames(id, []nameEntry{{
		filename: virtual,
		longname: longNameOrPath(virtual, info),
		attrs:    attr,
	}}, true)
}

func longNameOrPath(virtual string, info os.FileInfo) string {
	if info == nil {
		return virtual
	}
	return longName(filepath.Base(virtual), info)
}
