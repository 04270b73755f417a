package sftp

import "github.com/sshcore/sshd/buffer"

// BLOCK lock-type values (v5+, secsh-filexfer-05 §6.5.1).
const (
	lockTypeRead             = 0x00000001
	lockTypeWrite            = 0x00000002
	lockTypeReadWriteAtomic  = 0x00000004 // treated as exclusive by this server
	lockTypeAdvisory         = 0x00000008
)

func (s *Server) handleBlock(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	offset, err := b.ReadUint64()
	if err != nil {
		return err
	}
	length, err := b.ReadUint64()
	if err != nil {
		return err
	}
	lockType, err := b.ReadUint32()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok || r.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	exclusive := lockType&lockTypeWrite != 0 || lockType&lockTypeReadWriteAtomic != 0
	return s.sendStatus(id, r.block(offset, length, exclusive))
}

func (s *Server) handleUnblock(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	offset, err := b.ReadUint64()
	if err != nil {
		return err
	}
	length, err := b.ReadUint64()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok || r.file == nil {
		return s.sendStatus(id, ErrInvalidHandle)
	}
	return s.sendStatus(id, r.unblock(offset, length))
}
