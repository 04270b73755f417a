package sftp

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/sshcore/sshd/buffer"
)

// Attribute flag bits. v3 defines the low four plus EXTENDED; v4+
// splits ACMODTIME into ACCESSTIME/CREATETIME/MODIFYTIME and adds
// OWNERGROUP by name (secsh-filexfer-13 §5.1). Both encodings are
// supported; which one is used is decided by the negotiated version.
const (
	AttrSize        = 0x00000001
	AttrUIDGID      = 0x00000002 // v3 only
	AttrPermissions = 0x00000004
	AttrACModTime   = 0x00000008 // v3 only: atime+mtime together
	AttrAccessTime  = 0x00000008 // v4+: atime alone
	AttrCreateTime  = 0x00000010 // v4+
	AttrModifyTime  = 0x00000020 // v4+
	AttrACL         = 0x00000040 // v4+, not populated
	AttrOwnerGroup  = 0x00000080 // v4+: owner/group by name
	AttrSubsecond   = 0x00000100 // v4+, not populated
	AttrExtended    = 0x80000000
)

// v4+ file type octet (secsh-filexfer-13 §5.2).
const (
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeSymlink   = 3
	FileTypeSpecial   = 4
	FileTypeUnknown   = 5
)

// UnsupportedAttributePolicy governs what happens when a SETSTAT/
// FSETSTAT request names an attribute this server cannot apply, or a
// STAT-family request is asked (by the platform) to report one it
// cannot supply (§4.6).
type UnsupportedAttributePolicy int

const (
	// PolicyIgnore silently drops the attribute.
	PolicyIgnore UnsupportedAttributePolicy = iota
	// PolicyWarn drops the attribute. STAT-family gathering logs
	// uid/gid gaps; attribute application (SETSTAT/FSETSTAT) drops
	// without logging.
	PolicyWarn
	// PolicyThrow fails the whole request with OP_UNSUPPORTED.
	PolicyThrow
)

// ErrUnsupportedAttribute is returned by attribute application when
// UnsupportedAttributePolicy is PolicyThrow.
var ErrUnsupportedAttribute = fmt.Errorf("sftp: unsupported attribute")

// Attr is the attribute union gathered from every supported view
// (§4.6): size/permissions/ownership/timestamps, extended as name/
// value pairs. Zero-value fields mean "not present"; the encoders read
// the Set bitmask, not merely a non-zero check, so a deliberate zero
// (e.g. size 0) still round-trips.
type Attr struct {
	Set uint32 // Attr* bits present in this value

	Size uint64

	UID, GID     uint32
	OwnerName    string
	GroupName    string
	Permissions  uint32 // POSIX mode bits

	AccessTime time.Time
	ModifyTime time.Time
	CreateTime time.Time

	Type uint32 // v4+ FileType*; ignored on v3 (folded into permissions' S_IFMT bits)

	Extended [][2]string
}

// FromFileInfo builds an Attr from an fs.FileInfo, applying policy for
// any attribute the local filesystem cannot supply (this stdlib-backed
// filesystem always supplies size/permissions/modtime/type; uid/gid
// require a platform-specific syscall.Stat_t assertion and are left
// absent when unavailable, per policy).
func FromFileInfo(fi fs.FileInfo, policy UnsupportedAttributePolicy) (Attr, error) {
	a := Attr{
		Set:         AttrSize | AttrPermissions | AttrModifyTime,
		Size:        uint64(fi.Size()),
		Permissions: uint32(fi.Mode().Perm()),
		ModifyTime:  fi.ModTime(),
	}
	if fi.IsDir() {
		a.Type = FileTypeDirectory
	} else if fi.Mode()&fs.ModeSymlink != 0 {
		a.Type = FileTypeSymlink
	} else {
		a.Type = FileTypeRegular
	}

	if uid, gid, ok := platformOwnership(fi); ok {
		a.Set |= AttrUIDGID
		a.UID, a.GID = uid, gid
	} else if policy == PolicyThrow {
		return Attr{}, fmt.Errorf("%w: uid/gid", ErrUnsupportedAttribute)
	}
	return a, nil
}

// Encode writes the attribute union for the given protocol version.
func (a Attr) Encode(b *buffer.Buffer, version int) {
	if version <= 3 {
		a.encodeV3(b)
	} else {
		a.encodeV4(b)
	}
}

func (a Attr) encodeV3(b *buffer.Buffer) {
	set := a.Set &^ (AttrAccessTime | AttrCreateTime | AttrModifyTime | AttrOwnerGroup | AttrACL | AttrSubsecond)
	if a.Set&(AttrAccessTime|AttrModifyTime) != 0 {
		set |= AttrACModTime
	}
	b.WriteUint32(set)
	if set&AttrSize != 0 {
		b.WriteUint64(a.Size)
	}
	if set&AttrUIDGID != 0 {
		b.WriteUint32(a.UID)
		b.WriteUint32(a.GID)
	}
	if set&AttrPermissions != 0 {
		b.WriteUint32(a.Permissions)
	}
	if set&AttrACModTime != 0 {
		b.WriteUint32(uint32(a.AccessTime.Unix()))
		b.WriteUint32(uint32(a.ModifyTime.Unix()))
	}
	if set&AttrExtended != 0 {
		writeExtendedPairs(b, a.Extended)
	}
}

func (a Attr) encodeV4(b *buffer.Buffer) {
	b.WriteUint32(a.Set)
	b.WriteByte(byte(a.Type))
	if a.Set&AttrSize != 0 {
		b.WriteUint64(a.Size)
	}
	if a.Set&AttrOwnerGroup != 0 {
		b.WriteString(a.OwnerName)
		b.WriteString(a.GroupName)
	}
	if a.Set&AttrPermissions != 0 {
		b.WriteUint32(a.Permissions)
	}
	if a.Set&AttrAccessTime != 0 {
		b.WriteUint64(uint64(a.AccessTime.Unix()))
	}
	if a.Set&AttrCreateTime != 0 {
		b.WriteUint64(uint64(a.CreateTime.Unix()))
	}
	if a.Set&AttrModifyTime != 0 {
		b.WriteUint64(uint64(a.ModifyTime.Unix()))
	}
	if a.Set&AttrExtended != 0 {
		writeExtendedPairs(b, a.Extended)
	}
}

func writeExtendedPairs(b *buffer.Buffer, pairs [][2]string) {
	b.WriteUint32(uint32(len(pairs)))
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteString(p[1])
	}
}

// DecodeAttr reads an attribute union for the given protocol version,
// used by SETSTAT/FSETSTAT and by OPEN's initial-attributes field.
func DecodeAttr(b *buffer.Buffer, version int) (Attr, error) {
	if version <= 3 {
		return decodeAttrV3(b)
	}
	return decodeAttrV4(b)
}

func decodeAttrV3(b *buffer.Buffer) (Attr, error) {
	var a Attr
	set, err := b.ReadUint32()
	if err != nil {
		return a, err
	}
	a.Set = set
	if set&AttrSize != 0 {
		if a.Size, err = b.ReadUint64(); err != nil {
			return a, err
		}
	}
	if set&AttrUIDGID != 0 {
		if a.UID, err = b.ReadUint32(); err != nil {
			return a, err
		}
		if a.GID, err = b.ReadUint32(); err != nil {
			return a, err
		}
	}
	if set&AttrPermissions != 0 {
		if a.Permissions, err = b.ReadUint32(); err != nil {
			return a, err
		}
	}
	if set&AttrACModTime != 0 {
		atime, err := b.ReadUint32()
		if err != nil {
			return a, err
		}
		mtime, err := b.ReadUint32()
		if err != nil {
			return a, err
		}
		a.AccessTime = time.Unix(int64(atime), 0)
		a.ModifyTime = time.Unix(int64(mtime), 0)
		a.Set |= AttrAccessTime | AttrModifyTime
	}
	if set&AttrExtended != 0 {
		if a.Extended, err = readExtendedPairs(b); err != nil {
			return a, err
		}
	}
	return a, nil
}

func decodeAttrV4(b *buffer.Buffer) (Attr, error) {
	var a Attr
	set, err := b.ReadUint32()
	if err != nil {
		return a, err
	}
	a.Set = set
	typ, err := b.ReadByte()
	if err != nil {
		return a, err
	}
	a.Type = uint32(typ)
	if set&AttrSize != 0 {
		if a.Size, err = b.ReadUint64(); err != nil {
			return a, err
		}
	}
	if set&AttrOwnerGroup != 0 {
		if a.OwnerName, err = b.ReadString(); err != nil {
			return a, err
		}
		if a.GroupName, err = b.ReadString(); err != nil {
			return a, err
		}
	}
	if set&AttrPermissions != 0 {
		if a.Permissions, err = b.ReadUint32(); err != nil {
			return a, err
		}
	}
	if set&AttrAccessTime != 0 {
		v, err := b.ReadUint64()
		if err != nil {
			return a, err
		}
		a.AccessTime = time.Unix(int64(v), 0)
	}
	if set&AttrCreateTime != 0 {
		v, err := b.ReadUint64()
		if err != nil {
			return a, err
		}
		a.CreateTime = time.Unix(int64(v), 0)
	}
	if set&AttrModifyTime != 0 {
		v, err := b.ReadUint64()
		if err != nil {
			return a, err
		}
		a.ModifyTime = time.Unix(int64(v), 0)
	}
	if set&AttrExtended != 0 {
		if a.Extended, err = readExtendedPairs(b); err != nil {
			return a, err
		}
	}
	return a, nil
}

func readExtendedPairs(b *buffer.Buffer) ([][2]string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	pairs := make([][2]string, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

// Apply applies the whitelisted attributes {size, uid, gid, owner,
// group, permissions, creationTime, lastModifiedTime, lastAccessTime}
// (§4.6) to a real filesystem path via the given hooks, honoring
// policy for whatever the platform cannot apply (owner/group by name
// has no portable stdlib equivalent and is always routed through
// policy).
type ApplyHooks struct {
	Truncate func(size int64) error
	Chmod    func(mode fs.FileMode) error
	Chtimes  func(atime, mtime time.Time) error
	Chown    func(uid, gid int) error
}

func (a Attr) Apply(hooks ApplyHooks, policy UnsupportedAttributePolicy) error {
	if a.Set&AttrSize != 0 && hooks.Truncate != nil {
		if err := hooks.Truncate(int64(a.Size)); err != nil {
			return err
		}
	}
	if a.Set&AttrPermissions != 0 && hooks.Chmod != nil {
		if err := hooks.Chmod(fs.FileMode(a.Permissions).Perm()); err != nil {
			return err
		}
	}
	if a.Set&(AttrAccessTime|AttrModifyTime) != 0 && hooks.Chtimes != nil {
		if err := hooks.Chtimes(a.AccessTime, a.ModifyTime); err != nil {
			return err
		}
	}
	if a.Set&AttrUIDGID != 0 {
		if hooks.Chown != nil {
			if err := hooks.Chown(int(a.UID), int(a.GID)); err != nil {
				return err
			}
		} else if err := unsupported(policy, "uid/gid"); err != nil {
			return err
		}
	}
	if a.Set&AttrOwnerGroup != 0 {
		if err := unsupported(policy, "owner/group by name"); err != nil {
			return err
		}
	}
	if a.Set&AttrCreateTime != 0 {
		if err := unsupported(policy, "creationTime"); err != nil {
			return err
		}
	}
	return nil
}

func unsupported(policy UnsupportedAttributePolicy, what string) error {
	switch policy {
	case PolicyThrow:
		return fmt.Errorf("%w: %s", ErrUnsupportedAttribute, what)
	case PolicyWarn:
		return nil // dropped; nothing on this path logs it
	default:
		return nil
	}
}
