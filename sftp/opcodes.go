// Package sftp implements the SFTP subsystem (§4.6): a versioned
// request/response engine, running as a session-channel subsystem
// worker, that speaks draft secsh-filexfer versions 3 through 6 plus
// the OpenSSH and IETF extensions in common use. Wire framing follows
// the same big-endian, length-prefixed conventions as the transport
// (see the buffer package), but the opcode set, attribute encoding
// and status-code table are specific to SFTP and are not shared with
// golang.org/x/crypto/ssh, which has no SFTP support of its own.
package sftp

// Packet type octets (secsh-filexfer §3).
const (
	OpInit     = 1
	OpVersion  = 2
	OpOpen     = 3
	OpClose    = 4
	OpRead     = 5
	OpWrite    = 6
	OpLstat    = 7
	OpFstat    = 8
	OpSetstat  = 9
	OpFsetstat = 10
	OpOpendir  = 11
	OpReaddir  = 12
	OpRemove   = 13
	OpMkdir    = 14
	OpRmdir    = 15
	OpRealpath = 16
	OpStat     = 17
	OpRename   = 18
	OpReadlink = 19
	OpSymlink  = 20 // v3/v4; v5+ prefer Link with symlink flag
	OpLink     = 21 // v5+
	OpBlock    = 22 // v5+
	OpUnblock  = 23 // v5+

	OpStatus   = 101
	OpHandle   = 102
	OpData     = 103
	OpName     = 104
	OpAttrs    = 105
	OpExtended      = 200
	OpExtendedReply = 201
)

// Status codes (secsh-filexfer §9.1, extended for v4+).
const (
	StatusOK                     = 0
	StatusEOF                    = 1
	StatusNoSuchFile             = 2
	StatusPermissionDenied       = 3
	StatusFailure                = 4
	StatusBadMessage             = 5
	StatusNoConnection           = 6
	StatusConnectionLost         = 7
	StatusOpUnsupported          = 8
	StatusInvalidHandle          = 9
	StatusNoSuchPath             = 10
	StatusFileAlreadyExists      = 11
	StatusWriteProtect           = 12
	StatusNoMedia                = 13
	StatusNoSpaceOnFilesystem    = 14
	StatusQuotaExceeded          = 15
	StatusUnknownPrincipal       = 16
	StatusLockConflict           = 17
	StatusDirNotEmpty            = 18
	StatusNotADirectory          = 19
	StatusInvalidFilename        = 20
	StatusLinkLoop               = 21
	StatusCannotDelete           = 22
	StatusInvalidParameter       = 23
	StatusFileIsADirectory       = 24
	StatusByteRangeLockConflict  = 25
	StatusByteRangeLockRefused   = 26
	StatusDeletePending          = 27
	StatusFileCorrupt            = 28
	StatusOwnerGroupUnknown      = 29
	StatusNoMatchingByteRangeLock = 30
)

// Open pflags (v3, secsh-filexfer-02 §6.3); v4+ instead uses
// desired-access + flags, translated in open.go.
const (
	FlagRead   = 0x00000001
	FlagWrite  = 0x00000002
	FlagAppend = 0x00000004
	FlagCreat  = 0x00000008
	FlagTrunc  = 0x00000010
	FlagExcl   = 0x00000020
)

// RENAME flags (v5+, secsh-filexfer-05 §6.5).
const (
	RenameOverwrite = 0x00000001
	RenameAtomic    = 0x00000002
	RenameNative    = 0x00000004
)

// REALPATH control byte (v6, secsh-filexfer-13 §8.9).
const (
	RealpathNoCheck    = 0
	RealpathStatIf     = 1
	RealpathStatAlways = 2
)

// LINK symlink flag position: the boolean occupies the last field of
// an OpLink request (secsh-filexfer §8.5): newLinkPath, existingPath,
// symlink bool.

// DefaultMaxPacketLength caps the data returned by a single READ when
// the server config does not override it. WRITE payloads and READDIR
// batches are not bounded by it.
const DefaultMaxPacketLength = 16 * 1024

// Extension names understood by handleExtended dispatch (§4.6).
const (
	ExtCopyFile       = "copy-file"
	ExtCopyData       = "copy-data"
	ExtMD5Hash        = "md5-hash"
	ExtMD5HashHandle  = "md5-hash-handle"
	ExtCheckFileHandle = "check-file-handle"
	ExtCheckFileName  = "check-file-name"
	ExtSpaceAvailable = "space-available"
	ExtFsyncOpenSSH   = "fsync@openssh.com"
	ExtVersionSelect  = "version-select"
	ExtPOSIXRename    = "posix-rename@openssh.com"
)

// AdvertisedExtensions lists the (name, data) pairs echoed in the
// VERSION response (§4.6): versions, newline, vendor-id and the
// fixed OpenSSH/IETF set. ClientExtensions from server Config are
// appended after these.
func AdvertisedExtensions(minVersion, maxVersion int) [][2]string {
	return [][2]string{
		{"versions", versionsList(minVersion, maxVersion)},
		{"newline", "\n"},
		{"vendor-id", "sshcore\x00sshd\x001.0\x00"},
		{ExtFsyncOpenSSH, "1"},
		{ExtPOSIXRename, "1"},
	}
}

func versionsList(min, max int) string {
	s := ""
	for v := min; v <= max; v++ {
		if s != "" {
			s += ","
		}
		s += itoa(v)
	}
	return s
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	digits := [4]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
