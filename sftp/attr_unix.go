//go:build !windows

package sftp

import (
	"io/fs"
	"syscall"
)

// platformOwnership extracts uid/gid from a POSIX Stat_t; ok is false
// on platforms (or fs.FileInfo implementations, e.g. embed.FS) that
// don't back Sys() with a *syscall.Stat_t.
func platformOwnership(fi fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

const chownSupported = true

// chownPlatform applies SETSTAT/FSETSTAT uid/gid on POSIX platforms.
func chownPlatform(path string, uid, gid int) error {
	return syscall.Chown(path, uid, gid)
}
