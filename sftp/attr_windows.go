//go:build windows

package sftp

import "io/fs"

// platformOwnership: Windows file ownership is SID-based, not the
// numeric uid/gid this attribute view expects, and Go's fs.FileInfo
// does not expose an accessor for it; per §4.6's UnsupportedAttributePolicy,
// this is a gap the caller must route through policy rather than a
// value this package can synthesize.
func platformOwnership(fi fs.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}

// chownSupported is false on Windows: there is no numeric uid/gid
// ownership model to apply, so SETSTAT/FSETSTAT routes this attribute
// through UnsupportedAttributePolicy instead of calling chownPlatform.
const chownSupported = false

func chownPlatform(path string, uid, gid int) error {
	return nil
}
