package sftp

import (
	"path"
	"path/filepath"
	"strings"
)

// resolve maps a client-supplied SFTP path (always POSIX-style,
// forward-slash separated per the draft) to a local filesystem path.
// When Config.RootDir is set, the result is clamped beneath it —
// ".." components can never escape the root, emulating a chroot in
// userspace since Go has no portable unprivileged chroot syscall.
func (s *Server) resolve(clientPath string) string {
	clean := path.Clean("/" + clientPath)
	if s.cfg.RootDir == "" {
		return clean
	}
	return filepath.Join(s.cfg.RootDir, filepath.FromSlash(clean))
}

// virtualize is resolve's inverse for paths reported back to the
// client (REALPATH, READDIR filenames): a local path under RootDir is
// rendered relative to it with forward slashes.
func (s *Server) virtualize(localPath string) string {
	if s.cfg.RootDir == "" {
		return filepath.ToSlash(localPath)
	}
	rel, err := filepath.Rel(s.cfg.RootDir, localPath)
	if err != nil {
		return "/"
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "/"
	}
	return "/" + strings.TrimPrefix(rel, "/")
}
