package sftp

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sshcore/sshd/buffer"
)

// handleReaddir streams one batch of at most 128 directory entries per
// call (a fixed count; the configured max packet length does not size
// the batch), synthesizing "." and ".." first
// and returning STATUS EOF once the listing is exhausted (§4.6).
func (s *Server) handleReaddir(id uint32, b *buffer.Buffer) error {
	handle, err := b.ReadString()
	if err != nil {
		return err
	}
	r, ok := s.handles.get(handle)
	if !ok || r.dirPath == "" {
		return s.sendStatus(id, ErrInvalidHandle)
	}

	if r.dirEntries == nil && !r.dirDone {
		entries, err := os.ReadDir(r.dirPath)
		if err != nil {
			return s.sendStatus(id, err)
		}
		synthetic := []os.DirEntry{dotEntry(".", r.dirPath), dotEntry("..", filepath.Dir(r.dirPath))}
		r.dirEntries = append(synthetic, entries...)
	}

	if r.dirPos >= len(r.dirEntries) {
		r.dirDone = true
		return s.sendStatus(id, errEOF)
	}

	const batchSize = 128
	var names []nameEntry
	for r.dirPos < len(r.dirEntries) && len(names) < batchSize {
		entry := r.dirEntries[r.dirPos]
		r.dirPos++
		info, err := entry.Info()
		if err != nil {
			continue
		}
		attr, err := s.gatherAttr(info)
		if err != nil {
			continue
		}
		names = append(names, nameEntry{
			filename: entry.Name(),
			longname: longName(entry.Name(), info),
			attrs:    attr,
		})
	}
	return s.sendNames(id, names, r.dirPos >= len(r.dirEntries))
}

// dotEntry synthesizes a DirEntry for "." / ".." backed by a real Stat
// of the directory itself (or its parent), so the reported attributes
// aren't fabricated.
func dotEntry(name, path string) os.DirEntry {
	return dirEntryAdapter{name: name, path: path}
}

type dirEntryAdapter struct {
	name, path string
}

func (d dirEntryAdapter) Name() string { return d.name }
func (d dirEntryAdapter) IsDir() bool  { return true }
func (d dirEntryAdapter) Type() os.FileMode {
	return os.ModeDir
}
func (d dirEntryAdapter) Info() (os.FileInfo, error) { return os.Stat(d.path) }

// longName renders an ls -l style line (§4.6, v3's longname field),
// close enough to GNU ls for interoperable clients that still display
// it verbatim rather than parsing it.
func longName(name string, info os.FileInfo) string {
	mode := info.Mode()
	var b strings.Builder
	b.WriteString(mode.String())
	b.WriteString(" 1 owner group ")
	b.WriteString(strconv.FormatInt(info.Size(), 10))
	b.WriteString(" ")
	b.WriteString(info.ModTime().Format(time.Stamp))
	b.WriteString(" ")
	b.WriteString(name)
	return b.String()
}

var errEOF = eofError{}

type eofError struct{}

func (eofError) Error() string { return "sftp: end of file" }
