package sftp

import (
	"errors"
	"io"
	"io/fs"
)

// notADirError is a portable stand-in for platforms/situations where
// the standard library doesn't surface a wrapped ENOTDIR (used when
// this package itself detects the mismatch, e.g. OPENDIR on a file).
type notADirError struct{ path string }

func errNotADirectory(path string) error { return &notADirError{path: path} }

func (e *notADirError) Error() string { return e.path + ": not a directory" }

// statusFor maps a Go error to an SFTP status code via the fixed
// table in §4.6: FileNotFound→NO_SUCH_FILE, AccessDenied→
// PERMISSION_DENIED, DirectoryNotEmpty→DIR_NOT_EMPTY,
// UnsupportedOperation→OP_UNSUPPORTED, NotDirectory→NOT_A_DIRECTORY,
// FileAlreadyExists→FILE_ALREADY_EXISTS, generic IO→FAILURE.
func statusFor(err error) (code uint32, message string) {
	if err == nil {
		return StatusOK, ""
	}
	if code, ok := platformStatusExtra(err); ok {
		return code, err.Error()
	}
	switch {
	case errors.Is(err, errEOF), errors.Is(err, io.EOF):
		return StatusEOF, "EOF"
	case errors.Is(err, fs.ErrNotExist):
		return StatusNoSuchFile, err.Error()
	case errors.Is(err, fs.ErrPermission):
		return StatusPermissionDenied, err.Error()
	case errors.Is(err, fs.ErrExist):
		return StatusFileAlreadyExists, err.Error()
	case errors.Is(err, ErrUnsupportedAttribute):
		return StatusOpUnsupported, err.Error()
	case errors.Is(err, ErrTooManyHandles):
		return StatusFailure, err.Error()
	case errors.Is(err, ErrInvalidHandle):
		return StatusInvalidHandle, err.Error()
	case errors.Is(err, ErrNoMatchingLock):
		return StatusNoMatchingByteRangeLock, err.Error()
	case errors.Is(err, ErrLockConflict):
		return StatusByteRangeLockConflict, err.Error()
	default:
		var notDir *notADirError
		if errors.As(err, &notDir) {
			return StatusNotADirectory, err.Error()
		}
		var isDir *fileIsADirError
		if errors.As(err, &isDir) {
			return StatusFileIsADirectory, err.Error()
		}
		return StatusFailure, err.Error()
	}
}
