package sftp

import "fmt"

// byteRangeLock is one advisory BLOCK-acquired range on a file handle
// (§4.6). Locks are advisory: they are only consulted by BLOCK/UNBLOCK
// bookkeeping, never enforced against READ/WRITE, matching the SFTP
// draft's own advisory-only semantics.
type byteRangeLock struct {
	offset, length uint64
	exclusive      bool
}

// ErrNoMatchingLock is returned by UNBLOCK when no held lock matches
// the requested offset/length exactly.
var ErrNoMatchingLock = fmt.Errorf("sftp: no matching byte-range lock")

// ErrLockConflict is returned by BLOCK when the requested range
// overlaps an existing lock and either of the two is exclusive; shared
// locks only coexist with shared locks.
var ErrLockConflict = fmt.Errorf("sftp: byte-range lock conflict")

func overlaps(aOff, aLen, bOff, bLen uint64) bool {
	aEnd := aOff + aLen
	bEnd := bOff + bLen
	if aLen == 0 {
		aEnd = ^uint64(0)
	}
	if bLen == 0 {
		bEnd = ^uint64(0)
	}
	return aOff < bEnd && bOff < aEnd
}

func (r *resource) block(offset, length uint64, exclusive bool) error {
	for _, l := range r.locks {
		if overlaps(l.offset, l.length, offset, length) && (l.exclusive || exclusive) {
			return ErrLockConflict
		}
	}
	r.locks = append(r.locks, byteRangeLock{offset: offset, length: length, exclusive: exclusive})
	return nil
}

func (r *resource) unblock(offset, length uint64) error {
	for i, l := range r.locks {
		if l.offset == offset && l.length == length {
			r.locks = append(r.locks[:i], r.locks[i+1:]...)
			return nil
		}
	}
	return ErrNoMatchingLock
}
