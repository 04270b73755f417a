//go:build !windows

package sftp

import "syscall"

type spaceStats struct {
	bytesOnDevice              uint64
	unusedBytesOnDevice        uint64
	bytesAvailableToUser       uint64
	unusedBytesAvailableToUser uint64
	bytesPerAllocationUnit     uint64
}

func platformSpaceAvailable(path string) (spaceStats, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return spaceStats{}, err
	}
	blockSize := uint64(stat.Bsize)
	return spaceStats{
		bytesOnDevice:              stat.Blocks * blockSize,
		unusedBytesOnDevice:        stat.Bfree * blockSize,
		bytesAvailableToUser:       stat.Bavail * blockSize,
		unusedBytesAvailableToUser: stat.Bavail * blockSize,
		bytesPerAllocationUnit:     blockSize,
	}, nil
}
