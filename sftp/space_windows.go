//go:build windows

package sftp

import "golang.org/x/sys/windows"

type spaceStats struct {
	bytesOnDevice              uint64
	unusedBytesOnDevice        uint64
	bytesAvailableToUser       uint64
	unusedBytesAvailableToUser uint64
	bytesPerAllocationUnit     uint64
}

func platformSpaceAvailable(path string) (spaceStats, error) {
	var freeAvail, total, totalFree uint64
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return spaceStats{}, err
	}
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeAvail, &total, &totalFree); err != nil {
		return spaceStats{}, err
	}
	return spaceStats{
		bytesOnDevice:              total,
		unusedBytesOnDevice:        totalFree,
		bytesAvailableToUser:       freeAvail,
		unusedBytesAvailableToUser: freeAvail,
		bytesPerAllocationUnit:     1,
	}, nil
}
