//go:build windows

package repository

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// VolumeUsage reports usage of the volume holding path.
func VolumeUsage(path string) (DiskUsage, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("volume path %s: %w", path, err)
	}

	var freeAvail, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeAvail, &totalBytes, &totalFree); err != nil {
		return DiskUsage{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}

	return DiskUsage{
		Total: int64(totalBytes),
		Free:  int64(freeAvail),
		Used:  int64(totalBytes - totalFree),
	}, nil
}
