//go:build !windows

package repository

import (
	"fmt"
	"syscall"
)

// VolumeUsage reports usage of the filesystem holding path.
func VolumeUsage(path string) (DiskUsage, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := int64(fs.Bsize)
	total := int64(fs.Blocks) * bsize
	return DiskUsage{
		Total: total,
		Free:  int64(fs.Bavail) * bsize,
		Used:  total - int64(fs.Bfree)*bsize,
	}, nil
}
