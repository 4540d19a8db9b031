//go:build linux || darwin

package health

import (
	"errors"
	"syscall"
)

func diskUsedPct(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0, errors.New("statfs reported zero blocks")
	}
	return float64(total-free) / float64(total) * 100, nil
}
