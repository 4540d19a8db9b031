package health

import (
	"context"
	"os"
)

// DiskSpace reports degraded once the filesystem holding dir is more than
// maxUsedPct full, and down above 99%. Platforms without statfs always
// report ok.
func DiskSpace(dir string, maxUsedPct float64) CheckFunc {
	if dir == "" {
		dir = os.TempDir()
	}
	return func(context.Context) Status {
		used, err := diskUsedPct(dir)
		if err != nil {
			return StatusOK
		}
		switch {
		case used > 99:
			return StatusDown
		case used > maxUsedPct:
			return StatusDegraded
		default:
			return StatusOK
		}
	}
}
