//go:build !linux && !darwin

package health

import "errors"

func diskUsedPct(string) (float64, error) {
	return 0, errors.New("disk usage not supported on this platform")
}
