//go:build !linux && !darwin

package hw

import "os"

// Device size probing is not implemented here; only regular files work.
func blockDeviceSize(*os.File) (int64, error) {
	return 0, os.ErrInvalid
}
