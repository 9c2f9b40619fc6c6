//go:build linux

package hw

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func blockDeviceSize(f *os.File) (int64, error) {
	n, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("cannot determine device size: %w", err)
	}
	return int64(n), nil
}
