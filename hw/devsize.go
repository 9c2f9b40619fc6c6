package hw

import (
	"io"
	"os"
)

// DeviceSize returns the size of a regular file or block device in bytes.
func DeviceSize(f *os.File) (int64, error) {
	// Seeking to the end works for regular files.
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}
	if fi, serr := f.Stat(); serr == nil && fi.Mode().IsRegular() {
		return 0, err
	}
	return blockDeviceSize(f)
}
