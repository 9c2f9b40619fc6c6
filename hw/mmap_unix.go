//go:build !windows

package hw

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func syncMap(_ *os.File, b []byte) error {
	return unix.Msync(b, unix.MS_SYNC)
}

func unmapFile(b []byte) error {
	return unix.Munmap(b)
}
