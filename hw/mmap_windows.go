//go:build windows

package hw

import (
	"io"
	"os"
)

// Windows keeps a private copy and writes it back on sync.

func mapFile(f *os.File, size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(size)), b); err != nil {
		return nil, err
	}
	return b, nil
}

func syncMap(f *os.File, b []byte) error {
	if _, err := f.WriteAt(b, 0); err != nil {
		return err
	}
	return f.Sync()
}

func unmapFile([]byte) error { return nil }
