package hw

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"otxboot/boot"
)

// Eeprom is the settings EEPROM backed by a file. It implements
// boot.EepromDriver.
type Eeprom struct {
	mu     sync.Mutex
	f      *os.File
	size   uint32
	writes int
	log    *slog.Logger
}

// OpenEeprom opens or creates the backing file at path. A new file reads
// as erased (0xFF).
func OpenEeprom(path string, size uint32, log *slog.Logger) (*Eeprom, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open eeprom: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if cur := fi.Size(); cur < int64(size) {
		if _, err := f.WriteAt(bytes.Repeat([]byte{0xFF}, int(int64(size)-cur)), cur); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("erase eeprom: %w", err)
		}
	}
	return &Eeprom{f: f, size: size, log: logger(log, "eeprom")}, nil
}

// WriteBlock implements boot.EepromDriver.
func (e *Eeprom) WriteBlock(buf []byte, offset uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return os.ErrClosed
	}
	if uint64(offset)+uint64(len(buf)) > uint64(e.size) {
		return fmt.Errorf("eeprom 0x%04X+%d: %w", offset, len(buf), boot.ErrCapacity)
	}
	if _, err := e.f.WriteAt(buf, int64(offset)); err != nil {
		return err
	}
	e.writes++
	e.log.Debug("block written", "offset", offset, "len", len(buf))
	return nil
}

// ReadAt reads EEPROM contents.
func (e *Eeprom) ReadAt(p []byte, off int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return 0, os.ErrClosed
	}
	return e.f.ReadAt(p, off)
}

// Writes returns the number of blocks written since open.
func (e *Eeprom) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// Close syncs and closes the backing file.
func (e *Eeprom) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	err := e.f.Sync()
	if cerr := e.f.Close(); err == nil {
		err = cerr
	}
	e.f = nil
	return err
}
