// Package hw simulates the radio hardware the bootloader drives: program
// flash and EEPROM backed by files, the USB cable, the power switch, the
// watchdog and a serial key matrix.
package hw

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"zappem.net/pub/debug/xcrc32"

	"otxboot/boot"
)

// ErrProtected is returned for writes into the bootloader region.
var ErrProtected = errors.New("write into protected bootloader region")

func logger(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return l.With("component", component)
}

// Flash is program flash backed by a memory-mapped file. Address 0 of the
// file is the flash base address. It implements boot.FlashDriver.
type Flash struct {
	mu       sync.Mutex
	f        *os.File
	mem      []byte
	base     uint32
	protect  uint32
	pageSize uint32
	unlocked bool
	pages    int
	log      *slog.Logger
}

// OpenFlash opens or creates the backing file at path for geometry g.
// A new or short regular file is extended with erased (0xFF) bytes, and
// a new one gets the bootloader's .version section.
func OpenFlash(path string, g boot.Geometry, log *slog.Logger) (*Flash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash: %w", err)
	}
	size := int64(g.FlashSize)
	fresh, err := ensureErased(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	mem, err := mapFile(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map flash: %w", err)
	}
	fl := &Flash{
		f:        f,
		mem:      mem,
		base:     g.FlashBase,
		protect:  g.FirmwareAddress(),
		pageSize: g.PageSize,
		log:      logger(log, "flash"),
	}
	if fresh && boot.StampVersion(mem[:g.BootloaderSize], boot.Version) {
		if err := syncMap(f, mem); err != nil {
			fl.log.Warn("stamp bootloader version", "error", err)
		}
	}
	fl.log.Debug("flash mapped", "path", path, "size", size, "base", fmt.Sprintf("0x%08X", g.FlashBase))
	return fl, nil
}

// ensureErased grows f to size, filling the new tail with 0xFF. It
// reports whether f was empty.
func ensureErased(f *os.File, size int64) (bool, error) {
	cur, err := DeviceSize(f)
	if err != nil {
		return false, fmt.Errorf("flash size: %w", err)
	}
	if cur >= size {
		return false, nil
	}
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() {
		return false, fmt.Errorf("flash device too small: has %d, need %d", cur, size)
	}
	erased := bytes.Repeat([]byte{0xFF}, int(size-cur))
	if _, err := f.WriteAt(erased, cur); err != nil {
		return false, fmt.Errorf("erase flash: %w", err)
	}
	return cur == 0, nil
}

// Unlock implements boot.FlashDriver.
func (fl *Flash) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.unlocked = true
	fl.log.Debug("unlocked")
}

// Lock implements boot.FlashDriver. Locking flushes the mapping.
func (fl *Flash) Lock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.unlocked = false
	if fl.mem != nil {
		if err := syncMap(fl.f, fl.mem); err != nil {
			fl.log.Warn("sync failed", "error", err)
		}
	}
	fl.log.Debug("locked", "pages", fl.pages)
}

// Unlocked reports whether the flash controller accepts writes.
func (fl *Flash) Unlocked() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.unlocked
}

// WritePage implements boot.FlashDriver.
func (fl *Flash) WritePage(addr uint32, page []byte) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	switch {
	case fl.mem == nil:
		return os.ErrClosed
	case !fl.unlocked:
		return boot.ErrFlashLocked
	case addr < fl.protect:
		return fmt.Errorf("0x%08X: %w", addr, ErrProtected)
	case uint64(addr-fl.base)+uint64(len(page)) > uint64(len(fl.mem)):
		return fmt.Errorf("0x%08X+%d: %w", addr, len(page), boot.ErrCapacity)
	}
	copy(fl.mem[addr-fl.base:], page)
	fl.pages++
	return nil
}

// Pages returns the number of pages written since open.
func (fl *Flash) Pages() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.pages
}

// ReadAt reads flash contents at an offset from the flash base.
func (fl *Flash) ReadAt(p []byte, off int64) (int, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.mem == nil {
		return 0, os.ErrClosed
	}
	if off < 0 || off >= int64(len(fl.mem)) {
		return 0, io.EOF
	}
	n := copy(p, fl.mem[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// CRC32 returns the checksum of n bytes starting at the absolute
// address addr.
func (fl *Flash) CRC32(addr, n uint32) (uint32, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if addr < fl.base || uint64(addr-fl.base)+uint64(n) > uint64(len(fl.mem)) {
		return 0, fmt.Errorf("crc 0x%08X+%d: %w", addr, n, boot.ErrCapacity)
	}
	_, crc := xcrc32.NewCRC32(fl.mem[addr-fl.base : addr-fl.base+n])
	return crc, nil
}

// BootloaderVersion returns the version stamped in the bootloader region.
func (fl *Flash) BootloaderVersion() (string, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.mem == nil {
		return "", false
	}
	return boot.FindVersion(fl.mem[:fl.protect-fl.base])
}

// Close flushes and unmaps the backing file.
func (fl *Flash) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.mem == nil {
		return nil
	}
	err := errors.Join(syncMap(fl.f, fl.mem), unmapFile(fl.mem), fl.f.Close())
	fl.mem = nil
	return err
}
