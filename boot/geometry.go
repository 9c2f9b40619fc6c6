package boot

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// BlockLen is the size of one image block read from storage.
const BlockLen = 4096

// FlashBase is the address program flash is mapped at.
const FlashBase uint32 = 0x08000000

// VersionMarker identifies the bootloader build in its .version section.
var VersionMarker = [6]byte{'B', 'O', 'O', 'T', '1', '0'}

// VersionOffset is where the .version section starts in the bootloader
// region.
const VersionOffset = 0x200

// StampVersion writes VersionMarker, version and a terminating NUL into
// the .version section of region, the bootloader region of flash. It
// reports false when region is too small.
func StampVersion(region []byte, version string) bool {
	end := VersionOffset + len(VersionMarker) + len(version) + 1
	if len(region) < end {
		return false
	}
	n := copy(region[VersionOffset:], VersionMarker[:])
	n += copy(region[VersionOffset+n:], version)
	region[VersionOffset+n] = 0
	return true
}

// FindVersion searches region for VersionMarker and returns the version
// text stored after it.
func FindVersion(region []byte) (string, bool) {
	i := bytes.Index(region, VersionMarker[:])
	if i < 0 {
		return "", false
	}
	rest := region[i+len(VersionMarker):]
	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[:j]
	} else {
		return "", false
	}
	return string(rest), true
}

// Geometry describes the destination memories of a board.
type Geometry struct {
	Name           string
	FlashBase      uint32
	FlashSize      uint32
	BootloaderSize uint32
	PageSize       uint32
	EepromSize     uint32
	BlockSize      uint32
}

// Board presets.
var (
	BoardX9D = Geometry{
		Name:           "x9d",
		FlashBase:      FlashBase,
		FlashSize:      512 * 1024,
		BootloaderSize: 32 * 1024,
		PageSize:       256,
		EepromSize:     32 * 1024,
		BlockSize:      BlockLen,
	}
	BoardX9DPlus = Geometry{
		Name:           "x9d+",
		FlashBase:      FlashBase,
		FlashSize:      512 * 1024,
		BootloaderSize: 32 * 1024,
		PageSize:       256,
		EepromSize:     32 * 1024,
		BlockSize:      BlockLen,
	}
	BoardX7 = Geometry{
		Name:           "x7",
		FlashBase:      FlashBase,
		FlashSize:      512 * 1024,
		BootloaderSize: 32 * 1024,
		PageSize:       256,
		EepromSize:     32 * 1024,
		BlockSize:      BlockLen,
	}
	BoardX9E = Geometry{
		Name:           "x9e",
		FlashBase:      FlashBase,
		FlashSize:      1024 * 1024,
		BootloaderSize: 32 * 1024,
		PageSize:       256,
		EepromSize:     64 * 1024,
		BlockSize:      BlockLen,
	}
)

// Boards lists the known presets by name.
func Boards() []Geometry {
	return []Geometry{BoardX9D, BoardX9DPlus, BoardX7, BoardX9E}
}

// LookupBoard returns the preset with the given (case-insensitive) name.
func LookupBoard(name string) (Geometry, error) {
	for _, g := range Boards() {
		if strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	return Geometry{}, fmt.Errorf("unknown board %q", name)
}

// FirmwareAddress is the first flash address an image is written to.
func (g Geometry) FirmwareAddress() uint32 {
	return g.FlashBase + g.BootloaderSize
}

// Capacity is the backstop for the given target. It is zero when the
// bootloader region does not fit in flash.
func (g Geometry) Capacity(t Target) uint32 {
	if t == TargetEeprom {
		return g.EepromSize
	}
	if g.BootloaderSize >= g.FlashSize {
		return 0
	}
	return g.FlashSize - g.BootloaderSize
}

// Validate rejects geometries the programmer cannot drive.
func (g Geometry) Validate() error {
	var errs []error
	if g.BlockSize == 0 {
		errs = append(errs, errors.New("block size is zero"))
	}
	if g.PageSize == 0 {
		errs = append(errs, errors.New("page size is zero"))
	} else if g.BlockSize%g.PageSize != 0 {
		errs = append(errs, fmt.Errorf("block size %d is not a multiple of page size %d", g.BlockSize, g.PageSize))
	}
	if g.BootloaderSize >= g.FlashSize {
		errs = append(errs, fmt.Errorf("bootloader region %d does not fit in flash %d", g.BootloaderSize, g.FlashSize))
	} else if g.PageSize != 0 && (g.FlashSize-g.BootloaderSize)%g.PageSize != 0 {
		errs = append(errs, fmt.Errorf("firmware region %d is not a multiple of page size %d", g.FlashSize-g.BootloaderSize, g.PageSize))
	}
	if g.EepromSize == 0 {
		errs = append(errs, errors.New("eeprom size is zero"))
	}
	return errors.Join(errs...)
}
