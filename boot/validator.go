package boot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Signature recognises the leading block of an image. The check is
// structural only; a crafted file with a plausible header passes.
type Signature interface {
	Check(block []byte) bool
}

// SignatureFunc adapts a function to Signature.
type SignatureFunc func(block []byte) bool

// Check calls f.
func (f SignatureFunc) Check(block []byte) bool { return f(block) }

// VectorTable recognises a Cortex-M vector table: the initial stack
// pointer lies in CCM or SRAM and the reset and NMI vectors point into
// the flash bank at FlashBase.
type VectorTable struct {
	FlashBase uint32
}

// Check implements Signature.
func (v VectorTable) Check(block []byte) bool {
	if len(block) < 12 {
		return false
	}
	base := v.FlashBase
	if base == 0 {
		base = FlashBase
	}
	sp := binary.LittleEndian.Uint32(block[0:])
	if r := sp & 0xFFFC0000; r != 0x10000000 && r != 0x20000000 {
		return false
	}
	for _, off := range []int{4, 8} {
		if binary.LittleEndian.Uint32(block[off:])&0xFFF00000 != base&0xFFF00000 {
			return false
		}
	}
	return true
}

// EepromMark opens an EEPROM image saved by the radio firmware.
const EepromMark uint32 = 0x84697771

// EepromHeader recognises an EEPROM image: either the EepromMark word, or
// a known layout version followed by the RLC block size.
type EepromHeader struct {
	Mark     uint32
	Versions []byte
}

var defaultEepromVersions = []byte{216, 217, 218, 219}

const rlcBlockSize = 0x80

// Check implements Signature.
func (e EepromHeader) Check(block []byte) bool {
	if len(block) < 4 {
		return false
	}
	mark := e.Mark
	if mark == 0 {
		mark = EepromMark
	}
	if binary.LittleEndian.Uint32(block) == mark {
		return true
	}
	versions := e.Versions
	if versions == nil {
		versions = defaultEepromVersions
	}
	for _, v := range versions {
		if block[0] == v && block[1] == rlcBlockSize {
			return true
		}
	}
	return false
}

// Image is an opened, validated image positioned after its first block.
type Image struct {
	Target Target
	Path   string
	Size   int64 // -1 when unknown

	f     fs.File
	block []byte
	n     int
}

// Block returns the bytes of the block read last.
func (img *Image) Block() []byte {
	return img.block[:img.n]
}

// Next reads the following block into the reusable buffer and returns
// its length. Zero means end of file.
func (img *Image) Next() (int, error) {
	n, err := io.ReadFull(img.f, img.block)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	img.n = n
	if err != nil {
		return n, fmt.Errorf("read %s: %w", img.Path, err)
	}
	return n, nil
}

// Close closes the underlying file.
func (img *Image) Close() error {
	if img.f == nil {
		return nil
	}
	err := img.f.Close()
	img.f = nil
	return err
}

// Validator opens candidate images and checks their leading block.
type Validator struct {
	fsys     fs.FS
	geometry Geometry
	sigs     [2]Signature
	buf      []byte
	log      Logger
	lastErr  error
}

// NewValidator returns a validator reading from fsys.
func NewValidator(fsys fs.FS, g Geometry, flash, eeprom Signature, log Logger) *Validator {
	if log == nil {
		log = nopLogger{}
	}
	bs := g.BlockSize
	if bs == 0 {
		bs = BlockLen
	}
	return &Validator{
		fsys:     fsys,
		geometry: g,
		sigs:     [2]Signature{TargetFlash: flash, TargetEeprom: eeprom},
		buf:      make([]byte, bs),
		log:      log,
	}
}

// LastErr returns the reason of the last Invalid result, or nil.
func (v *Validator) LastErr() error {
	return v.lastErr
}

// Open opens the image at name, skips the bootloader region for flash
// targets and reads and checks the first block. The returned image reuses
// the validator's block buffer and must be closed by the caller.
func (v *Validator) Open(t Target, name string) (*Image, error) {
	if v.fsys == nil {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	f, err := v.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	img := &Image{Target: t, Path: name, Size: -1, f: f, block: v.buf}
	if fi, err := f.Stat(); err == nil {
		img.Size = fi.Size()
	}
	if err := v.prime(img); err != nil {
		_ = f.Close()
		return nil, err
	}
	return img, nil
}

func (v *Validator) prime(img *Image) error {
	if img.Target == TargetFlash && v.geometry.BootloaderSize > 0 {
		skip := int64(v.geometry.BootloaderSize)
		if img.Size >= 0 && img.Size < skip {
			return fmt.Errorf("%s: %w (%d bytes)", img.Path, ErrImageTooShort, img.Size)
		}
		if s, ok := img.f.(io.Seeker); ok {
			if _, err := s.Seek(skip, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", img.Path, err)
			}
		} else if n, err := io.CopyN(io.Discard, img.f, skip); n < skip {
			if err == nil || errors.Is(err, io.EOF) {
				err = ErrImageTooShort
			}
			return fmt.Errorf("skip bootloader in %s: %w", img.Path, err)
		}
	}
	n, err := io.ReadFull(img.f, img.block)
	img.n = n
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w (%d bytes)", img.Path, ErrImageTooShort, n)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", img.Path, err)
	}
	sig := v.sigs[TargetFlash]
	if img.Target == TargetEeprom {
		sig = v.sigs[TargetEeprom]
	}
	if sig == nil || !sig.Check(img.block) {
		return fmt.Errorf("%s: %w", img.Path, ErrBadSignature)
	}
	return nil
}

// Validate opens, checks and closes the image at name.
func (v *Validator) Validate(t Target, name string) Result {
	img, err := v.Open(t, name)
	if err == nil {
		if err = img.Close(); err != nil {
			err = fmt.Errorf("close %s: %w", name, err)
		}
	}
	v.lastErr = err
	if err != nil {
		v.log.Info("image rejected", "component", "validator", "target", t, "path", name, "error", err)
		return Invalid
	}
	v.log.Debug("image accepted", "component", "validator", "target", t, "path", name)
	return Valid
}
