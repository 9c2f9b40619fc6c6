package boot

import (
	"errors"
	"fmt"
)

var (
	// ErrImageTooShort is returned when an image holds less than one block.
	ErrImageTooShort = errors.New("image shorter than one block")

	// ErrBadSignature is returned when the leading block is not recognised.
	ErrBadSignature = errors.New("unrecognised image signature")

	// ErrFlashLocked is returned by flash drivers written while locked.
	ErrFlashLocked = errors.New("flash is locked")

	// ErrCapacity is returned when a write would leave the destination region.
	ErrCapacity = errors.New("write exceeds destination capacity")

	// ErrGeometry is returned for a board geometry the programmer cannot drive.
	ErrGeometry = errors.New("invalid geometry")

	// ErrNoTransfer is returned when Step is called without an open image.
	ErrNoTransfer = errors.New("no transfer in progress")

	// ErrReset is returned by Loop.Run after the controller reset the device.
	ErrReset = errors.New("hardware reset requested")

	// ErrPowerOff is returned by Loop.Run after the power button switched the device off.
	ErrPowerOff = errors.New("powered off")
)

// DirErrorKind classifies catalog open failures.
type DirErrorKind int

// Directory error kinds.
const (
	DirMissing DirErrorKind = iota
	DirUnreadable
)

// DirError reports that a target image directory cannot be used.
type DirError struct {
	Kind DirErrorKind
	Dir  string
	Err  error
}

func (e *DirError) Error() string {
	switch e.Kind {
	case DirMissing:
		return fmt.Sprintf("directory %s is missing", e.Dir)
	default:
		return fmt.Sprintf("directory %s is unreadable: %v", e.Dir, e.Err)
	}
}

func (e *DirError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed page or block write during a transfer.
type WriteError struct {
	Target Target
	Addr   uint32
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write at 0x%08X failed: %v", e.Target, e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
