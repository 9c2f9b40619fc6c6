package boot

import "io/fs"

// Display geometry in character cells.
const (
	DisplayCols = 35
	DisplayRows = 8
)

// Style selects how text and rectangles are drawn.
type Style uint8

// Draw styles.
const (
	StyleNormal  Style = 0
	StyleInverse Style = 1 << (iota - 1)
	StyleFill
)

// Display is the character LCD the controller renders into once per tick.
// Coordinates are character cells with (0,0) at the top left.
type Display interface {
	Clear()
	DrawText(x, y int, s string, style Style)
	DrawRect(x, y, w, h int, style Style)
	InvertLine(row int)
	Refresh()
	// Off blanks the panel before power is removed.
	Off()
}

// FlashDriver programs the microcontroller's internal flash.
// Unlock and Lock toggle the flash controller's write protection.
// WritePage writes one page at an absolute address; erasing is the driver's concern.
type FlashDriver interface {
	Unlock()
	Lock()
	WritePage(addr uint32, page []byte) error
}

// EepromDriver writes the settings EEPROM.
type EepromDriver interface {
	WriteBlock(buf []byte, offset uint32) error
}

// USBDriver is the mass-storage pass-through.
type USBDriver interface {
	Start()
	Stop()
	Plugged() bool
	NotifyPluggedIn()
}

// PowerDriver controls the soft power switch and system reset.
type PowerDriver interface {
	OffPressed() bool
	Off()
	Reset()
}

// KeySampler reads the raw key lines and rotary encoder once per tick.
type KeySampler interface {
	Sample() RawInput
}

// Watchdog is kicked on every main loop iteration.
type Watchdog interface {
	Kick()
}

// Drivers bundles the collaborators the controller drives.
// Storage is the root of the removable medium.
type Drivers struct {
	Display Display
	Storage fs.FS
	Flash   FlashDriver
	Eeprom  EepromDriver
	USB     USBDriver
	Power   PowerDriver
}
