package boot

import (
	"fmt"
	"strings"
)

// Version is the bootloader version shown in the title bar.
const Version = "1.0"

// DefaultTitle is the inverted title bar text.
const DefaultTitle = " OTX Bootloader - " + Version

const indent = "   "

func center(s string) int {
	return max((DisplayCols-len(s))/2, 0)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// HumanSize formats a byte count in whole B, K or M units as the file
// list shows it.
func HumanSize(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%dM", b/(1024*1024))
	}
	if b >= 1024 {
		return fmt.Sprintf("%dK", b/1024)
	}
	return fmt.Sprintf("%dB", b)
}

// render draws the active state. It runs once per tick after the state
// logic.
func (c *Controller) render() {
	d := c.drv.Display
	if d == nil {
		return
	}
	d.Clear()
	title := c.cfg.Title + strings.Repeat(" ", max(DisplayCols-len(c.cfg.Title), 0))
	d.DrawText(0, 0, clip(title, DisplayCols), StyleInverse)

	switch c.state {
	case StateStart:
		d.DrawText(0, 2, indent+"Write Firmware", StyleNormal)
		d.DrawText(0, 3, indent+"Restore EEPROM", StyleNormal)
		d.DrawText(0, 4, indent+"Exit", StyleNormal)
		d.InvertLine(2 + c.menu)
		d.DrawText(0, 7, indent+"Or plug in a USB cable", StyleNormal)

	case StateDirCheck:
		msg := "Directory is missing!"
		if de, ok := c.dirErr.(*DirError); ok && de.Kind == DirUnreadable {
			msg = "Directory is unreadable!"
		}
		d.DrawText(0, 2, indent+msg, StyleNormal)
		d.DrawText(0, 3, indent+"/"+c.cfg.Dirs.For(c.target), StyleNormal)

	case StateFileList:
		c.renderList(d)

	case StateFlashCheck:
		if e, ok := c.selected(); ok {
			d.DrawText(0, 2, indent+clip(e.Name, DisplayCols-len(indent)), StyleNormal)
			d.DrawText(0, 3, indent+HumanSize(e.Size), StyleNormal)
		}
		if c.result == Invalid {
			msg := "Not a valid firmware file!"
			if c.target == TargetEeprom {
				msg = "Not a valid EEPROM file!"
			}
			d.DrawText(1, 4, msg, StyleNormal)
		} else {
			d.DrawText(1, 4, "Hold [ENT] to start writing", StyleNormal)
		}

	case StateFlashing:
		msg := "Writing..."
		d.DrawText(center(msg), 4, msg, StyleNormal)
		c.renderProgress(d)

	case StateFlashDone:
		msg := "Writing complete"
		if c.failure != nil {
			msg = "Writing failed!"
		}
		d.DrawText(center(msg), 4, msg, StyleNormal)
		if c.failure != nil {
			d.DrawText(1, 5, clip(c.failure.Error(), DisplayCols-1), StyleNormal)
		}
		c.renderProgress(d)

	case StateUSB:
		msg := "USB Connected"
		d.DrawText(center(msg), 4, msg, StyleNormal)
	}
	d.Refresh()
}

func (c *Controller) renderList(d Display) {
	rows := c.window.Visible()
	if rows == 0 {
		d.DrawText(0, 2, indent+"No image files", StyleNormal)
		return
	}
	for i := 0; i < rows; i++ {
		e := c.window.Entries[i]
		d.DrawText(1, 2+i, clip(e.Name, DisplayCols-1), StyleNormal)
	}
	d.InvertLine(2 + c.cursor)
}

func (c *Controller) renderProgress(d Display) {
	const x, y = 1, 6
	w := DisplayCols - 2*x
	d.DrawRect(x, y, w, 1, StyleNormal)
	fill := int(c.programmer.Progress().Fraction() * float64(w-2))
	if fill > 0 {
		d.DrawRect(x+1, y, fill, 1, StyleFill)
	}
}
