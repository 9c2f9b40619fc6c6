package boot

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"
)

// toFileList drives a fresh rig from Start into the file list of target.
func (r *rig) toFileList(target Target) {
	r.t.Helper()
	if target == TargetEeprom {
		r.step(KeyDownEvent(KeyDown))
	}
	r.click(KeyEnter)
	r.expect(StateFileList)
}

// toFlashCheck selects the entry at the cursor and validates it.
func (r *rig) toFlashCheck() {
	r.t.Helper()
	r.click(KeyEnter)
	r.expect(StateFlashCheck)
	r.step(Event{})
}

func TestControllerMenu(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.expect(StateStart)

	r.step(KeyDownEvent(KeyDown))
	if r.ctrl.Cursor() != menuRestoreEeprom {
		t.Fatalf("cursor = %d", r.ctrl.Cursor())
	}
	r.step(KeyDownEvent(KeyUp))
	r.step(KeyDownEvent(KeyUp))
	if r.ctrl.Cursor() != menuExit {
		t.Fatalf("cursor after wrap = %d", r.ctrl.Cursor())
	}
	if len(r.disp.inverted) != 1 || r.disp.inverted[0] != 2+menuExit {
		t.Fatalf("inverted rows = %v", r.disp.inverted)
	}
	if !r.disp.contains("Write Firmware") || !r.disp.contains("Or plug in a USB cable") {
		t.Fatalf("menu not drawn: %q", r.disp.rows)
	}
	if !r.disp.contains("OTX Bootloader") {
		t.Fatalf("title not drawn: %q", r.disp.rows[0])
	}

	// Unrelated keys do nothing.
	for _, k := range []Key{KeyMenu, KeyPage, KeyExit} {
		r.click(k)
		r.expect(StateStart)
	}

	r.click(KeyEnter)
	r.expect(StateReboot)
	r.step(Event{})
	if !r.ctrl.ResetRequested() || r.power.resets != 1 {
		t.Fatal("Exit menu entry did not reset")
	}
}

func TestControllerMenuRepeat(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.step(KeyDownEvent(KeyDown))
	r.step(KeyRepeatEvent(KeyDown))
	if r.ctrl.Cursor() != menuExit {
		t.Fatalf("cursor after repeat(DOWN) = %d, want %d", r.ctrl.Cursor(), menuExit)
	}
	r.step(KeyRepeatEvent(KeyDown))
	if r.ctrl.Cursor() != menuWriteFirmware {
		t.Fatalf("cursor after wrap = %d", r.ctrl.Cursor())
	}
	r.step(KeyRepeatEvent(KeyUp))
	if r.ctrl.Cursor() != menuExit {
		t.Fatalf("cursor after repeat(UP) = %d", r.ctrl.Cursor())
	}
	r.expect(StateStart)
}

func TestControllerMissingDirectory(t *testing.T) {
	fsys := fstest.MapFS{}
	r := newRig(t, testGeometry, fsys)

	r.click(KeyEnter)
	r.expect(StateDirCheck)
	if r.ctrl.Target() != TargetFlash || !r.disp.contains("Directory is missing!") {
		t.Fatalf("target %s, display %q", r.ctrl.Target(), r.disp.rows)
	}
	r.step(Event{})
	r.expect(StateDirCheck)

	// The medium becomes readable while the message is shown.
	fsys["FIRMWARE/a.bin"] = &fstest.MapFile{Data: firmwareImage(testGeometry, 20000)}
	r.step(Event{})
	r.expect(StateFileList)
	if r.ctrl.Window().Count != 1 {
		t.Fatalf("window = %+v", r.ctrl.Window())
	}
}

func TestControllerMissingDirectoryExit(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.step(KeyDownEvent(KeyDown))
	r.click(KeyEnter)
	r.expect(StateDirCheck)
	if r.ctrl.Target() != TargetEeprom || !r.disp.contains("/EEPROMS") {
		t.Fatalf("target %s, display %q", r.ctrl.Target(), r.disp.rows)
	}
	r.click(KeyExit)
	r.expect(StateStart)
	if r.ctrl.Cursor() != 0 {
		t.Fatal("menu selection survived the return to Start")
	}
}

func TestControllerEmptyDirectory(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/readme.txt": &fstest.MapFile{Data: []byte("x")},
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)
	if r.ctrl.Window().Count != 0 || !r.disp.contains("No image files") {
		t.Fatalf("window %+v, display %q", r.ctrl.Window(), r.disp.rows)
	}
	r.click(KeyEnter)
	r.expect(StateFileList)
	r.step(KeyDownEvent(KeyExit))
	r.expect(StateStart)
}

func TestControllerWriteFirmware(t *testing.T) {
	g := BoardX9D
	data := firmwareImage(g, 300000)
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: data},
		"FIRMWARE/b.BIN": &fstest.MapFile{Data: make([]byte, 10)},
	}
	var reports int
	r := newRig(t, g, fsys, WithProgressCallback(func(Progress) { reports++ }))
	r.toFileList(TargetFlash)

	w := r.ctrl.Window()
	if w.Count != 2 || w.Entries[0].Name != "a.bin" || w.Entries[1].Name != "b.BIN" {
		t.Fatalf("window = %+v", w)
	}

	// b.BIN is rejected.
	r.step(KeyDownEvent(KeyDown))
	r.toFlashCheck()
	if r.ctrl.Result() != Invalid || !r.disp.contains("Not a valid firmware file!") {
		t.Fatalf("result %s, display %q", r.ctrl.Result(), r.disp.rows)
	}
	r.step(KeyLongEvent(KeyEnter))
	r.expect(StateFlashCheck)
	r.step(KeyDownEvent(KeyExit))
	r.expect(StateFileList)

	// a.bin is written.
	r.step(KeyDownEvent(KeyUp))
	r.toFlashCheck()
	if r.ctrl.Result() != Valid || !r.disp.contains("Hold [ENT] to start writing") {
		t.Fatalf("result %s, display %q", r.ctrl.Result(), r.disp.rows)
	}
	if r.flash.unlocks != 0 {
		t.Fatal("flash unlocked before confirmation")
	}
	r.step(KeyLongEvent(KeyEnter))
	r.expect(StateFlashing)
	if !r.disp.contains("Writing...") {
		t.Fatalf("display %q", r.disp.rows)
	}
	r.flashUntilDone(200)
	r.expect(StateFlashDone)

	want := uint32(300000 - 32768)
	if p := r.ctrl.Progress(); p.Written != want {
		t.Fatalf("Written = %d, want %d", p.Written, want)
	}
	if !bytes.Equal(r.flash.mem[g.BootloaderSize:g.BootloaderSize+want], data[g.BootloaderSize:]) {
		t.Fatal("flash contents differ from image")
	}
	if r.ctrl.FlashUnlocked() || r.flash.locks != 1 {
		t.Fatalf("flash unlocked=%v locks=%d", r.ctrl.FlashUnlocked(), r.flash.locks)
	}
	if reports == 0 || r.ctrl.Failure() != nil || !r.disp.contains("Writing complete") {
		t.Fatalf("reports %d, failure %v, display %q", reports, r.ctrl.Failure(), r.disp.rows)
	}

	r.click(KeyEnter)
	r.expect(StateStart)
}

func TestControllerRestoreEeprom(t *testing.T) {
	g := testGeometry
	data := eepromImage(6000)
	fsys := fstest.MapFS{"EEPROMS/model.bin": &fstest.MapFile{Data: data}}
	r := newRig(t, g, fsys)
	r.toFileList(TargetEeprom)
	r.toFlashCheck()
	if r.ctrl.Result() != Valid {
		t.Fatalf("result = %s", r.ctrl.Result())
	}
	r.step(KeyLongEvent(KeyEnter))
	r.flashUntilDone(10)
	if !bytes.Equal(r.eeprom.mem[:len(data)], data) {
		t.Fatal("eeprom contents differ from image")
	}
	if r.flash.unlocks != 0 {
		t.Fatal("eeprom restore unlocked flash")
	}
}

func TestControllerImageChangedBeforeConfirm(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 20000)},
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)
	r.toFlashCheck()
	if r.ctrl.Result() != Valid {
		t.Fatalf("result = %s", r.ctrl.Result())
	}
	fsys["FIRMWARE/a.bin"] = &fstest.MapFile{Data: []byte{1, 2, 3}}
	r.step(KeyLongEvent(KeyEnter))
	r.expect(StateFlashCheck)
	if r.ctrl.Result() != Invalid || r.flash.unlocks != 0 {
		t.Fatalf("result %s, unlocks %d", r.ctrl.Result(), r.flash.unlocks)
	}
	r.click(KeyEnter)
	r.expect(StateFileList)
}

func TestControllerWriteFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 30000)},
	}
	r := newRig(t, testGeometry, fsys)
	r.flash.failAt = 5
	r.toFileList(TargetFlash)
	r.toFlashCheck()
	r.step(KeyLongEvent(KeyEnter))
	r.flashUntilDone(10)

	r.expect(StateFlashDone)
	var we *WriteError
	if !errors.As(r.ctrl.Failure(), &we) {
		t.Fatalf("failure = %v", r.ctrl.Failure())
	}
	if r.ctrl.FlashUnlocked() {
		t.Fatal("flash left unlocked after a failed write")
	}
	if !r.disp.contains("Writing failed!") {
		t.Fatalf("display %q", r.disp.rows)
	}
	r.step(KeyDownEvent(KeyExit))
	r.expect(StateStart)
}

func TestControllerWindowShift(t *testing.T) {
	fsys := fstest.MapFS{}
	for i := 0; i < 10; i++ {
		fsys[fmt.Sprintf("FIRMWARE/fw%02d.bin", i)] = &fstest.MapFile{Data: []byte{byte(i)}}
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)

	for i := 0; i < 5; i++ {
		r.step(KeyDownEvent(KeyDown))
	}
	if w := r.ctrl.Window(); w.Base != 0 || r.ctrl.Cursor() != 5 {
		t.Fatalf("base %d cursor %d", w.Base, r.ctrl.Cursor())
	}
	// Held key repeats scroll too.
	for i := 0; i < 10; i++ {
		r.step(KeyRepeatEvent(KeyDown))
	}
	w := r.ctrl.Window()
	if w.Base != 4 || r.ctrl.Cursor() != 5 || w.More() {
		t.Fatalf("base %d cursor %d more %v", w.Base, r.ctrl.Cursor(), w.More())
	}
	if e, _ := w.Entry(r.ctrl.Cursor()); e.Name != "fw09.bin" {
		t.Fatalf("selected %q", e.Name)
	}

	for i := 0; i < 6; i++ {
		r.step(KeyDownEvent(KeyUp))
	}
	if w := r.ctrl.Window(); w.Base != 3 || r.ctrl.Cursor() != 0 {
		t.Fatalf("base %d cursor %d", w.Base, r.ctrl.Cursor())
	}
	for i := 0; i < 5; i++ {
		r.step(KeyDownEvent(KeyUp))
	}
	if w := r.ctrl.Window(); w.Base != 0 || r.ctrl.Cursor() != 0 {
		t.Fatalf("base %d cursor %d", w.Base, r.ctrl.Cursor())
	}
	if len(r.disp.inverted) != 1 || r.disp.inverted[0] != 2 {
		t.Fatalf("inverted rows = %v", r.disp.inverted)
	}
}

func TestControllerUSBPreempts(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 20000)},
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)

	r.usb.plugged = true
	r.step(Event{})
	r.expect(StateUSB)
	if !r.ctrl.FlashUnlocked() || r.usb.started != 1 || r.usb.notified != 1 {
		t.Fatalf("unlocked=%v started=%d notified=%d", r.ctrl.FlashUnlocked(), r.usb.started, r.usb.notified)
	}
	if !r.disp.contains("USB Connected") {
		t.Fatalf("display %q", r.disp.rows)
	}
	r.click(KeyEnter)
	r.expect(StateUSB)

	r.usb.plugged = false
	r.step(Event{})
	r.expect(StateStart)
	if r.ctrl.FlashUnlocked() || r.usb.stopped != 1 {
		t.Fatalf("unlocked=%v stopped=%d", r.ctrl.FlashUnlocked(), r.usb.stopped)
	}
}

func TestControllerUSBWaitsForTransfer(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 30000)},
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)
	r.toFlashCheck()
	r.step(KeyLongEvent(KeyEnter))
	r.expect(StateFlashing)

	r.usb.plugged = true
	r.step(Event{})
	r.expect(StateFlashing)
	// Long EXIT cannot abort a transfer either.
	r.step(KeyLongEvent(KeyExit))
	r.expect(StateFlashing)

	r.flashUntilDone(20)
	r.expect(StateFlashDone)
	if r.usb.started != 0 {
		t.Fatal("usb started during the transfer")
	}
	r.step(Event{})
	r.expect(StateUSB)
}

func TestControllerRebootWaitsForRelease(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.keys.released = false
	r.step(KeyLongEvent(KeyExit))
	r.expect(StateReboot)
	for i := 0; i < 3; i++ {
		r.step(Event{})
	}
	if r.power.resets != 0 {
		t.Fatal("reset while EXIT is held")
	}
	r.keys.released = true
	r.step(Event{})
	if !r.ctrl.ResetRequested() || r.power.resets != 1 {
		t.Fatal("no reset after release")
	}
	frames := r.disp.frames
	r.step(KeyDownEvent(KeyEnter))
	if r.disp.frames != frames || r.power.resets != 1 {
		t.Fatal("controller kept running after reset")
	}

	r.ctrl.Restart()
	r.expect(StateStart)
	if r.ctrl.ResetRequested() {
		t.Fatal("Restart kept the reset flag")
	}
}

func TestControllerRebootFromUSB(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.usb.plugged = true
	r.step(Event{})
	r.expect(StateUSB)

	r.step(KeyLongEvent(KeyExit))
	r.expect(StateReboot)
	if r.usb.stopped != 1 || r.ctrl.FlashUnlocked() {
		t.Fatalf("stopped=%d unlocked=%v", r.usb.stopped, r.ctrl.FlashUnlocked())
	}
	r.usb.plugged = false
	r.step(Event{})
	if !r.ctrl.ResetRequested() {
		t.Fatal("no reset")
	}
}

func TestControllerRebootFromUSBStillPlugged(t *testing.T) {
	r := newRig(t, testGeometry, fstest.MapFS{})
	r.usb.plugged = true
	r.step(Event{})
	r.expect(StateUSB)

	r.step(KeyLongEvent(KeyExit))
	r.expect(StateReboot)
	if r.usb.stopped != 1 {
		t.Fatalf("stopped=%d", r.usb.stopped)
	}
	// The plugged cable takes the device back before the reset runs.
	r.step(Event{})
	r.expect(StateUSB)
	if r.ctrl.ResetRequested() || r.power.resets != 0 {
		t.Fatal("reset while the cable is plugged")
	}
	if r.usb.started != 2 || !r.ctrl.FlashUnlocked() {
		t.Fatalf("started=%d unlocked=%v", r.usb.started, r.ctrl.FlashUnlocked())
	}
}

func TestControllerPowerOff(t *testing.T) {
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 30000)},
	}
	r := newRig(t, testGeometry, fsys)
	r.toFileList(TargetFlash)
	r.toFlashCheck()
	r.step(KeyLongEvent(KeyEnter))
	r.expect(StateFlashing)

	r.power.pressed = true
	r.step(Event{})
	if r.ctrl.PoweredOff() {
		t.Fatal("powered off during a transfer")
	}
	r.flashUntilDone(20)
	r.step(Event{})
	if !r.ctrl.PoweredOff() || r.power.offs != 1 || !r.disp.off {
		t.Fatalf("poweredOff=%v offs=%d displayOff=%v", r.ctrl.PoweredOff(), r.power.offs, r.disp.off)
	}
	if r.ctrl.FlashUnlocked() {
		t.Fatal("flash unlocked at power off")
	}
}

func TestControllerEveryStateHandlesEveryEvent(t *testing.T) {
	events := []Event{{}}
	for kind := EventKeyDown; kind <= EventKeyRepeat; kind++ {
		for k := KeyMenu; k < NumKeys; k++ {
			events = append(events, Event{Kind: kind, Key: k})
		}
	}
	fsys := fstest.MapFS{
		"FIRMWARE/a.bin": &fstest.MapFile{Data: firmwareImage(testGeometry, 20000)},
		"EEPROMS/e.bin":  &fstest.MapFile{Data: eepromImage(5000)},
	}
	for _, s := range States() {
		for _, ev := range events {
			r := newRig(t, testGeometry, fsys)
			r.ctrl.state = s
			got := r.ctrl.Step(ev)
			if got < 0 || got >= numStates {
				t.Fatalf("%s + %s -> %s", s, ev, got)
			}
			if got != StateFlashing && got != StateUSB && r.ctrl.FlashUnlocked() {
				t.Fatalf("%s + %s -> %s left flash unlocked", s, ev, got)
			}
		}
	}
}
