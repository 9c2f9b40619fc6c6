package boot

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
)

// testGeometry is a small board so transfers finish in a few ticks.
var testGeometry = Geometry{
	Name:           "test",
	FlashBase:      FlashBase,
	FlashSize:      64 * 1024,
	BootloaderSize: 8 * 1024,
	PageSize:       256,
	EepromSize:     16 * 1024,
	BlockSize:      BlockLen,
}

// firmwareImage builds a flash image of size bytes whose payload past the
// bootloader region starts with a plausible vector table.
func firmwareImage(g Geometry, size int) []byte {
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i * 7)
	}
	off := int(g.BootloaderSize)
	if off+12 <= size {
		binary.LittleEndian.PutUint32(img[off:], 0x20020000)
		binary.LittleEndian.PutUint32(img[off+4:], g.FirmwareAddress()+0x201)
		binary.LittleEndian.PutUint32(img[off+8:], g.FirmwareAddress()+0x301)
	}
	return img
}

func eepromImage(size int) []byte {
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i * 3)
	}
	binary.LittleEndian.PutUint32(img, EepromMark)
	return img
}

type recDisplay struct {
	rows     [DisplayRows]string
	inverted []int
	rects    int
	frames   int
	off      bool
}

func (d *recDisplay) Clear() {
	d.rows = [DisplayRows]string{}
	d.inverted = d.inverted[:0]
	d.rects = 0
}

func (d *recDisplay) DrawText(x, y int, s string, _ Style) {
	if y < 0 || y >= DisplayRows {
		return
	}
	row := []byte(d.rows[y])
	for len(row) < x+len(s) {
		row = append(row, ' ')
	}
	copy(row[x:], s)
	d.rows[y] = string(row)
}

func (d *recDisplay) DrawRect(_, _, _, _ int, _ Style) { d.rects++ }
func (d *recDisplay) InvertLine(row int)               { d.inverted = append(d.inverted, row) }
func (d *recDisplay) Refresh()                         { d.frames++ }
func (d *recDisplay) Off()                             { d.off = true }

func (d *recDisplay) contains(s string) bool {
	for _, r := range d.rows {
		if strings.Contains(r, s) {
			return true
		}
	}
	return false
}

type fakeFlash struct {
	mem      []byte
	base     uint32
	unlocked bool
	unlocks  int
	locks    int
	pages    int
	failAt   int
	maxAddr  uint32
}

func newFakeFlash(g Geometry) *fakeFlash {
	mem := make([]byte, g.FlashSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &fakeFlash{mem: mem, base: g.FlashBase, failAt: -1}
}

func (f *fakeFlash) Unlock() { f.unlocked = true; f.unlocks++ }
func (f *fakeFlash) Lock()   { f.unlocked = false; f.locks++ }

func (f *fakeFlash) WritePage(addr uint32, page []byte) error {
	if !f.unlocked {
		return ErrFlashLocked
	}
	if f.failAt >= 0 && f.pages == f.failAt {
		return errors.New("program error")
	}
	off := addr - f.base
	if int(off)+len(page) > len(f.mem) {
		return ErrCapacity
	}
	copy(f.mem[off:], page)
	f.pages++
	f.maxAddr = max(f.maxAddr, addr+uint32(len(page)))
	return nil
}

type fakeEeprom struct {
	mem    []byte
	writes int
	err    error
}

func (e *fakeEeprom) WriteBlock(buf []byte, offset uint32) error {
	if e.err != nil {
		return e.err
	}
	if int(offset)+len(buf) > len(e.mem) {
		return ErrCapacity
	}
	copy(e.mem[offset:], buf)
	e.writes++
	return nil
}

type fakeUSB struct {
	plugged  bool
	started  int
	stopped  int
	notified int
}

func (u *fakeUSB) Start()           { u.started++ }
func (u *fakeUSB) Stop()            { u.stopped++ }
func (u *fakeUSB) Plugged() bool    { return u.plugged }
func (u *fakeUSB) NotifyPluggedIn() { u.notified++ }

type fakePower struct {
	pressed bool
	offs    int
	resets  int
}

func (p *fakePower) OffPressed() bool { return p.pressed }
func (p *fakePower) Off()             { p.offs++ }
func (p *fakePower) Reset()           { p.resets++ }

type fakeKeys struct {
	mu       sync.Mutex
	released bool
}

func (k *fakeKeys) Released() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.released
}

type rig struct {
	t      *testing.T
	ctrl   *Controller
	fsys   fstest.MapFS
	disp   *recDisplay
	flash  *fakeFlash
	eeprom *fakeEeprom
	usb    *fakeUSB
	power  *fakePower
	keys   *fakeKeys
}

func newRig(t *testing.T, g Geometry, fsys fstest.MapFS, opts ...Option) *rig {
	t.Helper()
	r := &rig{
		t:      t,
		fsys:   fsys,
		disp:   &recDisplay{},
		flash:  newFakeFlash(g),
		eeprom: &fakeEeprom{mem: make([]byte, g.EepromSize)},
		usb:    &fakeUSB{},
		power:  &fakePower{},
		keys:   &fakeKeys{released: true},
	}
	opts = append([]Option{WithGeometry(g)}, opts...)
	ctrl, err := New(Drivers{
		Display: r.disp,
		Storage: fsys,
		Flash:   r.flash,
		Eeprom:  r.eeprom,
		USB:     r.usb,
		Power:   r.power,
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	r.ctrl = ctrl
	r.ctrl.SetKeys(r.keys)
	return r
}

func (r *rig) step(ev Event) State {
	return r.ctrl.Step(ev)
}

// click presses and releases a key.
func (r *rig) click(k Key) State {
	r.step(KeyDownEvent(k))
	return r.step(KeyUpEvent(k))
}

func (r *rig) expect(want State) {
	r.t.Helper()
	if got := r.ctrl.State(); got != want {
		r.t.Fatalf("state = %s, want %s", got, want)
	}
}

// flashUntilDone steps an active transfer to completion.
func (r *rig) flashUntilDone(limit int) int {
	r.t.Helper()
	n := 0
	for r.ctrl.State() == StateFlashing {
		if n == limit {
			r.t.Fatalf("transfer did not finish in %d ticks", limit)
		}
		r.step(Event{})
		n++
	}
	return n
}
