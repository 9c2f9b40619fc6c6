package boot

import "fmt"

// Progress describes the running transfer.
type Progress struct {
	Target   Target
	Path     string
	Written  uint32
	Capacity uint32
}

// Fraction returns Written/Capacity in [0,1].
func (p Progress) Fraction() float64 {
	if p.Capacity == 0 {
		return 0
	}
	f := float64(p.Written) / float64(p.Capacity)
	return min(f, 1)
}

// Percent returns the completion percentage.
func (p Progress) Percent() float64 {
	return p.Fraction() * 100
}

// ProgressCallback is called after every programmed block.
// Implementations should return quickly; they run inside a tick.
type ProgressCallback func(Progress)

// Programmer streams a validated image into flash or EEPROM, one block
// per Step.
type Programmer struct {
	geometry Geometry
	lock     *FlashLock
	eeprom   EepromDriver
	log      Logger
	callback ProgressCallback

	img      *Image
	addr     uint32
	progress Progress
	page     []byte
}

// NewProgrammer returns a programmer writing through lock and eeprom.
func NewProgrammer(g Geometry, lock *FlashLock, eeprom EepromDriver, log Logger, cb ProgressCallback) *Programmer {
	if log == nil {
		log = nopLogger{}
	}
	return &Programmer{
		geometry: g,
		lock:     lock,
		eeprom:   eeprom,
		log:      log,
		callback: cb,
		page:     make([]byte, g.PageSize),
	}
}

// Begin starts a transfer of img, whose first block is already loaded.
// It refuses a geometry that does not pass Geometry.Validate; the caller
// keeps ownership of img in that case.
func (p *Programmer) Begin(img *Image) error {
	if err := p.geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrGeometry, err)
	}
	p.img = img
	p.progress = Progress{
		Target:   img.Target,
		Path:     img.Path,
		Capacity: p.geometry.Capacity(img.Target),
	}
	if img.Target == TargetFlash {
		p.addr = p.geometry.FirmwareAddress()
	} else {
		p.addr = 0
	}
	p.log.Info("transfer started", "component", "programmer",
		"target", img.Target, "path", img.Path, "size", img.Size,
		"capacity", p.progress.Capacity, "addr", fmt.Sprintf("0x%08X", p.addr))
	return nil
}

// Active reports whether a transfer is in progress.
func (p *Programmer) Active() bool {
	return p.img != nil
}

// Progress returns the state of the current or last transfer.
func (p *Programmer) Progress() Progress {
	return p.progress
}

// Step writes the pending block and reads the next one. It reports done
// at end of file or when the capacity backstop is reached. Any read or
// write error ends the transfer.
func (p *Programmer) Step() (done bool, err error) {
	if p.img == nil {
		return true, ErrNoTransfer
	}
	block := p.img.Block()
	if room := p.progress.Capacity - p.progress.Written; uint32(len(block)) > room {
		block = block[:room]
	}
	if len(block) > 0 {
		if err := p.write(block); err != nil {
			return true, err
		}
		p.progress.Written += uint32(len(block))
		if p.callback != nil {
			p.callback(p.progress)
		}
	}
	if p.progress.Written >= p.progress.Capacity {
		p.log.Warn("capacity backstop reached", "component", "programmer",
			"written", p.progress.Written, "capacity", p.progress.Capacity)
		return true, nil
	}
	n, err := p.img.Next()
	if err != nil {
		return true, err
	}
	return n == 0, nil
}

func (p *Programmer) write(block []byte) error {
	if p.img.Target == TargetEeprom {
		if p.eeprom == nil {
			return &WriteError{Target: TargetEeprom, Addr: p.addr, Err: ErrNoTransfer}
		}
		if err := p.eeprom.WriteBlock(block, p.addr); err != nil {
			return &WriteError{Target: TargetEeprom, Addr: p.addr, Err: err}
		}
		p.addr += uint32(len(block))
		return nil
	}

	p.lock.Unlock()
	ps := int(p.geometry.PageSize)
	remaining := len(block)
	for off := 0; remaining > 0; off += ps {
		page := block[off:min(off+ps, len(block))]
		if len(page) < ps {
			n := copy(p.page, page)
			for i := n; i < ps; i++ {
				p.page[i] = 0xFF
			}
			page = p.page
		}
		if err := p.lock.WritePage(p.addr, page); err != nil {
			return &WriteError{Target: TargetFlash, Addr: p.addr, Err: err}
		}
		p.addr += uint32(ps)
		remaining = max(remaining-ps, 0)
	}
	return nil
}

// End closes the image and relocks flash. It is safe to call when no
// transfer is active.
func (p *Programmer) End() error {
	p.lock.Lock()
	if p.img == nil {
		return nil
	}
	err := p.img.Close()
	p.img = nil
	p.log.Info("transfer ended", "component", "programmer",
		"written", p.progress.Written, "capacity", p.progress.Capacity)
	return err
}
