package boot

// FlashLock tracks the write protection of program flash. It is shared by
// the transfer and USB paths and must be unlocked only while one of them
// is active.
type FlashLock struct {
	drv      FlashDriver
	unlocked bool
	log      Logger
}

// NewFlashLock wraps drv, which is assumed locked at reset.
func NewFlashLock(drv FlashDriver, log Logger) *FlashLock {
	if log == nil {
		log = nopLogger{}
	}
	return &FlashLock{drv: drv, log: log}
}

// Unlock unlocks flash if it is locked.
func (l *FlashLock) Unlock() {
	if l.unlocked || l.drv == nil {
		return
	}
	l.drv.Unlock()
	l.unlocked = true
	l.log.Debug("flash unlocked", "component", "flash")
}

// Lock relocks flash if this lock unlocked it.
func (l *FlashLock) Lock() {
	if !l.unlocked {
		return
	}
	l.drv.Lock()
	l.unlocked = false
	l.log.Debug("flash locked", "component", "flash")
}

// Unlocked reports whether flash is currently writable.
func (l *FlashLock) Unlocked() bool {
	return l.unlocked
}

// WritePage writes one page, refusing while locked.
func (l *FlashLock) WritePage(addr uint32, page []byte) error {
	if !l.unlocked {
		return ErrFlashLocked
	}
	return l.drv.WritePage(addr, page)
}
