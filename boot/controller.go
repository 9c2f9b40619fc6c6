package boot

import "fmt"

// Root menu entries.
const (
	menuWriteFirmware = iota
	menuRestoreEeprom
	menuExit

	menuItems
)

// KeyState reports whether all keys are up.
type KeyState interface {
	Released() bool
}

// Controller is the bootloader state machine. It is not safe for
// concurrent use; Step is called from the main loop only.
type Controller struct {
	cfg Config
	drv Drivers
	log Logger

	catalog    *Catalog
	validator  *Validator
	programmer *Programmer
	lock       *FlashLock
	keys       KeyState

	state      State
	target     Target
	menu       int
	window     Window
	cursor     int
	result     Result
	checkErr   error
	dirErr     error
	failure    error
	reset      bool
	poweredOff bool
}

// New creates a Controller in the Start state. It fails when the
// configured geometry does not pass Geometry.Validate.
func New(drv Drivers, opts ...Option) (*Controller, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrGeometry, cfg.Geometry.Name, err)
	}
	log := cfg.Logger
	lock := NewFlashLock(drv.Flash, log)
	c := &Controller{
		cfg:        cfg,
		drv:        drv,
		log:        log,
		catalog:    NewCatalog(drv.Storage, cfg.Dirs, log),
		validator:  NewValidator(drv.Storage, cfg.Geometry, cfg.FlashSignature, cfg.EepromSignature, log),
		programmer: NewProgrammer(cfg.Geometry, lock, drv.Eeprom, log, cfg.ProgressCallback),
		lock:       lock,
	}
	c.resetSession()
	return c, nil
}

// SetKeys attaches the key state consulted before a reboot.
func (c *Controller) SetKeys(k KeyState) {
	c.keys = k
}

// State returns the active state.
func (c *Controller) State() State { return c.state }

// Target returns the memory target of the session.
func (c *Controller) Target() Target { return c.target }

// Window returns the current file list window.
func (c *Controller) Window() Window { return c.window }

// Cursor returns the selected row of the file list or root menu.
func (c *Controller) Cursor() int {
	if c.state == StateStart {
		return c.menu
	}
	return c.cursor
}

// Result returns the cached validation result of the selection.
func (c *Controller) Result() Result { return c.result }

// Progress returns the current or last transfer progress.
func (c *Controller) Progress() Progress { return c.programmer.Progress() }

// Failure returns the error that aborted the last transfer, or nil.
func (c *Controller) Failure() error { return c.failure }

// FlashUnlocked reports whether program flash is writable.
func (c *Controller) FlashUnlocked() bool { return c.lock.Unlocked() }

// ResetRequested reports whether the controller issued a hardware reset.
func (c *Controller) ResetRequested() bool { return c.reset }

// PoweredOff reports whether the power button switched the device off.
func (c *Controller) PoweredOff() bool { return c.poweredOff }

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Step runs one tick with the tick's event, which may be empty, and
// renders the result. It returns the state active after the tick.
func (c *Controller) Step(ev Event) State {
	if c.reset || c.poweredOff {
		return c.state
	}

	if c.state != StateFlashing && c.state != StateUSB && c.usbPlugged() {
		c.enterUSB()
	}

	if ev.Is(EventKeyLong, KeyExit) && c.state != StateFlashing && c.state != StateReboot {
		if c.state == StateUSB {
			c.leaveUSB()
		}
		c.transition(StateReboot)
	} else {
		c.transition(c.handle(ev))
	}

	if c.state != StateFlashing && c.state != StateUSB && c.drv.Power != nil && c.drv.Power.OffPressed() {
		c.powerOff()
	}

	if !c.reset && !c.poweredOff {
		c.render()
	}
	return c.state
}

func (c *Controller) handle(ev Event) State {
	switch c.state {
	case StateStart:
		return c.handleStart(ev)
	case StateFlashMenu, StateRestoreMenu:
		return c.enter(c.state)
	case StateDirCheck:
		return c.handleDirCheck(ev)
	case StateOpenDir:
		return c.openDir()
	case StateFileList:
		return c.handleFileList(ev)
	case StateFlashCheck:
		return c.handleFlashCheck(ev)
	case StateFlashing:
		return c.handleFlashing()
	case StateFlashDone:
		return c.handleFlashDone(ev)
	case StateUSB:
		return c.handleUSB()
	case StateReboot:
		return c.handleReboot()
	default:
		c.log.Error("unknown state", "component", "controller", "state", int(c.state))
		return StateStart
	}
}

// transition moves to next and runs entry actions, following immediate
// transitions until a state settles.
func (c *Controller) transition(next State) {
	for i := 0; next != c.state && i < int(numStates); i++ {
		c.log.Debug("state change", "component", "controller", "from", c.state, "to", next)
		c.state = next
		next = c.enter(next)
	}
}

// enter runs the entry action of s and returns the state to continue to,
// which is s itself when s settles.
func (c *Controller) enter(s State) State {
	switch s {
	case StateStart:
		c.resetSession()
	case StateFlashMenu:
		c.target = TargetFlash
		return StateDirCheck
	case StateRestoreMenu:
		c.target = TargetEeprom
		return StateDirCheck
	case StateDirCheck:
		if c.openCatalog() {
			return StateOpenDir
		}
	case StateOpenDir:
		return c.openDir()
	case StateFlashCheck:
		c.result = Unchecked
		c.checkErr = nil
	case StateFlashDone:
		if err := c.programmer.End(); err != nil && c.failure == nil {
			c.log.Warn("closing image failed", "component", "controller", "error", err)
		}
	}
	return s
}

func (c *Controller) resetSession() {
	c.state = StateStart
	c.menu = 0
	c.window = Window{}
	c.cursor = 0
	c.result = Unchecked
	c.checkErr = nil
	c.dirErr = nil
	c.failure = nil
}

func (c *Controller) handleStart(ev Event) State {
	switch {
	case ev.Nav(KeyDown):
		c.menu = (c.menu + 1) % menuItems
	case ev.Nav(KeyUp):
		c.menu = (c.menu + menuItems - 1) % menuItems
	case ev.Is(EventKeyUp, KeyEnter):
		switch c.menu {
		case menuWriteFirmware:
			return StateFlashMenu
		case menuRestoreEeprom:
			return StateRestoreMenu
		default:
			return StateReboot
		}
	}
	return StateStart
}

func (c *Controller) openCatalog() bool {
	c.dirErr = c.catalog.Open(c.target)
	if c.dirErr != nil {
		c.log.Info("image directory unavailable", "component", "controller", "target", c.target, "error", c.dirErr)
		return false
	}
	return true
}

func (c *Controller) handleDirCheck(ev Event) State {
	if ev.Is(EventKeyUp, KeyExit) || ev.Is(EventKeyUp, KeyEnter) {
		return StateStart
	}
	if c.catalog.Open(c.target) == nil {
		c.dirErr = nil
		return StateOpenDir
	}
	return StateDirCheck
}

func (c *Controller) openDir() State {
	c.refill(0)
	c.cursor = 0
	return StateFileList
}

func (c *Controller) refill(base int) {
	w, err := c.catalog.FillWindow(base)
	if err != nil {
		c.log.Warn("listing failed", "component", "controller", "dir", c.catalog.Dir(), "error", err)
	}
	c.window = w
	if last := max(c.window.Visible()-1, 0); c.cursor > last {
		c.cursor = last
	}
}

func (c *Controller) handleFileList(ev Event) State {
	switch {
	case ev.Nav(KeyDown):
		if c.cursor < c.window.Visible()-1 {
			c.cursor++
		} else if c.window.More() {
			c.refill(c.window.Base + 1)
		}
	case ev.Nav(KeyUp):
		if c.cursor > 0 {
			c.cursor--
		} else if c.window.Base > 0 {
			c.refill(c.window.Base - 1)
		}
	case ev.Is(EventKeyUp, KeyEnter):
		if c.window.Count > 0 {
			return StateFlashCheck
		}
	case ev.Is(EventKeyDown, KeyExit):
		return StateStart
	}
	return StateFileList
}

func (c *Controller) selected() (FileEntry, bool) {
	return c.window.Entry(c.cursor)
}

func (c *Controller) handleFlashCheck(ev Event) State {
	entry, ok := c.selected()
	if !ok {
		return StateFileList
	}
	path := c.catalog.Path(entry.Name)
	if c.result == Unchecked {
		c.result = c.validator.Validate(c.target, path)
		c.checkErr = c.validator.LastErr()
	}

	switch c.result {
	case Invalid:
		if ev.Is(EventKeyUp, KeyExit) || ev.Is(EventKeyUp, KeyEnter) || ev.Is(EventKeyDown, KeyExit) {
			return StateFileList
		}
	case Valid:
		switch {
		case ev.Is(EventKeyLong, KeyEnter):
			img, err := c.validator.Open(c.target, path)
			if err != nil {
				c.log.Warn("image changed before confirm", "component", "controller", "path", path, "error", err)
				c.result = Invalid
				c.checkErr = err
				return StateFlashCheck
			}
			c.failure = nil
			if err := c.programmer.Begin(img); err != nil {
				_ = img.Close()
				c.failure = err
				return StateFlashDone
			}
			return StateFlashing
		case ev.Is(EventKeyDown, KeyExit):
			return StateFileList
		}
	}
	return StateFlashCheck
}

func (c *Controller) handleFlashing() State {
	done, err := c.programmer.Step()
	if err != nil {
		c.failure = err
		c.log.Error("transfer aborted", "component", "controller", "error", err,
			"written", c.programmer.Progress().Written)
		return StateFlashDone
	}
	if done {
		return StateFlashDone
	}
	return StateFlashing
}

func (c *Controller) handleFlashDone(ev Event) State {
	if ev.Is(EventKeyDown, KeyExit) || ev.Is(EventKeyUp, KeyEnter) {
		return StateStart
	}
	return StateFlashDone
}

func (c *Controller) usbPlugged() bool {
	return c.drv.USB != nil && c.drv.USB.Plugged()
}

func (c *Controller) enterUSB() {
	c.log.Info("usb cable plugged", "component", "controller", "from", c.state)
	c.lock.Unlock()
	c.drv.USB.Start()
	c.drv.USB.NotifyPluggedIn()
	c.state = StateUSB
}

func (c *Controller) leaveUSB() {
	c.drv.USB.Stop()
	c.lock.Lock()
}

func (c *Controller) handleUSB() State {
	if c.usbPlugged() {
		return StateUSB
	}
	c.log.Info("usb cable unplugged", "component", "controller")
	c.leaveUSB()
	return StateStart
}

func (c *Controller) handleReboot() State {
	if c.keys != nil && !c.keys.Released() {
		return StateReboot
	}
	c.lock.Lock()
	if c.drv.Display != nil {
		c.drv.Display.Clear()
		c.drv.Display.Refresh()
	}
	c.log.Info("hardware reset", "component", "controller")
	c.reset = true
	if c.drv.Power != nil {
		c.drv.Power.Reset()
	}
	return StateReboot
}

func (c *Controller) powerOff() {
	c.lock.Lock()
	if c.drv.Display != nil {
		c.drv.Display.Off()
	}
	c.log.Info("power off", "component", "controller", "state", c.state)
	c.poweredOff = true
	c.drv.Power.Off()
}

// Restart returns a reset controller to the Start state, as a hardware
// reset would.
func (c *Controller) Restart() {
	_ = c.programmer.End()
	c.reset = false
	c.poweredOff = false
	c.target = TargetFlash
	c.resetSession()
}

func (c *Controller) String() string {
	return fmt.Sprintf("%s target=%s cursor=%d result=%s", c.state, c.target, c.Cursor(), c.result)
}
