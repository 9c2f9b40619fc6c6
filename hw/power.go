package hw

import (
	"log/slog"
	"sync"
	"time"
)

// PressHold is how long a simulated power button press stays active.
const PressHold = 200 * time.Millisecond

// Power simulates the soft power switch and the system reset line.
// It implements boot.PowerDriver.
type Power struct {
	mu      sync.Mutex
	until   time.Time
	off     bool
	resets  int
	onOff   func()
	onReset func()
	now     func() time.Time
	log     *slog.Logger
}

// NewPower returns a power switch. onOff and onReset run when the
// bootloader cuts power or resets the system; either may be nil.
func NewPower(onOff, onReset func(), log *slog.Logger) *Power {
	return &Power{onOff: onOff, onReset: onReset, now: time.Now, log: logger(log, "power")}
}

// Press presses the power button for PressHold.
func (p *Power) Press() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until = p.now().Add(PressHold)
}

// OffPressed implements boot.PowerDriver.
func (p *Power) OffPressed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Before(p.until)
}

// Off implements boot.PowerDriver.
func (p *Power) Off() {
	p.mu.Lock()
	p.off = true
	fn := p.onOff
	p.mu.Unlock()
	p.log.Info("power off")
	if fn != nil {
		fn()
	}
}

// Reset implements boot.PowerDriver.
func (p *Power) Reset() {
	p.mu.Lock()
	p.resets++
	fn := p.onReset
	p.mu.Unlock()
	p.log.Info("system reset")
	if fn != nil {
		fn()
	}
}

// IsOff reports whether power was cut.
func (p *Power) IsOff() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.off
}

// Resets returns the number of system resets.
func (p *Power) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}
