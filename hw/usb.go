package hw

import (
	"log/slog"
	"sync"
)

// USB simulates the cable detect line and the mass-storage pass-through.
// It implements boot.USBDriver.
type USB struct {
	mu       sync.Mutex
	plugged  bool
	running  bool
	sessions int
	log      *slog.Logger
}

// NewUSB returns an unplugged cable.
func NewUSB(log *slog.Logger) *USB {
	return &USB{log: logger(log, "usb")}
}

// SetPlugged sets the cable detect line.
func (u *USB) SetPlugged(p bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.plugged != p {
		u.log.Info("cable", "plugged", p)
	}
	u.plugged = p
}

// Toggle plugs or unplugs the cable.
func (u *USB) Toggle() {
	u.mu.Lock()
	p := !u.plugged
	u.mu.Unlock()
	u.SetPlugged(p)
}

// Plugged implements boot.USBDriver.
func (u *USB) Plugged() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.plugged
}

// Start implements boot.USBDriver.
func (u *USB) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = true
	u.sessions++
	u.log.Info("mass storage started")
}

// Stop implements boot.USBDriver.
func (u *USB) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
	u.log.Info("mass storage stopped")
}

// NotifyPluggedIn implements boot.USBDriver.
func (u *USB) NotifyPluggedIn() {
	u.log.Debug("host notified")
}

// Running reports whether the pass-through is active.
func (u *USB) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Sessions returns how many times the pass-through was started.
func (u *USB) Sessions() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions
}
