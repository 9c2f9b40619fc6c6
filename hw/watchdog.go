package hw

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWatchdogTimeout matches the independent watchdog of the radio.
const DefaultWatchdogTimeout = 500 * time.Millisecond

// Watchdog fires expire when it is not kicked within timeout. It
// implements boot.Watchdog.
type Watchdog struct {
	mu      sync.Mutex
	t       *time.Timer
	timeout time.Duration
	fired   int
	log     *slog.Logger
}

// NewWatchdog arms a watchdog. expire runs on its own goroutine.
func NewWatchdog(timeout time.Duration, expire func(), log *slog.Logger) *Watchdog {
	w := &Watchdog{timeout: timeout, log: logger(log, "watchdog")}
	w.t = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		w.fired++
		w.mu.Unlock()
		w.log.Error("watchdog expired", "timeout", timeout)
		if expire != nil {
			expire()
		}
	})
	return w
}

// Kick implements boot.Watchdog.
func (w *Watchdog) Kick() {
	w.t.Reset(w.timeout)
}

// Fired returns how many times the watchdog expired.
func (w *Watchdog) Fired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.t.Stop()
}
