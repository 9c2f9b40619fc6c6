package boot

import (
	"context"
	"time"
)

// TickPeriod is the scheduling quantum of the main loop.
const TickPeriod = 10 * time.Millisecond

// Loop drives a Controller from a periodic tick. The tick goroutine only
// samples the keys and flags a pending tick; all state machine work runs
// on the goroutine calling Run.
type Loop struct {
	ctrl     *Controller
	src      *Source
	sampler  KeySampler
	watchdog Watchdog
	period   time.Duration
}

// NewLoop returns a loop sampling keys from sampler with DefaultTiming.
// watchdog may be nil.
func NewLoop(ctrl *Controller, sampler KeySampler, watchdog Watchdog) *Loop {
	src := NewSource(DefaultTiming)
	ctrl.SetKeys(src)
	return &Loop{
		ctrl:     ctrl,
		src:      src,
		sampler:  sampler,
		watchdog: watchdog,
		period:   TickPeriod,
	}
}

// Source returns the loop's event source.
func (l *Loop) Source() *Source {
	return l.src
}

// Tick samples the keys and runs one controller step synchronously.
func (l *Loop) Tick() State {
	l.src.Sample(l.sampler.Sample())
	return l.ctrl.Step(l.src.Next())
}

// Run ticks until ctx is done or the controller resets or powers off the
// device, which are reported as ErrReset and ErrPowerOff.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan struct{}, 1)
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.src.Sample(l.sampler.Sample())
				select {
				case pending <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		if l.watchdog != nil {
			l.watchdog.Kick()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pending:
			l.ctrl.Step(l.src.Next())
			switch {
			case l.ctrl.ResetRequested():
				return ErrReset
			case l.ctrl.PoweredOff():
				return ErrPowerOff
			}
		}
	}
}
