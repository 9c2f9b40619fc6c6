package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"otxboot/boot"
	"otxboot/hw"
	"otxboot/lcd"
)

var errWatchdog = errors.New("watchdog expired")

type simOptions struct {
	geometry   boot.Geometry
	sdRoot     string
	dirs       boot.Dirs
	flashPath  string
	eepromPath string
	keysSerial string
	baud       int
	restart    bool
	watchdog   time.Duration
	log        *slog.Logger
}

// transferStats follows the running transfer for the status block.
type transferStats struct {
	mu      sync.Mutex
	start   time.Time
	last    boot.Progress
	running bool
}

func (ts *transferStats) update(p boot.Progress) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.running || p.Path != ts.last.Path || p.Written < ts.last.Written {
		ts.start = time.Now()
		ts.running = true
	}
	ts.last = p
}

func (ts *transferStats) finish() {
	ts.mu.Lock()
	ts.running = false
	ts.mu.Unlock()
}

// line formats written bytes, elapsed time, rate and ETA.
func (ts *transferStats) line() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.start.IsZero() {
		return "Transfer: —"
	}
	p := ts.last
	elapsed := time.Since(ts.start).Truncate(100 * time.Millisecond)
	if !ts.running {
		elapsed = 0
	}
	var rate float64
	if elapsed > 0 {
		rate = float64(p.Written) / elapsed.Seconds()
	}
	eta := "—"
	if rate > 0 && ts.running {
		remain := float64(p.Capacity - min(p.Written, p.Capacity))
		eta = time.Duration(remain / rate * float64(time.Second)).Truncate(time.Second).String()
	}
	return fmt.Sprintf("Written: %s / %s   Elapsed: %s   Rate: %s/s   ETA: %s",
		boot.HumanSize(int64(p.Written)), boot.HumanSize(int64(p.Capacity)), elapsed, boot.HumanSize(int64(rate)), eta)
}

// statusDisplay forwards drawing to the LCD and fills the status block
// below it on every refresh.
type statusDisplay struct {
	*lcd.Screen
	ctrl   *boot.Controller
	usb    *hw.USB
	flash  *hw.Flash
	medium hw.Medium
	stats  *transferStats
	log    *slog.Logger
	prev   boot.State
}

func (d *statusDisplay) Refresh() {
	if d.ctrl != nil {
		d.observe()
		d.SetStatusLines(d.statusLines())
	}
	d.Screen.Refresh()
}

// observe reports state changes the controller does not log itself.
func (d *statusDisplay) observe() {
	s := d.ctrl.State()
	if s == d.prev {
		return
	}
	if d.prev == boot.StateFlashing {
		d.stats.finish()
	}
	d.prev = s
	if s != boot.StateFlashDone {
		return
	}
	p := d.ctrl.Progress()
	if err := d.ctrl.Failure(); err != nil {
		d.log.Error("transfer failed", "path", p.Path, "target", p.Target, "err", err)
		return
	}
	if p.Target != boot.TargetFlash || p.Written == 0 {
		d.log.Info("transfer complete", "path", p.Path, "target", p.Target, "written", p.Written)
		return
	}
	crc, err := d.flash.CRC32(d.ctrl.Config().Geometry.FirmwareAddress(), p.Written)
	if err != nil {
		d.log.Warn("flash checksum", "err", err)
		return
	}
	d.log.Info("transfer complete", "path", p.Path, "target", p.Target, "written", p.Written, "crc32", fmt.Sprintf("0x%08x", crc))
}

func (d *statusDisplay) statusLines() []string {
	usb := "unplugged"
	switch {
	case d.usb.Running():
		usb = "mass storage"
	case d.usb.Plugged():
		usb = "plugged"
	}
	lock := "locked"
	if d.ctrl.FlashUnlocked() {
		lock = "unlocked"
	}
	return []string{
		fmt.Sprintf("State: %-12s Target: %-7s Flash: %-9s USB: %s", d.ctrl.State(), d.ctrl.Target(), lock, usb),
		d.stats.line(),
		"Medium: " + d.medium.String(),
	}
}

// mergedKeys combines the terminal keyboard with an external keypad.
type mergedKeys []boot.KeySampler

func (m mergedKeys) Sample() boot.RawInput {
	var in boot.RawInput
	for _, s := range m {
		r := s.Sample()
		in.Keys |= r.Keys
		in.Rotary += r.Rotary
	}
	return in
}

func runSimulator(opt simOptions) error {
	log := opt.log
	g := opt.geometry

	medium, err := hw.ResolveMedium(opt.sdRoot)
	if err != nil {
		return fmt.Errorf("sd card: %w", err)
	}
	fl, err := hw.OpenFlash(opt.flashPath, g, log)
	if err != nil {
		return err
	}
	defer fl.Close()
	ee, err := hw.OpenEeprom(opt.eepromPath, g.EepromSize, log)
	if err != nil {
		return err
	}
	defer ee.Close()

	kb := lcd.NewKeyboard()
	samplers := mergedKeys{kb}
	if opt.keysSerial != "" {
		sk, err := hw.OpenSerialKeys(opt.keysSerial, opt.baud, log)
		if err != nil {
			return err
		}
		defer sk.Close()
		samplers = append(samplers, sk)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	usb := hw.NewUSB(log)
	power := hw.NewPower(nil, nil, log)
	kb.Bind('u', usb.Toggle)
	kb.Bind('o', power.Press)

	sc, err := lcd.New(kb)
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	defer sc.Close()
	sc.SetTitle(fmt.Sprintf(" otxboot %s | %s | %s ", boot.Version, g.Name, medium.Root))
	sc.SetLegend(lcd.Legend)

	// Setup Ctrl+C handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			sc.RequestStop()
		case <-ctx.Done():
		}
	}()
	go func() {
		select {
		case <-sc.Done():
			cancel(lcd.ErrInterrupted)
		case <-ctx.Done():
		}
	}()

	stats := &transferStats{}
	disp := &statusDisplay{Screen: sc, usb: usb, flash: fl, medium: medium, stats: stats, log: log}
	ctrl, err := boot.New(boot.Drivers{
		Display: disp,
		Storage: os.DirFS(medium.Root),
		Flash:   fl,
		Eeprom:  ee,
		USB:     usb,
		Power:   power,
	},
		boot.WithGeometry(g),
		boot.WithDirs(opt.dirs),
		boot.WithLogger(log),
		boot.WithProgressCallback(stats.update),
	)
	if err != nil {
		return err
	}
	disp.ctrl = ctrl

	var wd boot.Watchdog
	if opt.watchdog > 0 {
		w := hw.NewWatchdog(opt.watchdog, func() { cancel(errWatchdog) }, log)
		defer w.Stop()
		wd = w
	}
	loop := boot.NewLoop(ctrl, samplers, wd)

	if v, ok := fl.BootloaderVersion(); ok {
		log.Info("bootloader region", "version", v)
	} else {
		log.Warn("bootloader region has no version section", "flash", opt.flashPath)
	}
	log.Info("bootloader started", "board", g.Name, "flash", opt.flashPath, "eeprom", opt.eepromPath, "medium", medium.String())
	for {
		err := loop.Run(ctx)
		switch {
		case errors.Is(err, boot.ErrReset):
			if !opt.restart {
				return nil
			}
			log.Info("restarting", "resets", power.Resets())
			ctrl.Restart()
		case errors.Is(err, boot.ErrPowerOff):
			return nil
		case errors.Is(context.Cause(ctx), lcd.ErrInterrupted):
			return nil
		case errors.Is(context.Cause(ctx), errWatchdog):
			return errWatchdog
		default:
			return err
		}
	}
}
