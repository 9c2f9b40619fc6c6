package lcd

import (
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"otxboot/boot"
)

// Hold durations of an emulated key press. Terminals report presses but
// not releases, so a press keeps its line active for a while.
const (
	TapHold  = 80 * time.Millisecond
	LongHold = 600 * time.Millisecond
)

// Legend describes the default key bindings.
var Legend = []string{
	"↑/k ↓/j  up/down        ←/→  rotary      Enter/e  ENTER   E  hold ENTER",
	"Esc/x    EXIT           X  hold EXIT     m  MENU          Tab  PAGE",
	"u  plug/unplug USB      o  power button  q  quit",
}

// Keyboard turns terminal key presses into sampled key lines.
type Keyboard struct {
	mu      sync.Mutex
	until   [boot.NumKeys]time.Time
	rotary  int32
	actions map[rune]func()
	now     func() time.Time
}

// NewKeyboard returns a keyboard with the default bindings.
func NewKeyboard() *Keyboard {
	return &Keyboard{
		actions: make(map[rune]func()),
		now:     time.Now,
	}
}

// Bind runs fn when r is typed. It is used for the simulated USB cable
// and power button.
func (k *Keyboard) Bind(r rune, fn func()) {
	k.mu.Lock()
	k.actions[r] = fn
	k.mu.Unlock()
}

func (k *Keyboard) press(key boot.Key, d time.Duration) {
	until := k.now().Add(d)
	if until.After(k.until[key]) {
		k.until[key] = until
	}
}

// HandleKey applies one terminal key event.
func (k *Keyboard) HandleKey(ev *tcell.EventKey) {
	k.mu.Lock()
	var action func()
	switch ev.Key() {
	case tcell.KeyUp:
		k.press(boot.KeyUp, TapHold)
	case tcell.KeyDown:
		k.press(boot.KeyDown, TapHold)
	case tcell.KeyLeft:
		k.rotary -= 2
	case tcell.KeyRight:
		k.rotary += 2
	case tcell.KeyEnter:
		k.press(boot.KeyEnter, TapHold)
	case tcell.KeyEscape, tcell.KeyBackspace, tcell.KeyBackspace2:
		k.press(boot.KeyExit, TapHold)
	case tcell.KeyTab:
		k.press(boot.KeyPage, TapHold)
	case tcell.KeyRune:
		switch r := ev.Rune(); r {
		case 'k':
			k.press(boot.KeyUp, TapHold)
		case 'j':
			k.press(boot.KeyDown, TapHold)
		case 'e':
			k.press(boot.KeyEnter, TapHold)
		case 'E':
			k.press(boot.KeyEnter, LongHold)
		case 'x':
			k.press(boot.KeyExit, TapHold)
		case 'X':
			k.press(boot.KeyExit, LongHold)
		case 'm':
			k.press(boot.KeyMenu, TapHold)
		default:
			action = k.actions[r]
		}
	}
	k.mu.Unlock()
	if action != nil {
		action()
	}
}

// Sample implements boot.KeySampler.
func (k *Keyboard) Sample() boot.RawInput {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	in := boot.RawInput{Rotary: k.rotary}
	for key := boot.Key(0); key < boot.NumKeys; key++ {
		if now.Before(k.until[key]) {
			in = in.Press(key)
		}
	}
	return in
}
