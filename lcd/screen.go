// Package lcd provides a terminal stand-in for the radio's character LCD
// and keypad. Screen implements boot.Display and Keyboard implements
// boot.KeySampler.
package lcd

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"

	"otxboot/boot"
)

// ErrInterrupted is returned when the user requests to stop the simulator.
var ErrInterrupted = errors.New("interrupted")

// Position of the LCD panel inside the terminal. Row 0 is the title bar
// and the panel is framed by a one-cell border.
const (
	panelX = 2
	panelY = 2
)

type cell struct {
	r   rune
	inv bool
}

// Screen draws the LCD into a tcell screen. Drawing calls only touch a
// back buffer; Refresh copies it to the terminal.
type Screen struct {
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once
	keys     *Keyboard

	mu     sync.Mutex
	cells  [boot.DisplayRows][boot.DisplayCols]cell
	off    bool
	title  string
	legend []string
	status []string
}

// New initialises the terminal and starts the input loop. Key presses are
// forwarded to keys, which may be nil.
func New(keys *Keyboard) (*Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewWithScreen(s, keys)
}

// NewWithScreen is New on an existing, uninitialised tcell screen.
func NewWithScreen(s tcell.Screen, keys *Keyboard) (*Screen, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	sc := &Screen{
		s:        s,
		stopChan: make(chan struct{}),
		keys:     keys,
		title:    " otxboot simulator ",
	}
	sc.Clear()
	go sc.eventLoop()
	return sc, nil
}

// Close restores the terminal.
func (sc *Screen) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.s == nil {
		return
	}
	sc.RequestStop()
	sc.s.Fini()
	sc.s = nil
	fmt.Print("\033[?1049l\033[?25h")
}

// RequestStop signals that the user asked to quit. It can be called
// multiple times.
func (sc *Screen) RequestStop() {
	sc.once.Do(func() {
		close(sc.stopChan)
		if sc.s != nil {
			_ = sc.s.PostEvent(tcell.NewEventInterrupt(nil))
		}
	})
}

// Done is closed once a stop was requested.
func (sc *Screen) Done() <-chan struct{} {
	return sc.stopChan
}

// IsStopped reports whether a stop was requested.
func (sc *Screen) IsStopped() bool {
	select {
	case <-sc.stopChan:
		return true
	default:
		return false
	}
}

// SetTitle sets the text centred in the top bar.
func (sc *Screen) SetTitle(t string) {
	sc.mu.Lock()
	sc.title = t
	sc.mu.Unlock()
}

// SetLegend sets the key help drawn below the panel.
func (sc *Screen) SetLegend(lines []string) {
	sc.mu.Lock()
	sc.legend = append([]string(nil), lines...)
	sc.mu.Unlock()
}

// SetStatusLines sets the lines of the status block.
func (sc *Screen) SetStatusLines(lines []string) {
	sc.mu.Lock()
	sc.status = append([]string(nil), lines...)
	sc.mu.Unlock()
}

// Clear blanks the back buffer.
func (sc *Screen) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for y := range sc.cells {
		for x := range sc.cells[y] {
			sc.cells[y][x] = cell{r: ' '}
		}
	}
}

func (sc *Screen) set(x, y int, r rune, inv bool) {
	if x < 0 || y < 0 || x >= boot.DisplayCols || y >= boot.DisplayRows {
		return
	}
	sc.cells[y][x] = cell{r: r, inv: inv}
}

// DrawText implements boot.Display.
func (sc *Screen) DrawText(x, y int, s string, style boot.Style) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i, r := range []rune(s) {
		sc.set(x+i, y, r, style&boot.StyleInverse != 0)
	}
}

// DrawRect implements boot.Display. A filled rectangle is drawn as solid
// blocks; an outline of height one as brackets.
func (sc *Screen) DrawRect(x, y, w, h int, style boot.Style) {
	if w <= 0 || h <= 0 {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if style&boot.StyleFill != 0 {
		for j := y; j < y+h; j++ {
			for i := x; i < x+w; i++ {
				sc.set(i, j, '█', false)
			}
		}
		return
	}
	if h == 1 {
		sc.set(x, y, '[', false)
		sc.set(x+w-1, y, ']', false)
		return
	}
	for i := x + 1; i < x+w-1; i++ {
		sc.set(i, y, '─', false)
		sc.set(i, y+h-1, '─', false)
	}
	for j := y + 1; j < y+h-1; j++ {
		sc.set(x, j, '│', false)
		sc.set(x+w-1, j, '│', false)
	}
	sc.set(x, y, '┌', false)
	sc.set(x+w-1, y, '┐', false)
	sc.set(x, y+h-1, '└', false)
	sc.set(x+w-1, y+h-1, '┘', false)
}

// InvertLine implements boot.Display.
func (sc *Screen) InvertLine(row int) {
	if row < 0 || row >= boot.DisplayRows {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for x := range sc.cells[row] {
		sc.cells[row][x].inv = !sc.cells[row][x].inv
	}
}

// Refresh implements boot.Display.
func (sc *Screen) Refresh() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.off = false
	sc.layoutAndDraw()
}

// Off implements boot.Display.
func (sc *Screen) Off() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.off = true
	sc.layoutAndDraw()
}

// Row returns the text of one panel row as last drawn.
func (sc *Screen) Row(y int) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if y < 0 || y >= boot.DisplayRows {
		return ""
	}
	var b strings.Builder
	for _, c := range sc.cells[y] {
		b.WriteRune(c.r)
	}
	return b.String()
}

func putStr(s tcell.Screen, x, y int, str string, st tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		if x+i >= w {
			break
		}
		s.SetContent(x+i, y, r, nil, st)
	}
}

// layoutAndDraw redraws the whole terminal. sc.mu must be held.
func (sc *Screen) layoutAndDraw() {
	if sc.s == nil {
		return
	}
	sc.s.Clear()
	w, h := sc.s.Size()
	def := tcell.StyleDefault

	putStr(sc.s, 0, 0, strings.Repeat("═", w), def)
	putStr(sc.s, max((w-len(sc.title))/2, 0), 0, sc.title, def)

	bw := boot.DisplayCols + 2
	putStr(sc.s, panelX-1, panelY-1, "┌"+strings.Repeat("─", bw-2)+"┐", def)
	for y := 0; y < boot.DisplayRows; y++ {
		putStr(sc.s, panelX-1, panelY+y, "│", def)
		for x, c := range sc.cells[y] {
			st, r := def, c.r
			if sc.off {
				r = ' '
			} else if c.inv {
				st = def.Reverse(true)
			}
			sc.s.SetContent(panelX+x, panelY+y, r, nil, st)
		}
		putStr(sc.s, panelX+boot.DisplayCols, panelY+y, "│", def)
	}
	putStr(sc.s, panelX-1, panelY+boot.DisplayRows, "└"+strings.Repeat("─", bw-2)+"┘", def)

	y := panelY + boot.DisplayRows + 2
	for _, line := range sc.legend {
		if y >= h {
			break
		}
		putStr(sc.s, 0, y, line, def)
		y++
	}
	if len(sc.status) > 0 && y < h {
		putStr(sc.s, 0, y, strings.Repeat("─", w), def)
		putStr(sc.s, 2, y, " Status ", def)
		y++
		for _, line := range sc.status {
			if y >= h {
				break
			}
			putStr(sc.s, 0, y, line, def)
			y++
		}
	}
	sc.s.Show()
}

func (sc *Screen) eventLoop() {
	for {
		select {
		case <-sc.stopChan:
			return
		default:
		}
		sc.mu.Lock()
		s := sc.s
		sc.mu.Unlock()
		if s == nil {
			return
		}
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC:
				sc.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				sc.RequestStop()
			case sc.keys != nil:
				sc.keys.HandleKey(ev)
			}
		case *tcell.EventResize:
			s.Sync()
			sc.mu.Lock()
			sc.layoutAndDraw()
			sc.mu.Unlock()
		case *tcell.EventInterrupt:
			return
		case nil:
			return
		}
	}
}
