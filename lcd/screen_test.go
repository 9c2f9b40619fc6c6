package lcd

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"otxboot/boot"
)

func newTestScreen(t *testing.T, keys *Keyboard) (*Screen, tcell.SimulationScreen) {
	t.Helper()
	sim := tcell.NewSimulationScreen("UTF-8")
	sc, err := NewWithScreen(sim, keys)
	if err != nil {
		t.Fatal(err)
	}
	sim.SetSize(80, 24)
	t.Cleanup(sc.Close)
	return sc, sim
}

func panelCell(sim tcell.SimulationScreen, x, y int) (rune, bool) {
	r, _, st, _ := sim.GetContent(panelX+x, panelY+y)
	_, _, attr := st.Decompose()
	return r, attr&tcell.AttrReverse != 0
}

func TestScreenDrawAndInvert(t *testing.T) {
	sc, sim := newTestScreen(t, nil)
	sc.Clear()
	sc.DrawText(0, 0, "Title", boot.StyleInverse)
	sc.DrawText(3, 2, "Write Firmware", boot.StyleNormal)
	sc.InvertLine(2)
	sc.InvertLine(0)
	sc.Refresh()

	if r, inv := panelCell(sim, 0, 0); r != 'T' || inv {
		t.Fatalf("cell(0,0) = %q inverse=%v", r, inv)
	}
	if r, inv := panelCell(sim, 3, 2); r != 'W' || !inv {
		t.Fatalf("cell(3,2) = %q inverse=%v", r, inv)
	}
	if r, inv := panelCell(sim, boot.DisplayCols-1, 2); r != ' ' || !inv {
		t.Fatalf("end of inverted row = %q inverse=%v", r, inv)
	}
	if got := sc.Row(2); !strings.HasPrefix(got, "   Write Firmware") || len([]rune(got)) != boot.DisplayCols {
		t.Fatalf("Row(2) = %q", got)
	}

	// Text past the panel edge is clipped.
	sc.DrawText(boot.DisplayCols-2, 4, "abcdef", boot.StyleNormal)
	if got := sc.Row(4); !strings.HasSuffix(got, "ab") {
		t.Fatalf("Row(4) = %q", got)
	}
}

func TestScreenProgressBar(t *testing.T) {
	sc, _ := newTestScreen(t, nil)
	sc.Clear()
	sc.DrawRect(1, 6, 33, 1, boot.StyleNormal)
	sc.DrawRect(2, 6, 5, 1, boot.StyleFill)
	want := " [█████" + strings.Repeat(" ", 26) + "]" + " "
	if got := sc.Row(6); got != want {
		t.Fatalf("Row(6) = %q, want %q", got, want)
	}

	sc.Clear()
	sc.DrawRect(0, 1, 4, 3, boot.StyleNormal)
	if !strings.HasPrefix(sc.Row(1), "┌──┐") || !strings.HasPrefix(sc.Row(2), "│  │") || !strings.HasPrefix(sc.Row(3), "└──┘") {
		t.Fatalf("box = %q %q %q", sc.Row(1), sc.Row(2), sc.Row(3))
	}
}

func TestScreenOff(t *testing.T) {
	sc, sim := newTestScreen(t, nil)
	sc.DrawText(0, 3, "USB Connected", boot.StyleNormal)
	sc.Refresh()
	if r, _ := panelCell(sim, 0, 3); r != 'U' {
		t.Fatalf("cell = %q before Off", r)
	}
	sc.Off()
	if r, _ := panelCell(sim, 0, 3); r != ' ' {
		t.Fatalf("cell = %q after Off", r)
	}
}

func TestScreenForwardsKeys(t *testing.T) {
	kb := NewKeyboard()
	plugged := make(chan struct{}, 1)
	kb.Bind('u', func() { plugged <- struct{}{} })
	sc, sim := newTestScreen(t, kb)

	sim.InjectKey(tcell.KeyRune, 'u', tcell.ModNone)
	select {
	case <-plugged:
	case <-time.After(2 * time.Second):
		t.Fatal("bound action not called")
	}

	sim.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)
	select {
	case <-sc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("q did not request a stop")
	}
	if !sc.IsStopped() {
		t.Fatal("IsStopped = false")
	}
}
