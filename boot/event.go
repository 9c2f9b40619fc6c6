package boot

import (
	"fmt"
	"sync"
)

// Key identifies one of the radio's navigation keys.
type Key uint8

// Navigation keys, in key-matrix bit order.
const (
	KeyMenu Key = iota
	KeyExit
	KeyEnter
	KeyPage
	KeyUp
	KeyDown

	NumKeys
)

var keyNames = [NumKeys]string{"MENU", "EXIT", "ENTER", "PAGE", "UP", "DOWN"}

func (k Key) String() string {
	if k < NumKeys {
		return keyNames[k]
	}
	return fmt.Sprintf("Key(%d)", uint8(k))
}

// RawInput is one tick's sample of the key lines and rotary encoder.
// Keys holds one bit per Key; Rotary is the encoder's absolute count,
// two counts per detent.
type RawInput struct {
	Keys   uint8
	Rotary int32
}

// Pressed reports whether k's line is active in the sample.
func (r RawInput) Pressed(k Key) bool {
	return r.Keys&(1<<k) != 0
}

// Press returns a copy of r with k's line active.
func (r RawInput) Press(k Key) RawInput {
	r.Keys |= 1 << k
	return r
}

// EventKind is the type of an input event.
type EventKind uint8

// Event kinds.
const (
	EventNone EventKind = iota
	EventKeyDown
	EventKeyUp
	EventKeyLong
	EventKeyRepeat
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventKeyDown:
		return "down"
	case EventKeyUp:
		return "up"
	case EventKeyLong:
		return "long"
	case EventKeyRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a debounced key event. The zero value is "no event".
type Event struct {
	Kind EventKind
	Key  Key
}

// Event constructors.
func KeyDownEvent(k Key) Event   { return Event{Kind: EventKeyDown, Key: k} }
func KeyUpEvent(k Key) Event     { return Event{Kind: EventKeyUp, Key: k} }
func KeyLongEvent(k Key) Event   { return Event{Kind: EventKeyLong, Key: k} }
func KeyRepeatEvent(k Key) Event { return Event{Kind: EventKeyRepeat, Key: k} }

// None reports whether e carries no event.
func (e Event) None() bool {
	return e.Kind == EventNone
}

// Is reports whether e is a kind event for key k.
func (e Event) Is(kind EventKind, k Key) bool {
	return e.Kind == kind && e.Key == k
}

// Nav reports whether e moves the cursor in direction k (first press or repeat).
func (e Event) Nav(k Key) bool {
	return (e.Kind == EventKeyDown || e.Kind == EventKeyRepeat) && e.Key == k
}

func (e Event) String() string {
	if e.None() {
		return "none"
	}
	return e.Kind.String() + "(" + e.Key.String() + ")"
}

// Timing holds the debounce and hold thresholds, in ticks.
type Timing struct {
	DebounceSamples int
	LongPress       int
	RepeatDelay     int
	RepeatInterval  int
}

// DefaultTiming matches a 10ms tick: 20ms debounce, 320ms long press,
// repeats from 400ms every 100ms.
var DefaultTiming = Timing{
	DebounceSamples: 2,
	LongPress:       32,
	RepeatDelay:     40,
	RepeatInterval:  10,
}

type keyPhase uint8

const (
	keyOff keyPhase = iota
	keyHeld
	keyRepeating
)

type keyState struct {
	vals  uint8
	cnt   int
	phase keyPhase
	long  bool
}

func (s *keyState) input(k Key, pressed bool, t Timing) Event {
	mask := uint8(1)<<t.DebounceSamples - 1
	s.vals <<= 1
	if pressed {
		s.vals |= 1
	}
	s.vals &= mask
	s.cnt++

	if s.phase != keyOff && s.vals == 0 {
		consumed := s.long
		s.phase, s.cnt, s.long = keyOff, 0, false
		if consumed {
			return Event{}
		}
		return KeyUpEvent(k)
	}

	switch s.phase {
	case keyOff:
		if s.vals == mask {
			s.phase, s.cnt = keyHeld, 0
			return KeyDownEvent(k)
		}
	case keyHeld:
		if s.cnt == t.LongPress {
			s.long = true
			return KeyLongEvent(k)
		}
		if s.cnt >= t.RepeatDelay {
			s.phase, s.cnt = keyRepeating, 0
		}
	case keyRepeating:
		if s.cnt >= t.RepeatInterval {
			s.cnt = 0
			return KeyRepeatEvent(k)
		}
	}
	return Event{}
}

// Source turns raw samples into at most one event per tick.
//
// Sample runs on the tick side and writes into a single-slot mailbox that
// is overwritten, never queued; Next runs on the main loop side and takes
// the slot. A pending event survives samples that fire nothing and is
// replaced by the next event that fires before it is taken.
type Source struct {
	mu     sync.Mutex
	timing Timing
	keys   [NumKeys]keyState
	prev   int32
	raw    uint8
	slot   Event
}

// NewSource returns a Source using the given timing.
func NewSource(t Timing) *Source {
	if t.DebounceSamples <= 0 || t.DebounceSamples > 8 {
		t.DebounceSamples = DefaultTiming.DebounceSamples
	}
	return &Source{timing: t}
}

// Sample runs every key's debounce machine on one raw sample.
// Key events overwrite the slot in scan order; a rotary detent is
// translated to Down(KeyUp) or Down(KeyDown) only when no key event
// fired in the same sample.
func (s *Source) Sample(raw RawInput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fired := false
	for k := Key(0); k < NumKeys; k++ {
		if ev := s.keys[k].input(k, raw.Pressed(k), s.timing); !ev.None() {
			s.slot = ev
			fired = true
		}
	}

	detent := raw.Rotary / 2
	if delta := detent - s.prev; delta != 0 {
		s.prev = detent
		if !fired {
			if delta < 0 {
				s.slot = KeyDownEvent(KeyUp)
			} else {
				s.slot = KeyDownEvent(KeyDown)
			}
		}
	}
	s.raw = raw.Keys
}

// Next takes the pending event, leaving the slot empty.
func (s *Source) Next() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.slot
	s.slot = Event{}
	return ev
}

// Poll samples and takes in one call.
func (s *Source) Poll(raw RawInput) Event {
	s.Sample(raw)
	return s.Next()
}

// Released reports whether every key line was inactive in the last sample.
func (s *Source) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw == 0
}
