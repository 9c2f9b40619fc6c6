package boot

import "fmt"

// State is the active bootloader state. Exactly one is active at a time.
type State int

// Bootloader states.
const (
	StateStart State = iota
	StateFlashMenu
	StateRestoreMenu
	StateDirCheck
	StateOpenDir
	StateFileList
	StateFlashCheck
	StateFlashing
	StateFlashDone
	StateUSB
	StateReboot

	numStates
)

var stateNames = [numStates]string{
	StateStart:       "Start",
	StateFlashMenu:   "FlashMenu",
	StateRestoreMenu: "RestoreMenu",
	StateDirCheck:    "DirCheck",
	StateOpenDir:     "OpenDir",
	StateFileList:    "FileList",
	StateFlashCheck:  "FlashCheck",
	StateFlashing:    "Flashing",
	StateFlashDone:   "FlashDone",
	StateUSB:         "UsbMode",
	StateReboot:      "Reboot",
}

func (s State) String() string {
	if s >= 0 && s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, 0, numStates)
	for s := StateStart; s < numStates; s++ {
		out = append(out, s)
	}
	return out
}

// Target selects the destination memory of a session.
type Target int

// Memory targets.
const (
	TargetFlash Target = iota
	TargetEeprom
)

func (t Target) String() string {
	switch t {
	case TargetFlash:
		return "flash"
	case TargetEeprom:
		return "eeprom"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// ParseTarget parses "flash"/"firmware" or "eeprom".
func ParseTarget(s string) (Target, error) {
	switch s {
	case "flash", "firmware", "fw":
		return TargetFlash, nil
	case "eeprom", "ee":
		return TargetEeprom, nil
	}
	return 0, fmt.Errorf("unknown target %q (want flash|eeprom)", s)
}

// Result is the cached outcome of validating the selected image.
type Result int

// Validation results.
const (
	Unchecked Result = iota
	Valid
	Invalid
)

func (r Result) String() string {
	switch r {
	case Unchecked:
		return "unchecked"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}
