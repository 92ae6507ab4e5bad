package chain

import (
	"fmt"
	"strings"
)

// Mode selects a chain's initial scheduling behavior. Scheduling and
// suspension are independent axes: a chain starts either deferred (first
// drain happens on a later tick) or immediate (drains synchronously), and it
// may additionally start paused, accumulating steps until resumed.
type Mode uint8

const (
	// ModeDefault inherits the factory's scheduling default.
	ModeDefault Mode = iota
	// ModeDeferred defers the first drain to the next scheduling tick.
	ModeDeferred
	// ModeImmediate drains synchronously in the current call.
	ModeImmediate
	// ModePaused keeps the factory scheduling default but starts suspended.
	ModePaused
	// ModeDeferredPaused starts deferred and suspended.
	ModeDeferredPaused
	// ModeImmediatePaused starts immediate and suspended.
	ModeImmediatePaused
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeDeferred:
		return "deferred"
	case ModeImmediate:
		return "immediate"
	case ModePaused:
		return "paused"
	case ModeDeferredPaused:
		return "deferred_paused"
	case ModeImmediatePaused:
		return "immediate_paused"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a configuration string to a Mode. The empty string maps to
// ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ModeDefault, nil
	case "deferred", "tick":
		return ModeDeferred, nil
	case "immediate", "now":
		return ModeImmediate, nil
	case "paused":
		return ModePaused, nil
	case "deferred_paused", "deferred-paused":
		return ModeDeferredPaused, nil
	case "immediate_paused", "immediate-paused":
		return ModeImmediatePaused, nil
	default:
		return ModeDefault, errUnknownMode(s)
	}
}

// paused reports whether the mode starts the chain suspended.
func (m Mode) paused() bool {
	switch m {
	case ModePaused, ModeDeferredPaused, ModeImmediatePaused:
		return true
	default:
		return false
	}
}

// immediateIn resolves the scheduling axis against a factory default.
func (m Mode) immediateIn(def Mode) bool {
	switch m {
	case ModeImmediate, ModeImmediatePaused:
		return true
	case ModeDeferred, ModeDeferredPaused:
		return false
	default:
		return def == ModeImmediate || def == ModeImmediatePaused
	}
}
