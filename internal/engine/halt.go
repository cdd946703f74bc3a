package engine

import (
	"errors"
	"sync/atomic"
)

// ErrHalted aborts a pending ledger commit when the emergency stop engages
// mid-evaluation.
var ErrHalted = errors.New("emergency stop engaged")

// EmergencyStop is the process-wide halt flag. Once engaged it stays set
// until explicitly cleared by an administrative action; it never auto-clears.
type EmergencyStop struct {
	engaged atomic.Bool
}

// NewEmergencyStop returns a cleared halt flag.
func NewEmergencyStop() *EmergencyStop {
	return &EmergencyStop{}
}

// Engage sets the halt flag. Returns true if this call flipped it.
func (e *EmergencyStop) Engage() bool {
	return e.engaged.CompareAndSwap(false, true)
}

// Clear resets the halt flag. Returns true if this call flipped it.
func (e *EmergencyStop) Clear() bool {
	return e.engaged.CompareAndSwap(true, false)
}

// Engaged reports whether the halt is active.
func (e *EmergencyStop) Engaged() bool {
	return e.engaged.Load()
}

// Guard is the pre-commit check handed to the ledger: it must observe an
// engagement that happened after evaluation entry but before the commit.
func (e *EmergencyStop) Guard() error {
	if e.engaged.Load() {
		return ErrHalted
	}
	return nil
}
