package reslock

import "errors"

// GlobalTarget is the sentinel lock target used when a tool's effect cannot
// be scoped to a single file. An exclusive hold on it excludes every other
// target-scoped hold from starting, because all acquisitions pass through
// the same manager.
const GlobalTarget = "GLOBAL"

// Sentinel errors returned by manager operations.
var (
	// ErrNotHeld is returned when releasing a lock the holder does not own.
	ErrNotHeld = errors.New("lock not held by this holder")

	// ErrManagerClosed is returned when acquiring on a closed manager.
	ErrManagerClosed = errors.New("lock manager closed")
)

// Mode describes how a target is held.
type Mode int

const (
	// ModeShared allows multiple concurrent read holders on one target.
	ModeShared Mode = iota

	// ModeExclusive excludes all other holders on the target.
	ModeExclusive
)

// String returns a human-readable name for a lock mode.
func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// HoldInfo describes the current holders of one target.
type HoldInfo struct {
	Target  string
	Mode    Mode
	Holders []string // Holder context IDs, sorted
}
