package stability

// Pressure classifies current system load into tiers the orchestrator
// keys dispatch policy off: HIGH forces sequential tool dispatch with a
// pacing delay and sheds non-critical streams.
type Pressure int

const (
	// PressureLow means normal concurrent operation.
	PressureLow Pressure = iota

	// PressureMedium means the system is loaded but not constrained.
	PressureMedium

	// PressureHigh forces sequential dispatch and stream shedding.
	PressureHigh
)

// String returns a human-readable name for a pressure tier.
func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Sampler reports normalized system load in [0, 1]. The measurement itself
// is an external collaborator; the controller only classifies it.
type Sampler func() float64

// TruncationNotice is appended to any buffer content cut at a ceiling so
// the model sees an explicit stability marker instead of silent loss.
const TruncationNotice = "\n[output truncated: stability limit reached]"
