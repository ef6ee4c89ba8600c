package servo

// Phase names the edge the armed compare will produce.
type Phase uint8

const (
	// HighPhase is armed to raise the output, starting a period
	HighPhase Phase = iota
	// LowPhase is armed to drop the output, ending the high pulse
	LowPhase
)

func (p Phase) String() string {
	if p == HighPhase {
		return "high"
	}
	return "low"
}

// Mode returns the compare output mode that produces the phase's edge
func (p Phase) Mode() OutputMode {
	if p == HighPhase {
		return GenerateHigh
	}
	return GenerateLow
}

// OutputMode is the action a compare unit applies to the output on match.
// Timer implementations map it to their own register encoding.
type OutputMode uint8

const (
	// GenerateHigh drives the output high on match
	GenerateHigh OutputMode = iota
	// GenerateLow drives the output low on match
	GenerateLow
)

func (m OutputMode) String() string {
	if m == GenerateHigh {
		return "generate-high"
	}
	return "generate-low"
}

// CompareTimer is the hardware abstraction the channel drives: a free
// running counter with one compare register whose match applies an
// OutputMode to the output pin and raises a latched interrupt flag.
//
// Now, Arm, CompareEnabled, ComparePending and ClearCompare are called from
// the compare interrupt. The remaining methods are called from the
// control loop.
type CompareTimer interface {
	// Now returns the live counter value
	Now() uint32

	// Arm programs the next absolute compare value and its output mode
	Arm(compare uint32, mode OutputMode)

	// CompareEnabled reports whether the compare interrupt is enabled
	CompareEnabled() bool

	// ComparePending reports whether the compare flag is set
	ComparePending() bool

	// ClearCompare clears the compare flag
	ClearCompare()

	// EnableCompare enables the compare interrupt
	EnableCompare()

	// DisableCompare disables the compare interrupt and returns whether
	// it was enabled
	DisableCompare() bool

	// RestoreCompare restores the enablement returned by DisableCompare.
	// A flag latched while disabled is serviced once re-enabled.
	RestoreCompare(enabled bool)

	// HoldLow stops edge generation and drives the output low
	HoldLow()
}

// Mask is a scoped compare-interrupt mask. Release must run on every
// path out of the critical section, normally through defer. Nested masks
// must be released in reverse order of acquisition, so only one control
// context may hold masks at a time:
//
//	m := AcquireMask(timer)
//	defer m.Release()
type Mask struct {
	timer CompareTimer
	prior bool
}

// AcquireMask disables the compare interrupt, recording its prior state
func AcquireMask(timer CompareTimer) Mask {
	return Mask{timer: timer, prior: timer.DisableCompare()}
}

// Release restores the enablement recorded by AcquireMask
func (m Mask) Release() {
	m.timer.RestoreCompare(m.prior)
}
