package sim

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"
)

// ErrNoPeriods is returned when a trace holds no complete period
var ErrNoPeriods = errors.New("trace holds no complete period")

// Pulse is one complete period measured from a rising edge to the next
type Pulse struct {
	Start  uint64
	High   uint64
	Period uint64
}

// Report summarizes a trace. Durations are in ticks.
type Report struct {
	Pulses []Pulse

	PeriodMin    float64
	PeriodMax    float64
	PeriodMean   float64
	PeriodStdDev float64

	WidthMin    float64
	WidthMax    float64
	WidthMean   float64
	WidthStdDev float64

	// Glitches counts periods whose length differs from the expected period
	Glitches int
}

// Pulses splits edges into complete periods
func Pulses(edges []Edge) []Pulse {
	var (
		pulses   []Pulse
		rise     uint64
		fall     uint64
		seenRise bool
	)
	for _, e := range edges {
		if !e.Level {
			fall = e.At
			continue
		}
		if seenRise {
			pulses = append(pulses, Pulse{Start: rise, High: fall - rise, Period: e.At - rise})
		}
		rise = e.At
		seenRise = true
	}
	return pulses
}

// Analyze measures every complete period in edges and counts the ones
// that are not exactly period ticks long
func Analyze(edges []Edge, period uint64) (Report, error) {
	pulses := Pulses(edges)
	if len(pulses) == 0 {
		return Report{}, ErrNoPeriods
	}

	periods := make(stats.Float64Data, len(pulses))
	widths := make(stats.Float64Data, len(pulses))
	r := Report{Pulses: pulses}
	for i, p := range pulses {
		periods[i] = float64(p.Period)
		widths[i] = float64(p.High)
		if p.Period != period {
			r.Glitches++
		}
	}

	var err error
	if r.PeriodMin, err = periods.Min(); err != nil {
		return r, fmt.Errorf("period min: %w", err)
	}
	if r.PeriodMax, err = periods.Max(); err != nil {
		return r, fmt.Errorf("period max: %w", err)
	}
	if r.PeriodMean, err = periods.Mean(); err != nil {
		return r, fmt.Errorf("period mean: %w", err)
	}
	if r.PeriodStdDev, err = periods.StandardDeviation(); err != nil {
		return r, fmt.Errorf("period stddev: %w", err)
	}
	if r.WidthMin, err = widths.Min(); err != nil {
		return r, fmt.Errorf("width min: %w", err)
	}
	if r.WidthMax, err = widths.Max(); err != nil {
		return r, fmt.Errorf("width max: %w", err)
	}
	if r.WidthMean, err = widths.Mean(); err != nil {
		return r, fmt.Errorf("width mean: %w", err)
	}
	if r.WidthStdDev, err = widths.StandardDeviation(); err != nil {
		return r, fmt.Errorf("width stddev: %w", err)
	}
	return r, nil
}

// Widths returns the distinct consecutive high times in order, the
// sequence of widths actually output
func (r Report) Widths() []uint64 {
	var out []uint64
	for _, p := range r.Pulses {
		if len(out) == 0 || out[len(out)-1] != p.High {
			out = append(out, p.High)
		}
	}
	return out
}
