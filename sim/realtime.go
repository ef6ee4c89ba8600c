package sim

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"servopulse/servo"
)

// Realtime paces a Machine against a clock while an independent goroutine
// plays the producer, so width requests race compare events the way they
// do on hardware. Every control call goes through Machine.Control, so the
// producer, the runner's own status reads and any Loopback on the same
// Machine act as a single control loop.
type Realtime struct {
	Machine *Machine
	Clock   clock.Clock
	Logger  *zap.SugaredLogger

	// Step is how often virtual time catches up with the clock
	Step time.Duration

	// Policy, if set, is polled every Interval by the producer goroutine
	Policy   servo.Policy
	Interval time.Duration

	requests atomic.Uint32
}

// NewRealtime creates a runner for m. A nil logger discards output.
func NewRealtime(m *Machine, clk clock.Clock, logger *zap.SugaredLogger) *Realtime {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Realtime{
		Machine:  m,
		Clock:    clk,
		Logger:   logger,
		Step:     time.Millisecond,
		Interval: 500 * time.Millisecond,
	}
}

// Requests returns the number of widths the producer goroutine has set
func (r *Realtime) Requests() uint32 {
	return r.requests.Load()
}

// Run advances the machine by d of clock time
func (r *Realtime) Run(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	cfg := r.Machine.Channel.Config()
	base := r.Machine.Timer.Ticks()
	end := base + cfg.Ticks64(uint64(d/time.Microsecond))
	start := r.Clock.Now()

	g.Go(func() error {
		defer cancel()
		ticker := r.Clock.Ticker(r.Step)
		defer ticker.Stop()

		var commits, late uint32
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}

			target := base + cfg.Ticks64(uint64(r.Clock.Since(start)/time.Microsecond))
			if target > end {
				target = end
			}
			r.Machine.RunUntil(target)

			st := r.Machine.Control.Status()
			if st.Commits != commits {
				commits = st.Commits
				r.Logger.Debugw("width committed", "width_us", st.CurrentWidth, "tick", target)
			}
			if st.Late != late {
				late = st.Late
				r.Logger.Warnw("compare armed behind the counter", "late", late)
			}
			if target >= end {
				r.Logger.Infow("run complete", "periods", st.Periods, "commits", st.Commits)
				return nil
			}
		}
	})

	if r.Policy != nil {
		g.Go(func() error {
			ticker := r.Clock.Ticker(r.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				w := r.Policy.NextWidth()
				r.Machine.Control.SetPulseWidth(w)
				r.requests.Add(1)
				r.Logger.Debugw("width requested", "width_us", w)
			}
		})
	}

	return g.Wait()
}
