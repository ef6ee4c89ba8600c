package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"servopulse/host/link"
	"servopulse/servo"
	"servopulse/sim"
)

func (a *app) setAction(c *cli.Context) error {
	width := uint32(c.Uint(flagWidth))
	return a.withClient(c, func(client *link.Client) error {
		if err := client.SetPulseWidth(width); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "pulse width set to %dus\n", width)
		return nil
	})
}

func (a *app) statusAction(c *cli.Context) error {
	return a.withClient(c, func(client *link.Client) error {
		st, err := client.Status()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, statusTable(st))
		return nil
	})
}

func (a *app) dictAction(c *cli.Context) error {
	return a.withClient(c, func(client *link.Client) error {
		fmt.Fprintln(a.out, dictionaryTable(client.Dictionary()))
		return nil
	})
}

func (a *app) shutdownAction(c *cli.Context) error {
	return a.withClient(c, func(client *link.Client) error {
		if err := client.Shutdown(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "servo shut down")
		return nil
	})
}

func (a *app) randomAction(c *cli.Context) error {
	policy := servo.NewRandomPolicy(uint32(c.Uint(flagMin)), uint32(c.Uint(flagSpan)), c.Int64(flagSeed))
	return a.produce(c, policy)
}

func (a *app) sweepAction(c *cli.Context) error {
	policy := &servo.SweepPolicy{
		Min:  uint32(c.Uint(flagMin)),
		Max:  uint32(c.Uint(flagMax)),
		Step: uint32(c.Uint(flagStep)),
	}
	return a.produce(c, policy)
}

// produce sends policy widths to the device every interval until count
// requests are sent or the command is interrupted
func (a *app) produce(c *cli.Context, policy servo.Policy) error {
	interval := c.Duration(flagInterval)
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	count := c.Int(flagCount)

	return a.withClient(c, func(client *link.Client) error {
		ticker := a.clk.Ticker(interval)
		defer ticker.Stop()

		for sent := 0; count == 0 || sent < count; sent++ {
			w := policy.NextWidth()
			if err := client.SetPulseWidth(w); err != nil {
				return err
			}
			a.log.Infow("width requested", "width_us", w, "n", sent+1)
			if count != 0 && sent+1 == count {
				break
			}
			select {
			case <-c.Context.Done():
				return c.Context.Err()
			case <-ticker.C:
			}
		}
		return nil
	})
}

func (a *app) simulateAction(c *cli.Context) error {
	var (
		scenario *sim.Scenario
		err      error
	)
	if path := c.Path(flagScenario); path != "" {
		scenario, err = sim.LoadScenario(path)
	} else {
		scenario, err = sim.ParseScenario([]byte(fmt.Sprintf(
			"name: random\nduration_us: %d\ncounter_bits: %d\nrandom:\n  interval_us: %d\n  min_us: 500\n  span_us: 2000\n  seed: %d\n",
			c.Duration(flagDuration).Microseconds(),
			c.Uint(flagCounterBits),
			c.Duration(flagInterval).Microseconds(),
			c.Int64(flagSeed),
		)))
	}
	if err != nil {
		return err
	}

	var res *sim.Result
	if c.Bool(flagRealtime) {
		res, err = a.simulateRealtime(c, scenario)
	} else {
		res, err = scenario.Run()
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, reportTable(res))
	if c.Bool(flagEdges) {
		out, err := yaml.Marshal(res.Edges)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, string(out))
	}
	if res.Report.Glitches != 0 {
		return fmt.Errorf("%d periods deviated from %dus", res.Report.Glitches, scenario.PeriodUS)
	}
	return nil
}

// simulateRealtime runs the scenario's channel against the app clock with
// the random producer on its own goroutine. Scheduled requests are not
// supported in this mode.
func (a *app) simulateRealtime(c *cli.Context, s *sim.Scenario) (*sim.Result, error) {
	if len(s.Requests) != 0 {
		return nil, errors.New("realtime simulation does not replay scheduled requests")
	}
	m, err := sim.NewMachine(s.Config())
	if err != nil {
		return nil, err
	}
	m.Start()

	rt := sim.NewRealtime(m, a.clk, a.log.Named("sim"))
	if s.Random != nil {
		rt.Policy = servo.NewRandomPolicy(s.Random.MinUS, s.Random.SpanUS, s.Random.Seed)
		rt.Interval = time.Duration(s.Random.IntervalUS) * time.Microsecond
	}
	if err := rt.Run(c.Context, time.Duration(s.DurationUS)*time.Microsecond); err != nil {
		return nil, err
	}

	cfg := s.Config()
	res := &sim.Result{
		Scenario: s,
		Edges:    m.Edges(),
		Status:   m.Control.Status(),
		Requests: int(rt.Requests()),
	}
	res.Report, err = sim.Analyze(res.Edges, uint64(cfg.Ticks(cfg.Period)))
	return res, err
}
