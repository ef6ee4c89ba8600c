package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"servopulse/host/link"
	"servopulse/host/serial"
	"servopulse/servo"
	"servopulse/sim"
)

const (
	// Global flags
	flagDevice  = "device"
	flagBaud    = "baud"
	flagTimeout = "timeout"
	flagDebug   = "debug"

	// Command flags
	flagWidth       = "width"
	flagInterval    = "interval"
	flagMin         = "min"
	flagMax         = "max"
	flagSpan        = "span"
	flagStep        = "step"
	flagCount       = "count"
	flagSeed        = "seed"
	flagScenario    = "scenario"
	flagDuration    = "duration"
	flagCounterBits = "counter-bits"
	flagRealtime    = "realtime"
	flagEdges       = "edges"

	// simDevice selects an in-process simulated firmware
	simDevice = "sim"
)

type app struct {
	out io.Writer
	clk clock.Clock
	log *zap.SugaredLogger
}

func newApp(out io.Writer, clk clock.Clock) *cli.App {
	a := &app{out: out, clk: clk, log: zap.NewNop().Sugar()}

	producerFlags := []cli.Flag{
		&cli.DurationFlag{Name: flagInterval, Value: 500 * time.Millisecond, Usage: "time between width requests"},
		&cli.IntFlag{Name: flagCount, Usage: "number of requests, 0 for no limit"},
	}

	return &cli.App{
		Name:      "servoctl",
		Usage:     "control and simulate the servo pulse generator",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				Value:   "/dev/ttyACM0",
				Usage:   "serial device, or \"" + simDevice + "\" for a simulated firmware",
				EnvVars: []string{"SERVOCTL_DEVICE"},
			},
			&cli.IntFlag{
				Name:    flagBaud,
				Value:   serial.DefaultConfig("").Baud,
				Usage:   "baud rate (ignored by USB CDC)",
				EnvVars: []string{"SERVOCTL_BAUD"},
			},
			&cli.DurationFlag{
				Name:    flagTimeout,
				Value:   2 * time.Second,
				Usage:   "ACK and response timeout",
				EnvVars: []string{"SERVOCTL_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Usage:   "development logging",
				EnvVars: []string{"SERVOCTL_DEBUG"},
			},
		},
		Before: a.setupLogger,
		After: func(*cli.Context) error {
			// stderr sync fails on some terminals
			_ = a.log.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "request a pulse width",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagWidth, Required: true, Usage: "pulse width in microseconds"},
				},
				Action: a.setAction,
			},
			{
				Name:   "status",
				Usage:  "print the servo state",
				Action: a.statusAction,
			},
			{
				Name:   "dict",
				Usage:  "print the firmware command dictionary",
				Action: a.dictAction,
			},
			{
				Name:  "random",
				Usage: "request random widths periodically",
				Flags: append([]cli.Flag{
					&cli.UintFlag{Name: flagMin, Value: 500, Usage: "smallest width in microseconds"},
					&cli.UintFlag{Name: flagSpan, Value: 2000, Usage: "width range in microseconds"},
					&cli.Int64Flag{Name: flagSeed, Value: 1, Usage: "random seed"},
				}, producerFlags...),
				Action: a.randomAction,
			},
			{
				Name:  "sweep",
				Usage: "sweep the width back and forth",
				Flags: append([]cli.Flag{
					&cli.UintFlag{Name: flagMin, Value: 1000, Usage: "low end in microseconds"},
					&cli.UintFlag{Name: flagMax, Value: 2000, Usage: "high end in microseconds"},
					&cli.UintFlag{Name: flagStep, Value: 100, Usage: "step in microseconds"},
				}, producerFlags...),
				Action: a.sweepAction,
			},
			{
				Name:   "shutdown",
				Usage:  "stop the output and hold it low",
				Action: a.shutdownAction,
			},
			{
				Name:  "simulate",
				Usage: "run the pulse generator against an emulated timer",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagScenario, Usage: "YAML scenario file"},
					&cli.DurationFlag{Name: flagDuration, Value: time.Second, Usage: "simulated time without a scenario"},
					&cli.UintFlag{Name: flagCounterBits, Value: 16, Usage: "emulated counter width"},
					&cli.DurationFlag{Name: flagInterval, Value: 100 * time.Millisecond, Usage: "random producer interval"},
					&cli.Int64Flag{Name: flagSeed, Value: 1, Usage: "random seed"},
					&cli.BoolFlag{Name: flagRealtime, Usage: "pace against the wall clock with a concurrent producer"},
					&cli.BoolFlag{Name: flagEdges, Usage: "dump every output edge as YAML"},
				},
				Action: a.simulateAction,
			},
		},
	}
}

func (a *app) setupLogger(c *cli.Context) error {
	var (
		logger *zap.Logger
		err    error
	)
	if c.Bool(flagDebug) {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	a.log = logger.Sugar()
	return nil
}

// connect opens the configured device. The returned closer releases
// everything connect started.
func (a *app) connect(c *cli.Context) (*link.Client, func() error, error) {
	device := c.String(flagDevice)

	var (
		client *link.Client
		closer func() error
	)
	if device == simDevice {
		client, closer = a.connectSim()
	} else {
		cfg := serial.DefaultConfig(device)
		cfg.Baud = c.Int(flagBaud)
		cl, err := link.Dial(cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
		client, closer = cl, cl.Close
	}
	client.Timeout = c.Duration(flagTimeout)

	if _, err := client.Identify(); err != nil {
		return nil, nil, multierr.Append(err, closer())
	}
	a.log.Debugw("connected", "device", device)
	return client, closer, nil
}

// connectSim starts a simulated firmware paced by the app clock
func (a *app) connectSim() (*link.Client, func() error) {
	m, err := sim.NewMachine(servo.DefaultConfig())
	if err != nil {
		panic(err) // the default configuration is valid
	}
	m.Start()

	ctx, cancel := context.WithCancel(context.Background())
	rt := sim.NewRealtime(m, a.clk, a.log.Named("sim"))
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, 24*time.Hour) }()

	lb := link.NewLoopback(m.Control, m.Clock)
	client := link.New(lb.Port(), a.log)
	return client, func() error {
		err := multierr.Combine(client.Close(), lb.Close())
		cancel()
		if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
			err = multierr.Append(err, runErr)
		}
		return err
	}
}

// withClient runs fn on a connected client and closes it afterwards
func (a *app) withClient(c *cli.Context, fn func(*link.Client) error) (err error) {
	client, closer, err := a.connect(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closer())
	}()
	return fn(client)
}
