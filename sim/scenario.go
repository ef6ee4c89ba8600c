package sim

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"servopulse/servo"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Request is one width request at an absolute time
type Request struct {
	AtUS    uint64 `yaml:"at_us"`
	WidthUS uint32 `yaml:"width_us"`
}

// RandomProducer describes a periodic random width producer
type RandomProducer struct {
	IntervalUS uint32 `yaml:"interval_us"`
	MinUS      uint32 `yaml:"min_us"`
	SpanUS     uint32 `yaml:"span_us"`
	Seed       int64  `yaml:"seed"`
}

// Scenario is a simulation run loaded from YAML. Zero fields take the
// channel defaults.
type Scenario struct {
	Name string `yaml:"name"`

	PeriodUS       uint32 `yaml:"period_us"`
	StartupUS      uint32 `yaml:"startup_us"`
	InitialWidthUS uint32 `yaml:"initial_width_us"`
	MinWidthUS     uint32 `yaml:"min_width_us"`
	MaxWidthUS     uint32 `yaml:"max_width_us"`
	TickHz         uint32 `yaml:"tick_hz"`
	CounterBits    uint8  `yaml:"counter_bits"`

	// StartTick presets the counter, useful to start near a wrap
	StartTick  uint64 `yaml:"start_tick"`
	DurationUS uint64 `yaml:"duration_us"`

	// ProducerFirst orders requests due on a compare tick before the
	// compare event
	ProducerFirst bool `yaml:"producer_first"`

	Requests []Request      `yaml:"requests"`
	Random   *RandomProducer `yaml:"random"`
}

// ParseScenario decodes a scenario and fills in defaults
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenario reads a scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Scenario) applyDefaults() {
	def := servo.DefaultConfig()
	if s.Name == "" {
		s.Name = "unnamed"
	}
	if s.PeriodUS == 0 {
		s.PeriodUS = def.Period
	}
	if s.StartupUS == 0 {
		s.StartupUS = def.StartupOffset
	}
	if s.InitialWidthUS == 0 {
		s.InitialWidthUS = def.InitialWidth
	}
	if s.TickHz == 0 {
		s.TickHz = def.TickHz
	}
	if s.CounterBits == 0 {
		s.CounterBits = 16
	}
	if s.DurationUS == 0 {
		s.DurationUS = 1000000
	}
	if s.Random != nil && s.Random.IntervalUS == 0 {
		s.Random.IntervalUS = 500000
	}
}

func (s *Scenario) validate() error {
	if err := s.Config().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if s.Random != nil && s.Random.IntervalUS == 0 {
		return fmt.Errorf("%w: random producer interval is zero", ErrInvalidScenario)
	}
	return nil
}

// Config returns the channel configuration of the scenario
func (s *Scenario) Config() servo.Config {
	return servo.Config{
		Period:        s.PeriodUS,
		StartupOffset: s.StartupUS,
		InitialWidth:  s.InitialWidthUS,
		MinWidth:      s.MinWidthUS,
		MaxWidth:      s.MaxWidthUS,
		TickHz:        s.TickHz,
		CounterBits:   s.CounterBits,
	}
}

// Result is the outcome of a scenario run
type Result struct {
	Scenario *Scenario
	Edges    []Edge
	Report   Report
	Status   servo.Status
	Requests int
}

// Run executes the scenario in virtual time
func (s *Scenario) Run() (*Result, error) {
	cfg := s.Config()
	m, err := NewMachine(cfg)
	if err != nil {
		return nil, err
	}
	m.ProducerFirst = s.ProducerFirst
	m.Timer.advance(s.StartTick)
	m.Start()

	requests := 0
	for _, r := range s.Requests {
		width := r.WidthUS
		m.At(s.StartTick+cfg.Ticks64(r.AtUS), func() {
			m.Channel.SetPulseWidth(width)
			requests++
		})
	}

	var producer *servo.Producer
	if s.Random != nil {
		policy := servo.NewRandomPolicy(s.Random.MinUS, s.Random.SpanUS, s.Random.Seed)
		producer = servo.NewProducer(m.Channel, policy, cfg.Ticks(s.Random.IntervalUS))
		producer.Start(m.Sched, m.Clock())
	}

	m.RunUntil(s.StartTick + cfg.Ticks64(s.DurationUS))
	if producer != nil {
		producer.Stop()
		requests += int(producer.Requests())
	}

	res := &Result{
		Scenario: s,
		Edges:    m.Edges(),
		Status:   m.Channel.Status(),
		Requests: requests,
	}
	res.Report, err = Analyze(res.Edges, uint64(cfg.Ticks(cfg.Period)))
	if err != nil {
		return res, err
	}
	return res, nil
}
