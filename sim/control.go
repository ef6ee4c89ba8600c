package sim

import (
	"sync"

	"servopulse/servo"
)

// Control is the control-loop side of a Machine's channel. Hardware runs
// one main loop beside the compare interrupt; on the host several
// goroutines (a Loopback, a Realtime producer, status polling) may want
// the channel, so Control lets one of them in at a time. A compare mask
// keeps out only the dispatcher, and masks taken by two goroutines at once
// would release out of order.
type Control struct {
	mu sync.Mutex
	ch *servo.Channel
}

var _ servo.Controller = (*Control)(nil)

// SetPulseWidth requests a new pulse width in microseconds
func (c *Control) SetPulseWidth(us uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch.SetPulseWidth(us)
}

// Status returns a snapshot of the channel
func (c *Control) Status() servo.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.Status()
}

// Shutdown stops the channel and holds the output low
func (c *Control) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch.Shutdown()
}
