package link

import (
	"sync"

	"servopulse/core"
	"servopulse/host/serial"
	"servopulse/protocol"
	"servopulse/servo"
)

// Loopback runs the firmware command layer in-process on one end of a
// pipe. The other end is a Port a Client can use as if it were the
// device. The firmware command state is global, so only one Loopback may
// run at a time.
type Loopback struct {
	host serial.Port
	dev  serial.Port

	mu        sync.Mutex // serializes frame handling
	transport *protocol.Transport
	out       *protocol.ScratchOutput
	clock     func() uint32

	done chan struct{}
}

// NewLoopback registers the core and servo commands for ctl and starts
// serving them. clock, if set, feeds the firmware clock before each
// received chunk.
func NewLoopback(ctl servo.Controller, clock func() uint32) *Loopback {
	core.ResetCommands()
	core.InitCoreCommands()
	servo.InitServoCommands(ctl, nil)

	host, dev := serial.Pipe()
	l := &Loopback{
		host:  host,
		dev:   dev,
		out:   protocol.NewScratchOutput(),
		clock: clock,
		done:  make(chan struct{}),
	}
	l.transport = protocol.NewTransport(l.out, core.DispatchCommand)
	l.transport.SetFlushCallback(l.flush)
	core.SetGlobalTransport(l.transport)

	go l.serve()
	return l
}

// Port returns the host end of the link
func (l *Loopback) Port() serial.Port {
	return l.host
}

// HandlerErrors returns the number of commands the firmware rejected
func (l *Loopback) HandlerErrors() uint32 {
	return l.transport.HandlerErrors()
}

func (l *Loopback) serve() {
	defer close(l.done)

	input := protocol.NewFifoBuffer(512)
	buf := make([]byte, 64)
	for {
		// Receive leaves at most one partial frame behind
		n, err := l.dev.Read(buf[:min(len(buf), input.Free())])
		if n > 0 {
			l.mu.Lock()
			if l.clock != nil {
				core.SetTime(l.clock())
			}
			input.Write(buf[:n])
			l.transport.Receive(input)
			l.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// flush writes queued output to the pipe. Called with mu held.
func (l *Loopback) flush() {
	if data := l.out.Result(); len(data) > 0 {
		l.dev.Write(data)
	}
	l.out.Reset()
}

// Close stops the firmware side and waits for it to exit
func (l *Loopback) Close() error {
	err := l.dev.Close()
	<-l.done
	core.SetGlobalTransport(nil)
	return err
}
