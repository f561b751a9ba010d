package device

import (
	"errors"
	"sync"
)

// ErrStreamClosed is returned when submitting to a closed stream.
var ErrStreamClosed = errors.New("device: stream closed")

// streamDepth bounds how many commands may be queued before Submit blocks.
// Submission is meant to block only briefly, never for the duration of a
// command.
const streamDepth = 32

type command struct {
	name   string
	fn     func() error
	notify chan error
}

// Stream is an ordered queue of asynchronous device commands. A single
// dispatcher goroutine executes commands in submission order, so commands on
// one stream are totally ordered; cross-stream ordering goes through events.
//
// The first command error is sticky: later commands on the stream are
// discarded and the error is reported from Synchronize, mirroring how device
// runtimes surface asynchronous faults.
type Stream struct {
	dev  *Device
	cmds chan command
	done chan struct{}

	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

// NewStream creates an independent command stream on the device.
func (d *Device) NewStream() *Stream {
	s := &Stream{
		dev:  d,
		cmds: make(chan command, streamDepth),
		done: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Device returns the device the stream belongs to.
func (s *Stream) Device() *Device { return s.dev }

func (s *Stream) dispatch() {
	for cmd := range s.cmds {
		if s.Err() == nil && cmd.fn != nil {
			if err := cmd.fn(); err != nil {
				s.setErr(err)
			}
		}
		if cmd.notify != nil {
			cmd.notify <- s.Err()
		}
	}
	close(s.done)
}

// Submit enqueues fn on the stream and returns without waiting for it to
// run. The name identifies the command in errors only.
func (s *Stream) Submit(name string, fn func() error) error {
	return s.submit(command{name: name, fn: fn})
}

func (s *Stream) submit(cmd command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.cmds <- cmd
	return nil
}

// Synchronize blocks until every previously submitted command has executed
// and returns the stream's sticky error, if any.
func (s *Stream) Synchronize() error {
	notify := make(chan error, 1)
	if err := s.submit(command{notify: notify}); err != nil {
		// Stream already drained; report whatever stuck.
		if serr := s.Err(); serr != nil {
			return serr
		}
		return err
	}
	return <-notify
}

// Err returns the sticky stream error without synchronizing.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops accepting commands, drains the queue, and returns the sticky
// error. Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.cmds)
	}
	s.mu.Unlock()
	<-s.done
	return s.Err()
}

// Event marks a point in a stream's command order that other streams can
// wait on.
type Event struct {
	ch chan struct{}
}

// Record enqueues an event marker. The event fires once every command
// submitted before it has executed.
func (s *Stream) Record() (*Event, error) {
	e := &Event{ch: make(chan struct{})}
	err := s.submit(command{name: "event_record", fn: func() error {
		close(e.ch)
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Wait enqueues a command that holds the stream until e fires. Waiting on an
// event that is never recorded stalls the stream; that ordering obligation is
// the caller's, as with any cross-stream dependency.
func (s *Stream) Wait(e *Event) error {
	return s.submit(command{name: "event_wait", fn: func() error {
		<-e.ch
		return nil
	}})
}
