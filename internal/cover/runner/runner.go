// Package runner runs a toggle.Controller in its own goroutine and exposes it
// as a cover.Cover. Ticks, commands, endstop edges and restores are all
// serialized through one event loop, which is the only goroutine touching the
// controller.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/jkaflik/garage2mqtt/internal/cover/driver/toggle"
	"github.com/jkaflik/garage2mqtt/internal/endstop"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTickInterval = 50 * time.Millisecond
	eventQueueSize      = 16
)

var (
	ErrStopped    = errors.New("cover runner stopped")
	ErrNotApplied = errors.New("position restore not applied")
)

// Clock returns milliseconds on a wrapping 32 bit counter.
type Clock func() uint32

// NewClock returns a Clock counting from now.
func NewClock() Clock {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}

type event struct {
	fn    func(c *toggle.Controller, now uint32) error
	reply chan error
}

type Option func(r *Runner)

func WithClock(clock Clock) Option {
	return func(r *Runner) {
		r.clock = clock
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.tickInterval = d
	}
}

type Runner struct {
	controller  *toggle.Controller
	openSensor  endstop.Sensor
	closeSensor endstop.Sensor

	clock        Clock
	tickInterval time.Duration

	events chan event
	done   chan struct{}

	mu       sync.RWMutex
	state    cover.State
	handlers []cover.UpdateHandler
}

// New wraps controller. Either sensor may be nil when the door has no such
// endstop; a missing endstop always reads as not reached.
func New(controller *toggle.Controller, open, closed endstop.Sensor, opts ...Option) *Runner {
	r := &Runner{
		controller:   controller,
		openSensor:   open,
		closeSensor:  closed,
		clock:        NewClock(),
		tickInterval: DefaultTickInterval,
		events:       make(chan event, eventQueueSize),
		done:         make(chan struct{}),
		state:        controller.State(),
	}
	for _, opt := range opts {
		opt(r)
	}

	controller.OnUpdate(r.publish)

	return r
}

// Run owns the controller until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	name := r.controller.Name()

	// watch before reading: an edge between the read and Setup is queued and
	// applied after Setup, and a repeated level is ignored by the controller
	if err := r.watch(ctx, r.openSensor, toggle.EndstopOpen); err != nil {
		return err
	}
	if err := r.watch(ctx, r.closeSensor, toggle.EndstopClose); err != nil {
		return err
	}

	open, closed, err := r.readEndstops()
	if err != nil {
		return errors.Wrapf(err, "%s: initial endstop read", name)
	}
	r.controller.Setup(r.clock(), open, closed)

	var reseed <-chan time.Time
	if d := r.controller.Config().SetupDelay; d > 0 {
		timer := time.NewTimer(time.Duration(d) * time.Millisecond)
		defer timer.Stop()
		reseed = timer.C
	}

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	logrus.Infof("%s: cover runner started", name)

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("%s: cover runner stopped", name)
			return nil
		case <-ticker.C:
			r.controller.Tick(r.clock())
		case <-reseed:
			reseed = nil
			open, closed, err := r.readEndstops()
			if err != nil {
				logrus.Errorf("%s: delayed endstop read failed: %s", name, err)
				continue
			}
			r.controller.Reseed(r.clock(), open, closed)
		case ev := <-r.events:
			now := r.clock()
			err := ev.fn(r.controller, now)
			if ev.reply != nil {
				ev.reply <- err
			}
			// act on the new intent right away instead of on the next tick
			r.controller.Tick(now)
		}
	}
}

// Done is closed once Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) readEndstops() (open, closed bool, err error) {
	if r.openSensor != nil {
		if open, err = r.openSensor.State(); err != nil {
			return false, false, errors.Wrap(err, "open endstop")
		}
	}
	if r.closeSensor != nil {
		if closed, err = r.closeSensor.State(); err != nil {
			return false, false, errors.Wrap(err, "close endstop")
		}
	}

	return open, closed, nil
}

func (r *Runner) watch(ctx context.Context, s endstop.Sensor, which toggle.Endstop) error {
	if s == nil {
		return nil
	}

	err := s.Watch(func(state bool) {
		ev := event{fn: func(c *toggle.Controller, now uint32) error {
			c.EndstopEdge(now, which, state)
			return nil
		}}

		select {
		case r.events <- ev:
		case <-ctx.Done():
		case <-r.done:
		}
	})

	return errors.Wrapf(err, "%s: watch %s endstop", r.controller.Name(), which)
}

// send queues fn. It returns as soon as fn is queued unless wait is set, in
// which case it returns the result of fn.
func (r *Runner) send(ctx context.Context, wait bool, fn func(c *toggle.Controller, now uint32) error) error {
	select {
	case <-r.done:
		return errors.Wrap(ErrStopped, r.controller.Name())
	default:
	}

	ev := event{fn: fn}
	if wait {
		ev.reply = make(chan error, 1)
	}

	select {
	case r.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errors.Wrap(ErrStopped, r.controller.Name())
	}

	if !wait {
		return nil
	}

	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errors.Wrap(ErrStopped, r.controller.Name())
	}
}

func (r *Runner) control(ctx context.Context, cmd toggle.Command) error {
	return r.send(ctx, false, func(c *toggle.Controller, now uint32) error {
		c.Control(cmd)
		return nil
	})
}

func (r *Runner) publish(state cover.State) {
	r.mu.Lock()
	r.state = state
	handlers := make([]cover.UpdateHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

func (r *Runner) Name() string {
	return r.controller.Name()
}

func (r *Runner) Position() float64 {
	return r.State().Position
}

func (r *Runner) State() cover.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state
}

// OnUpdate adds h to the handlers called on every state report. Handlers run
// on the event loop goroutine.
func (r *Runner) OnUpdate(h cover.UpdateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, h)
}

func (r *Runner) Open(ctx context.Context) error {
	return r.control(ctx, toggle.PositionCommand(cover.PositionOpen))
}

func (r *Runner) Close(ctx context.Context) error {
	return r.control(ctx, toggle.PositionCommand(cover.PositionClosed))
}

func (r *Runner) Stop(ctx context.Context) error {
	return r.control(ctx, toggle.Command{Kind: toggle.CommandStop})
}

func (r *Runner) Toggle(ctx context.Context) error {
	return r.control(ctx, toggle.Command{Kind: toggle.CommandToggle})
}

func (r *Runner) Press(ctx context.Context) error {
	return r.control(ctx, toggle.Command{Kind: toggle.CommandPress})
}

func (r *Runner) SetPosition(ctx context.Context, position float64) error {
	if position < cover.PositionClosed || position > cover.PositionOpen {
		logrus.Warnf("%s: position %.2f out of range, clamping", r.controller.Name(), position)
	}

	return r.control(ctx, toggle.PositionCommand(position))
}

// RestorePosition waits for the event loop to apply the position. It returns
// ErrNotApplied when the controller refused it.
func (r *Runner) RestorePosition(ctx context.Context, position float64) error {
	return r.send(ctx, true, func(c *toggle.Controller, now uint32) error {
		if !c.Restore(position) {
			return errors.Wrapf(ErrNotApplied, "%s: door is moving or at an endstop", c.Name())
		}
		return nil
	})
}

var _ cover.Restorable = (*Runner)(nil)
