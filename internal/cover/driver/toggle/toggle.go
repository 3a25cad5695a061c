// Package toggle drives a garage door through a single momentary switch.
//
// The motor controller behind the switch cycles Stop, Open, Stop, Close, Stop on
// every press, so the door can never be commanded in a direction directly. The
// Controller keeps a time based estimate of the door position, reconciles it
// with the open and close endstops, and decides when the next press brings the
// door closer to the requested target.
//
// Controller is not safe for concurrent use. Every entry point (Setup, Tick,
// Reseed, Control, EndstopEdge, Restore) must be called from a single goroutine; see
// package runner for the event loop that does this.
package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// publishInterval is the minimum time between two periodic state reports while
// the door is moving.
const publishInterval = 1000

type TargetOperation uint8

const (
	// TargetIdle stops the door as soon as possible.
	TargetIdle TargetOperation = iota
	TargetOpen
	TargetClose
	// TargetNone means there is no pending instruction.
	TargetNone
	// TargetActivateOnce presses the switch exactly once.
	TargetActivateOnce
)

func (t TargetOperation) String() string {
	switch t {
	case TargetIdle:
		return "idle"
	case TargetOpen:
		return "open"
	case TargetClose:
		return "close"
	case TargetActivateOnce:
		return "activate_once"
	default:
		return "none"
	}
}

// targetImplies returns the operation a target is satisfied by. TargetNone and
// TargetActivateOnce are never satisfied by any operation.
func targetImplies(t TargetOperation) (cover.Operation, bool) {
	switch t {
	case TargetIdle:
		return cover.OperationIdle, true
	case TargetOpen:
		return cover.OperationOpening, true
	case TargetClose:
		return cover.OperationClosing, true
	}

	return cover.OperationIdle, false
}

// Switch is the physical momentary switch wired to the motor controller.
type Switch interface {
	Press() error
}

// Config holds controller timings in milliseconds.
type Config struct {
	SwitchPressInterval uint32
	OpenDuration        uint32
	CloseDuration       uint32
	// SetupDelay is how long after Setup the endstops are read again and passed
	// to Reseed. Zero disables the second pass.
	SetupDelay uint32
}

func (c Config) Validate() error {
	if c.OpenDuration == 0 {
		return errors.New("open duration must be greater than zero")
	}
	if c.CloseDuration == 0 {
		return errors.New("close duration must be greater than zero")
	}

	return nil
}

type Controller struct {
	name string
	sw   Switch
	cfg  Config

	updateHandler cover.UpdateHandler

	position         float64
	currentOperation cover.Operation
	lastOperation    cover.Operation
	fault            cover.Fault

	targetOperation TargetOperation
	targetPosition  float64
	toggleRequested bool

	openEndstop  bool
	closeEndstop bool

	lastRecomputeTime  uint32
	lastActivationTime uint32
	lastPublishTime    uint32
	// activated is false until the first press or endstop edge, so the very
	// first press is not held back by the debounce gate.
	activated bool
}

func New(name string, sw Switch, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s: invalid configuration", name)
	}
	if sw == nil {
		return nil, errors.Errorf("%s: door switch is required", name)
	}

	return &Controller{
		name:             name,
		sw:               sw,
		cfg:              cfg,
		currentOperation: cover.OperationIdle,
		lastOperation:    cover.OperationOpening,
		targetOperation:  TargetNone,
	}, nil
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) OnUpdate(h cover.UpdateHandler) {
	c.updateHandler = h
}

func (c *Controller) State() cover.State {
	return cover.State{
		Position:  c.position,
		Operation: c.currentOperation,
		Fault:     c.fault,
	}
}

// Setup seeds the position from the endstop levels read at start up.
func (c *Controller) Setup(now uint32, open, closed bool) {
	c.openEndstop = open
	c.closeEndstop = closed
	c.seed()
	c.targetPosition = c.position
	c.lastRecomputeTime = now

	logrus.Infof("%s: setup position %.2f (open endstop %t, close endstop %t)", c.name, c.position, open, closed)
	c.publish()
}

// Reseed repeats Setup with levels read again once the endstops had time to
// settle (see Config.SetupDelay). A door that already started moving keeps its
// estimate, and so does an idle door between the endstops.
func (c *Controller) Reseed(now uint32, open, closed bool) {
	c.openEndstop = open
	c.closeEndstop = closed

	if c.currentOperation != cover.OperationIdle {
		logrus.Debugf("%s: delayed setup skipped, door is %s", c.name, c.currentOperation)
		return
	}
	if !open && !closed && c.fault == cover.FaultNone {
		logrus.Debugf("%s: delayed setup found no endstop, keeping position %.2f", c.name, c.position)
		return
	}

	c.seed()
	c.targetPosition = c.position
	c.lastRecomputeTime = now

	logrus.Infof("%s: delayed setup position %.2f", c.name, c.position)
	c.publish()
}

// Restore adopts a position reported by an outside source, such as a retained
// MQTT message. It only applies while the door is idle between the endstops,
// because the endstops are authoritative.
func (c *Controller) Restore(position float64) bool {
	if c.currentOperation != cover.OperationIdle || c.openEndstop || c.closeEndstop {
		logrus.Debugf("%s: position restore to %.2f ignored", c.name, position)
		return false
	}

	c.position = clamp(position)
	c.targetPosition = c.position
	c.publish()

	return true
}

// seed derives the position from the latest endstop levels. Both endstops
// asserted resolves to closed and raises FaultEndstopConflict.
func (c *Controller) seed() {
	switch {
	case c.openEndstop && c.closeEndstop:
		logrus.Warnf("%s: both endstops asserted, assuming closed", c.name)
		c.fault = cover.FaultEndstopConflict
		c.position = cover.PositionClosed
		c.lastOperation = cover.OperationClosing
	case c.openEndstop:
		c.fault = cover.FaultNone
		c.position = cover.PositionOpen
		c.lastOperation = cover.OperationOpening
	case c.closeEndstop:
		c.fault = cover.FaultNone
		c.position = cover.PositionClosed
		c.lastOperation = cover.OperationClosing
	default:
		// no authoritative information, assume the door is half way
		c.fault = cover.FaultNone
		c.position = 0.5
	}
}

func (c *Controller) publish() {
	if c.updateHandler != nil {
		c.updateHandler(c.State())
	}
}

func clamp(v float64) float64 {
	if v < cover.PositionClosed {
		return cover.PositionClosed
	}
	if v > cover.PositionOpen {
		return cover.PositionOpen
	}

	return v
}
