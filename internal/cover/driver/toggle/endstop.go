package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

type Endstop uint8

const (
	EndstopOpen Endstop = iota
	EndstopClose
)

func (e Endstop) String() string {
	if e == EndstopOpen {
		return "open"
	}

	return "close"
}

// EndstopEdge handles a transition of one of the endstops. Reaching an endstop
// is the only correction of the estimated position; leaving one without a
// matching believed motion means something else (a remote) moved the door.
func (c *Controller) EndstopEdge(now uint32, which Endstop, state bool) {
	level := &c.openEndstop
	if which == EndstopClose {
		level = &c.closeEndstop
	}
	if *level == state {
		logrus.Debugf("%s: %s endstop already %t", c.name, which, state)
		return
	}
	*level = state

	wasConflict := c.fault == cover.FaultEndstopConflict

	if c.openEndstop && c.closeEndstop {
		c.targetOperation = TargetNone
		c.currentOperation = cover.OperationIdle
		c.seed()
		c.targetPosition = c.position
		c.resetTimestamps(now)
		c.publish()
		return
	}

	if wasConflict {
		logrus.Infof("%s: endstop conflict cleared", c.name)
		c.seed()
		c.targetPosition = c.position
		c.resetTimestamps(now)
		c.publish()
		return
	}

	if state {
		c.endstopReached(now, which)
	} else {
		c.endstopLeft(now, which)
	}
}

func (c *Controller) endstopReached(now uint32, which Endstop) {
	logrus.Infof("%s: %s endstop reached", c.name, which)

	c.targetOperation = TargetNone
	c.currentOperation = cover.OperationIdle
	if which == EndstopOpen {
		c.position = cover.PositionOpen
		c.lastOperation = cover.OperationOpening
	} else {
		c.position = cover.PositionClosed
		c.lastOperation = cover.OperationClosing
	}

	c.resetTimestamps(now)
	c.publish()
}

func (c *Controller) endstopLeft(now uint32, which Endstop) {
	away, target := cover.OperationClosing, cover.PositionClosed
	if which == EndstopClose {
		away, target = cover.OperationOpening, cover.PositionOpen
	}

	if c.currentOperation == away {
		logrus.Debugf("%s: left %s endstop", c.name, which)
		return
	}

	logrus.Infof("%s: left %s endstop without a command, external %s detected", c.name, which, away)

	c.currentOperation = away
	c.lastOperation = away
	c.targetPosition = target

	c.resetTimestamps(now)
	c.publish()
}

func (c *Controller) resetTimestamps(now uint32) {
	c.lastActivationTime = now
	c.lastRecomputeTime = now
	c.lastPublishTime = now
	c.activated = true
}
