package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

// Tick advances the controller to now. It must be called frequently; every
// decision (pressing the switch, clearing a reached target, periodic reports)
// happens here, in a fixed order:
//
//  1. recompute the position
//  2. a pending toggle
//  3. a target operation the door is not doing yet
//  4. a target operation the door is already doing is cleared
//  5. an intermediate target position that was crossed stops the door
//  6. a moving door reports its state at most once per second
func (c *Controller) Tick(now uint32) {
	c.recomputePosition(now)

	implied, satisfiable := targetImplies(c.targetOperation)

	switch {
	case c.toggleRequested:
		if c.activate(now) {
			c.toggleRequested = false
			c.targetPosition = c.operationTarget()
		}
	case c.targetOperation != TargetNone && !(satisfiable && implied == c.currentOperation):
		if c.activate(now) && c.targetOperation == TargetActivateOnce {
			c.targetOperation = TargetNone
			c.targetPosition = c.operationTarget()
		}
	case satisfiable && implied == c.currentOperation:
		logrus.Debugf("%s: target operation %s reached", c.name, c.targetOperation)
		c.targetOperation = TargetNone
	case c.currentOperation != cover.OperationIdle && c.isAtTarget():
		// full open and full close are left to the endstops
		if c.targetPosition != cover.PositionClosed && c.targetPosition != cover.PositionOpen {
			if c.activate(now) {
				logrus.Infof("%s: target position %.2f reached", c.name, c.targetPosition)
			}
		}
	}

	if c.currentOperation != cover.OperationIdle && now-c.lastPublishTime > publishInterval {
		c.publish()
		c.lastPublishTime = now
	}
}

func (c *Controller) isAtTarget() bool {
	return (c.currentOperation == cover.OperationOpening && c.position >= c.targetPosition) ||
		(c.currentOperation == cover.OperationClosing && c.position <= c.targetPosition)
}

// operationTarget is the position the current operation heads for.
func (c *Controller) operationTarget() float64 {
	switch c.currentOperation {
	case cover.OperationOpening:
		return cover.PositionOpen
	case cover.OperationClosing:
		return cover.PositionClosed
	}

	return c.position
}
