package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

// activate presses the door switch unless the previous press was less than
// SwitchPressInterval ago. A refused press is not queued.
//
// The switch only toggles, so the resulting operation follows the motor
// controller cycle: a moving door stops, an idle door reverses its last
// direction.
func (c *Controller) activate(now uint32) bool {
	if c.activated && now-c.lastActivationTime <= c.cfg.SwitchPressInterval {
		return false
	}

	if err := c.sw.Press(); err != nil {
		logrus.Errorf("%s: switch press failed: %s", c.name, err)
		// back off for one interval instead of retrying on every tick
		c.lastActivationTime = now
		c.activated = true
		return false
	}

	if c.currentOperation == cover.OperationOpening || c.currentOperation == cover.OperationClosing {
		c.currentOperation = cover.OperationIdle
	} else if c.lastOperation == cover.OperationOpening {
		c.currentOperation = cover.OperationClosing
		c.lastOperation = cover.OperationClosing
	} else {
		c.currentOperation = cover.OperationOpening
		c.lastOperation = cover.OperationOpening
	}

	logrus.Debugf("%s: switch activated, now %s", c.name, c.currentOperation)

	c.lastActivationTime = now
	c.lastRecomputeTime = now
	c.lastPublishTime = now
	c.activated = true
	c.publish()

	return true
}
