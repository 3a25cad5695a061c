package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

// recomputePosition integrates the time since the last recompute into the
// position. An idle door only moves the timestamp forward, so a later motion
// does not inherit the idle period.
func (c *Controller) recomputePosition(now uint32) {
	if c.currentOperation != cover.OperationIdle {
		dir := 1.0
		duration := c.cfg.OpenDuration
		if c.currentOperation == cover.OperationClosing {
			dir = -1.0
			duration = c.cfg.CloseDuration
		}

		// unsigned subtraction keeps the delta correct across clock rollover
		elapsed := now - c.lastRecomputeTime
		c.position = clamp(c.position + dir*float64(elapsed)/float64(duration))
		logrus.Tracef("%s: position %.4f after %dms %s", c.name, c.position, elapsed, c.currentOperation)
	}

	c.lastRecomputeTime = now
}
