package toggle

import (
	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

type CommandKind uint8

const (
	CommandPosition CommandKind = iota
	CommandStop
	CommandToggle
	// CommandPress asks for a single switch press, whatever it does to the door.
	CommandPress
)

type Command struct {
	Kind     CommandKind
	Position float64
}

func PositionCommand(position float64) Command {
	return Command{Kind: CommandPosition, Position: position}
}

// Control records the intent of a command. It never presses the switch nor
// changes the current operation; Tick acts on the recorded intent.
func (c *Controller) Control(cmd Command) {
	switch cmd.Kind {
	case CommandStop:
		logrus.Infof("%s: stop command received", c.name)
		if c.currentOperation != cover.OperationIdle {
			c.targetOperation = TargetIdle
		}
	case CommandToggle:
		logrus.Infof("%s: toggle command received", c.name)
		c.targetOperation = TargetNone
		c.toggleRequested = true
	case CommandPress:
		logrus.Infof("%s: press command received", c.name)
		c.targetOperation = TargetActivateOnce
	case CommandPosition:
		pos := clamp(cmd.Position)
		logrus.Infof("%s: position command received: %.2f", c.name, pos)

		if pos == c.position {
			logrus.Debugf("%s: already on a position %.2f", c.name, pos)
			return
		}

		if pos < c.position {
			c.targetOperation = TargetClose
		} else {
			c.targetOperation = TargetOpen
		}
		c.targetPosition = pos
	default:
		logrus.Warnf("%s: unsupported command %d", c.name, cmd.Kind)
	}
}
