package relay

import (
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

// Mcp23017Pin is an output of an MCP23017 I2C port expander.
type Mcp23017Pin struct {
	device *mcp23017.Device
	pin    uint8
}

func NewMcp23017Pin(device *mcp23017.Device, pin uint8) (*Mcp23017Pin, error) {
	if err := device.PinMode(pin, mcp23017.OUTPUT); err != nil {
		return nil, errors.Wrapf(err, "mcp23017: pin %d as output", pin)
	}

	return &Mcp23017Pin{device: device, pin: pin}, nil
}

func (p *Mcp23017Pin) High() error {
	return p.device.DigitalWrite(p.pin, mcp23017.HIGH)
}

func (p *Mcp23017Pin) Low() error {
	return p.device.DigitalWrite(p.pin, mcp23017.LOW)
}
