package relay

import (
	"github.com/stianeikeland/go-rpio"
)

// RpioPin drives a Raspberry Pi header pin through /dev/gpiomem. rpio.Open must
// have been called before the pin is created.
type RpioPin struct {
	pin rpio.Pin
}

func NewRpioPin(pin uint8, initialHigh bool) *RpioPin {
	p := &RpioPin{pin: rpio.Pin(pin)}
	if initialHigh {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	p.pin.Output()

	return p
}

func (p *RpioPin) High() error {
	p.pin.Write(rpio.High)
	return nil
}

func (p *RpioPin) Low() error {
	p.pin.Write(rpio.Low)
	return nil
}
