//go:build linux

package relay

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// GpiocdevPin is an output line on a GPIO character device.
type GpiocdevPin struct {
	line *gpiocdev.Line
}

// NewGpiocdevPin requests the line as an output holding initial until the first
// write.
func NewGpiocdevPin(chip string, offset int, initial int) (*GpiocdevPin, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s line %d", chip, offset)
	}

	return &GpiocdevPin{line: line}, nil
}

func (p *GpiocdevPin) High() error {
	return p.line.SetValue(1)
}

func (p *GpiocdevPin) Low() error {
	return p.line.SetValue(0)
}

// Close returns the line to an input so a relay is not left energized.
func (p *GpiocdevPin) Close() error {
	if err := p.line.Reconfigure(gpiocdev.AsInput); err != nil {
		p.line.Close()
		return errors.Wrap(err, "reconfigure line")
	}

	return p.line.Close()
}
