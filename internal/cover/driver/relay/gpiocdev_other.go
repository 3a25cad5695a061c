//go:build !linux

package relay

import "github.com/pkg/errors"

// GpiocdevPin is not available on non-Linux platforms.
type GpiocdevPin struct{}

func NewGpiocdevPin(chip string, offset int, initial int) (*GpiocdevPin, error) {
	return nil, errors.New("gpiocdev: not supported on this platform (requires Linux)")
}

func (p *GpiocdevPin) High() error {
	return errors.New("gpiocdev: not supported")
}

func (p *GpiocdevPin) Low() error {
	return errors.New("gpiocdev: not supported")
}

func (p *GpiocdevPin) Close() error {
	return nil
}
