//go:build !linux

package endstop

import (
	"time"

	"github.com/pkg/errors"
)

// Line is not available on non-Linux platforms.
type Line struct{}

func NewLine(name, chip string, offset int, activeLow bool, debounce time.Duration) (*Line, error) {
	return nil, errors.New("gpiocdev: not supported on this platform (requires Linux)")
}

func (l *Line) State() (bool, error) {
	return false, errors.New("gpiocdev: not supported")
}

func (l *Line) Watch(h func(state bool)) error {
	return errors.New("gpiocdev: not supported")
}

func (l *Line) Close() error {
	return nil
}
