//go:build linux

package endstop

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// Line is an endstop wired to a GPIO line, watched for both edges.
type Line struct {
	name string
	line *gpiocdev.Line

	mu      sync.Mutex
	handler func(bool)
}

// NewLine requests offset on chip as an input. Active low lines (a switch
// closing to ground) are biased with the internal pull up.
func NewLine(name, chip string, offset int, activeLow bool, debounce time.Duration) (*Line, error) {
	l := &Line{name: name}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(l.onEvent),
		gpiocdev.WithConsumer("garage2mqtt"),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: request %s line %d", name, chip, offset)
	}
	l.line = line

	return l, nil
}

func (l *Line) State() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, errors.Wrapf(err, "%s: read line", l.name)
	}

	return v == 1, nil
}

func (l *Line) Watch(h func(state bool)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handler = h
	return nil
}

func (l *Line) onEvent(evt gpiocdev.LineEvent) {
	state := evt.Type == gpiocdev.LineEventRisingEdge
	logrus.Tracef("%s: line event %t (seqno %d)", l.name, state, evt.Seqno)

	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	if h != nil {
		h(state)
	}
}

func (l *Line) Close() error {
	return l.line.Close()
}
