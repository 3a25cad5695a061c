package relay

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SetPin is a digital output the switch relay is wired to.
type SetPin interface {
	High() error
	Low() error
}

// Wired holds a relay board input for the switch pulse. Most boards energize
// the relay when the input is low; NormalClosed flips that for boards that
// energize on high.
type Wired struct {
	Pin          SetPin
	NormalClosed bool

	mu      sync.Mutex
	enabled bool
}

// Release drives the pin to the de-energized level, e.g. right after start up.
func (w *Wired) Release() error {
	return w.drive(false)
}

func (w *Wired) EnableFor(ctx context.Context, d time.Duration) error {
	if err := w.drive(true); err != nil {
		return errors.Wrap(err, "energize switch relay")
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var err error
	select {
	case <-timer.C:
	case <-ctx.Done():
		logrus.Debug("switch relay released early")
		err = ctx.Err()
	}

	if releaseErr := w.drive(false); releaseErr != nil {
		logrus.Errorf("switch relay release failed: %s", releaseErr)
	}

	return err
}

func (w *Wired) IsEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.enabled
}

// drive sets the pin level that energizes (true) or releases (false) the relay.
func (w *Wired) drive(energize bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	high := energize == w.NormalClosed
	var err error
	if high {
		err = w.Pin.High()
	} else {
		err = w.Pin.Low()
	}
	if err != nil {
		return err
	}

	w.enabled = energize
	return nil
}
