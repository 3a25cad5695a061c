package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrPulseActive = errors.New("switch pulse still active")

// Momentary turns a relay into a push button: every Press enables the relay for
// one Pulse. The pulse runs in the background so Press never blocks the caller.
type Momentary struct {
	ctx   context.Context
	name  string
	relay Relay
	pulse time.Duration

	busy int32
	wg   sync.WaitGroup
}

func NewMomentary(ctx context.Context, name string, r Relay, pulse time.Duration) *Momentary {
	return &Momentary{ctx: ctx, name: name, relay: r, pulse: pulse}
}

func (m *Momentary) Pulse() time.Duration {
	return m.pulse
}

func (m *Momentary) Press() error {
	if err := m.ctx.Err(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&m.busy, 0, 1) {
		return errors.Wrap(ErrPulseActive, m.name)
	}

	logrus.Debugf("%s: press switch for %s", m.name, m.pulse.String())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer atomic.StoreInt32(&m.busy, 0)

		if err := m.relay.EnableFor(m.ctx, m.pulse); err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				logrus.Infof("%s: switch press canceled", m.name)
			} else {
				logrus.Errorf("%s: enable relay error: %s", m.name, err)
			}
		}
	}()

	return nil
}

// Wait blocks until the pulse in progress, if any, is over.
func (m *Momentary) Wait() {
	m.wg.Wait()
}
