// Package relay drives the door switch: a relay held for a short pulse, the
// pins it can be wired to, and a pool bounding how many switches pulse at once.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Relay interface {
	// EnableFor holds the relay for d or until ctx is done, whichever comes
	// first. The relay is always released before it returns.
	EnableFor(ctx context.Context, d time.Duration) error
	IsEnabled() bool
}

// Pool limits how many relays are enabled at the same time, e.g. several door
// switches powered from one supply.
type Pool struct {
	slots chan struct{}
}

func NewPool(size int) *Pool {
	return &Pool{slots: make(chan struct{}, size)}
}

// Wrap returns r sharing the pool slots.
func (p *Pool) Wrap(r Relay) Relay {
	return &pooled{pool: p, relay: r}
}

// InUse returns the number of relays holding a slot.
func (p *Pool) InUse() int {
	return len(p.slots)
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() {
	<-p.slots
}

type pooled struct {
	pool  *Pool
	relay Relay
}

func (p *pooled) EnableFor(ctx context.Context, d time.Duration) error {
	if err := p.pool.acquire(ctx); err != nil {
		return err
	}
	defer p.pool.release()

	return p.relay.EnableFor(ctx, d)
}

func (p *pooled) IsEnabled() bool {
	return p.relay.IsEnabled()
}

// Dumb drives nothing and only logs, for a dry run without hardware.
type Dumb struct {
	Name string

	mu      sync.Mutex
	enabled bool
	pulses  int
}

func (r *Dumb) EnableFor(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.enabled = true
	r.pulses++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enabled = false
		r.mu.Unlock()
	}()

	logrus.Warnf("%s: dry run switch held for %s", r.Name, d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		logrus.Warnf("%s: dry run switch released", r.Name)
		return nil
	case <-ctx.Done():
		logrus.Warnf("%s: dry run switch released early", r.Name)
		return ctx.Err()
	}
}

func (r *Dumb) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.enabled
}

// Enabled returns how many pulses the relay went through.
func (r *Dumb) Enabled() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pulses
}
