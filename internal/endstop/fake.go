package endstop

import "sync"

// Fake is an endstop whose level is set by hand.
type Fake struct {
	mu      sync.Mutex
	state   bool
	handler func(bool)

	// ReadError, if set, is returned by State.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

func NewFake(state bool) *Fake {
	return &Fake{state: state}
}

func (f *Fake) State() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}

	return f.state, nil
}

func (f *Fake) Watch(h func(state bool)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = h
	return nil
}

// Set changes the level and notifies the watcher when it differs from the
// previous one.
func (f *Fake) Set(state bool) {
	f.mu.Lock()
	changed := f.state != state
	f.state = state
	h := f.handler
	f.mu.Unlock()

	if changed && h != nil {
		h(state)
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Closed = true
	return nil
}
