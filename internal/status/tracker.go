// Package status keeps the latest state of every cover for readers outside the
// event loops, such as the web server.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 16

type Snapshot struct {
	Name      string          `json:"name"`
	State     string          `json:"state"`
	Position  float64         `json:"position"`
	Operation cover.Operation `json:"operation"`
	Fault     cover.Fault     `json:"fault"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewSnapshot(name string, state cover.State) Snapshot {
	return Snapshot{
		Name:      name,
		State:     state.Name(),
		Position:  state.Position,
		Operation: state.Operation,
		Fault:     state.Fault,
		UpdatedAt: time.Now(),
	}
}

type Tracker struct {
	mu          sync.RWMutex
	snapshots   map[string]Snapshot
	subscribers map[chan Snapshot]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		snapshots:   map[string]Snapshot{},
		subscribers: map[chan Snapshot]struct{}{},
	}
}

// Track records the current state of c and follows its updates.
func (t *Tracker) Track(c cover.Cover) {
	name := c.Name()
	t.update(NewSnapshot(name, c.State()))

	c.OnUpdate(func(state cover.State) {
		t.update(NewSnapshot(name, state))
	})
}

func (t *Tracker) update(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshots[s.Name] = s

	for ch := range t.subscribers {
		select {
		case ch <- s:
		default:
			logrus.Warnf("%s: status subscriber is too slow, update dropped", s.Name)
		}
	}
}

func (t *Tracker) Get(name string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.snapshots[name]
	return s, ok
}

// All returns every snapshot ordered by cover name.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]Snapshot, 0, len(t.snapshots))
	for _, s := range t.snapshots {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})

	return all
}

// Subscribe returns a channel receiving every update until cancel is called.
// A subscriber that does not keep up misses updates.
func (t *Tracker) Subscribe() (updates <-chan Snapshot, cancel func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}
