// Package connectivity turns the platform reachability signal into a single
// online predicate with push notification of transitions.
package connectivity

import (
	"sort"
	"sync"

	"github.com/kimhsiao/matchday/backend/internal/logging"
)

// State is the raw transport signal. Reachable is nil when the platform
// cannot tell.
type State struct {
	Connected bool  `json:"connected"`
	Reachable *bool `json:"reachable"`
}

// Online reports connected AND (reachable OR unknown).
func (s State) Online() bool {
	return s.Connected && (s.Reachable == nil || *s.Reachable)
}

func (s State) equal(o State) bool {
	if s.Connected != o.Connected {
		return false
	}
	if (s.Reachable == nil) != (o.Reachable == nil) {
		return false
	}
	return s.Reachable == nil || *s.Reachable == *o.Reachable
}

// Bool returns a pointer to b, for building States.
func Bool(b bool) *bool {
	return &b
}

// Monitor holds the current connectivity state and notifies subscribers.
// Callbacks run on the goroutine calling Update, in subscription order.
type Monitor struct {
	mu       sync.Mutex
	state    State
	nextID   int
	subs     map[int]func(online bool)
	onOnline map[int]func()
	log      *logging.Logger
}

// NewMonitor creates a Monitor starting from initial.
func NewMonitor(initial State) *Monitor {
	return &Monitor{
		state:    initial,
		subs:     make(map[int]func(bool)),
		onOnline: make(map[int]func()),
		log:      logging.Component("connectivity"),
	}
}

// IsOnline reports the current online predicate.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online()
}

// State returns the last reported transport state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Update records a new transport state. Subscribers are told the resulting
// online value whenever the state changes; OnOnline callbacks fire only on the
// offline to online edge.
func (m *Monitor) Update(st State) {
	m.mu.Lock()
	if m.state.equal(st) {
		m.mu.Unlock()
		return
	}
	wasOnline := m.state.Online()
	m.state = st
	online := st.Online()
	subs := ordered(m.subs)
	var edge []func()
	if online && !wasOnline {
		edge = ordered(m.onOnline)
	}
	m.mu.Unlock()

	if online != wasOnline {
		m.log.Info("connectivity changed", map[string]interface{}{"online": online})
	}
	for _, fn := range subs {
		fn(online)
	}
	for _, fn := range edge {
		fn()
	}
}

// Subscribe registers fn for every state change. The returned function
// removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// OnOnline registers fn for offline to online transitions only.
func (m *Monitor) OnOnline(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onOnline[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onOnline, id)
	}
}

func ordered[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
