// Package circuit tracks consecutive failures per app so the gateway can
// report a provider that keeps failing and notice when it recovers.
package circuit

import (
	"slices"
	"sync"
)

// Transition is what a recorded outcome did to an app's circuit.
type Transition int

const (
	Unchanged Transition = iota
	// Opened: the failure threshold was just reached.
	Opened
	// Closed: an open circuit saw enough consecutive successes.
	Closed
)

type circuit struct {
	open      bool
	failures  int
	successes int
}

// Tracker holds one circuit per app name. The zero value is not usable; call
// NewTracker.
type Tracker struct {
	mu         sync.Mutex
	circuits   map[string]*circuit
	openAfter  int
	closeAfter int
}

// Option configures a Tracker.
type Option func(*Tracker)

// OpenAfter sets the consecutive failures that open a circuit. Default 5.
func OpenAfter(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.openAfter = n
		}
	}
}

// CloseAfter sets the consecutive successes that close an open circuit.
// Default 3.
func CloseAfter(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.closeAfter = n
		}
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{circuits: make(map[string]*circuit), openAfter: 5, closeAfter: 3}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) get(app string) *circuit {
	c, ok := t.circuits[app]
	if !ok {
		c = &circuit{}
		t.circuits[app] = c
	}
	return c
}

// Failure records a failed call to app.
func (t *Tracker) Failure(app string) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(app)
	c.successes = 0
	c.failures++
	if !c.open && c.failures >= t.openAfter {
		c.open = true
		return Opened
	}
	return Unchanged
}

// Success records a healthy call to app. A closed circuit forgets its
// failures at once; an open one needs CloseAfter successes in a row.
func (t *Tracker) Success(app string) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.get(app)
	if !c.open {
		c.failures = 0
		return Unchanged
	}
	c.successes++
	if c.successes < t.closeAfter {
		return Unchanged
	}
	*c = circuit{}
	return Closed
}

// IsOpen reports whether app's circuit is open.
func (t *Tracker) IsOpen(app string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.circuits[app]
	return ok && c.open
}

// OpenApps lists apps with an open circuit, sorted.
func (t *Tracker) OpenApps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var apps []string
	for name, c := range t.circuits {
		if c.open {
			apps = append(apps, name)
		}
	}
	slices.Sort(apps)
	return apps
}
