// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent holds the process-wide tracking consent state and
// notifies the storage layer when it changes.
//
// The state is one of [Granted], [Pending], or [NotGranted]. It
// changes only through [Gate.Set], which the integrating application
// calls from its consent UI. Every registered [Listener] sees every
// transition, in order, before Set returns; this is what lets the
// storage layer move or delete pending batches atomically with respect
// to later writes.
package consent

import (
	"fmt"
	"strings"
	"sync"
)

// State is a tracking consent value.
type State uint8

const (
	// Pending means the user has not decided yet. Events are kept in
	// a bounded holding area until the decision arrives.
	Pending State = iota

	// Granted means events are persisted and uploaded.
	Granted

	// NotGranted means events are dropped on write.
	NotGranted
)

// String returns the lowercase configuration name of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Granted:
		return "granted"
	case NotGranted:
		return "not_granted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Parse converts a configuration string to a State. Matching is case
// insensitive; "not-granted" is accepted as an alias.
func Parse(name string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pending":
		return Pending, nil
	case "granted":
		return Granted, nil
	case "not_granted", "not-granted", "notgranted":
		return NotGranted, nil
	default:
		return 0, fmt.Errorf("unknown consent state %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Listener is notified of consent transitions. Implementations run on
// the caller of Gate.Set and may block it while they move data on
// disk.
type Listener interface {
	ConsentChanged(previous, current State)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(previous, current State)

// ConsentChanged calls f.
func (f ListenerFunc) ConsentChanged(previous, current State) { f(previous, current) }

// Provider is the read side of a Gate, for components that only need
// the current value.
type Provider interface {
	Get() State
}

// Gate is the process-wide consent holder. Safe for concurrent use.
type Gate struct {
	// transition serializes Set calls so listeners observe
	// transitions in the order they were applied.
	transition sync.Mutex

	mu            sync.RWMutex
	state         State
	subscriptions []subscription
	nextID        uint64
}

type subscription struct {
	id       uint64
	listener Listener
}

// NewGate returns a Gate starting in initial.
func NewGate(initial State) *Gate {
	return &Gate{state: initial}
}

// Get returns the current consent state.
func (g *Gate) Get() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Set changes the consent state and notifies listeners. Setting the
// current value again is a no-op and notifies nobody.
func (g *Gate) Set(state State) {
	g.transition.Lock()
	defer g.transition.Unlock()

	g.mu.Lock()
	previous := g.state
	if previous == state {
		g.mu.Unlock()
		return
	}
	g.state = state
	subscriptions := append([]subscription(nil), g.subscriptions...)
	g.mu.Unlock()

	for _, entry := range subscriptions {
		entry.listener.ConsentChanged(previous, state)
	}
}

// Subscribe registers listener for future transitions and returns a
// function that removes it.
func (g *Gate) Subscribe(listener Listener) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.subscriptions = append(g.subscriptions, subscription{id: id, listener: listener})

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, entry := range g.subscriptions {
			if entry.id == id {
				g.subscriptions = append(g.subscriptions[:i], g.subscriptions[i+1:]...)
				return
			}
		}
	}
}
