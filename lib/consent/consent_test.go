// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"sync"
	"testing"
)

type transition struct {
	previous, current State
}

func TestGateNotifiesTransitionsInOrder(t *testing.T) {
	gate := NewGate(Pending)
	var seen []transition
	gate.Subscribe(ListenerFunc(func(previous, current State) {
		seen = append(seen, transition{previous, current})
	}))

	gate.Set(Granted)
	gate.Set(Granted) // no-op
	gate.Set(NotGranted)

	want := []transition{{Pending, Granted}, {Granted, NotGranted}}
	if len(seen) != len(want) {
		t.Fatalf("got %d transitions %v, want %v", len(seen), seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
	if gate.Get() != NotGranted {
		t.Errorf("Get() = %v, want not_granted", gate.Get())
	}
}

func TestGateUnsubscribe(t *testing.T) {
	gate := NewGate(Pending)
	calls := 0
	unsubscribe := gate.Subscribe(ListenerFunc(func(State, State) { calls++ }))
	other := 0
	gate.Subscribe(ListenerFunc(func(State, State) { other++ }))

	gate.Set(Granted)
	unsubscribe()
	gate.Set(Pending)

	if calls != 1 {
		t.Errorf("unsubscribed listener called %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("remaining listener called %d times, want 2", other)
	}
}

func TestGateConcurrentSetSerializesListeners(t *testing.T) {
	gate := NewGate(Pending)
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	gate.Subscribe(ListenerFunc(func(State, State) {
		mu.Lock()
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		mu.Unlock()
		mu.Lock()
		inside--
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Set(State(i % 3))
		}()
	}
	wg.Wait()

	if maxInside > 1 {
		t.Fatalf("listeners ran concurrently (max %d)", maxInside)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  State
		err   bool
	}{
		{"granted", Granted, false},
		{"PENDING", Pending, false},
		{"not_granted", NotGranted, false},
		{"not-granted", NotGranted, false},
		{"maybe", 0, true},
	}
	for _, test := range tests {
		got, err := Parse(test.input)
		if (err != nil) != test.err {
			t.Errorf("Parse(%q) error = %v, want error %v", test.input, err, test.err)
			continue
		}
		if !test.err && got != test.want {
			t.Errorf("Parse(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, state := range []State{Pending, Granted, NotGranted} {
		text, err := state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", state, err)
		}
		var decoded State
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if decoded != state {
			t.Errorf("round trip %v -> %q -> %v", state, text, decoded)
		}
	}
}
