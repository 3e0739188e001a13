package pipeline

import (
	"fmt"
	"sync"
)

// State is a transform run's lifecycle position.
type State int

const (
	Uninitialized State = iota
	StatisticsAccumulating
	StatisticsFinalized
	Emitting
	Done
	Failed
)

var stateNames = [...]string{
	Uninitialized:          "uninitialized",
	StatisticsAccumulating: "statistics-accumulating",
	StatisticsFinalized:    "statistics-finalized",
	Emitting:               "emitting",
	Done:                   "done",
	Failed:                 "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Tracker enforces Uninitialized → StatisticsAccumulating →
// StatisticsFinalized → Emitting → Done, with Failed reachable from any
// non-terminal state.
type Tracker struct {
	mu    sync.Mutex
	state State
	err   error
}

// Advance moves to the next state; skipping or reversing is an error.
func (t *Tracker) Advance(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if to == Failed {
		return fmt.Errorf("pipeline: use Fail to enter %s", Failed)
	}
	if t.state.Terminal() || to != t.state+1 {
		return fmt.Errorf("pipeline: illegal transition %s → %s", t.state, to)
	}
	t.state = to
	return nil
}

// Fail records err and moves to Failed. It returns err unchanged so call
// sites can `return t.Fail(err)`.
func (t *Tracker) Fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() {
		t.state = Failed
		t.err = err
	}
	return err
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err is the error recorded by Fail.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
