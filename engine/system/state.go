package system

import "fmt"

// State is the position of one Run call in the transaction lifecycle.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateOpening:     "opening",
	StateOpen:        "open",
	StateCommitting:  "committing",
	StateCommitted:   "committed",
	StateRollingBack: "rolling_back",
	StateRolledBack:  "rolled_back",
	StateFailed:      "failed",
}

var transitions = map[State][]State{
	StateIdle:        {StateOpening},
	StateOpening:     {StateOpen, StateFailed},
	StateOpen:        {StateCommitting, StateRollingBack},
	StateCommitting:  {StateCommitted, StateFailed},
	StateRollingBack: {StateRolledBack, StateFailed},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateFailed
}

// CanTransition reports whether the lifecycle allows moving from one state
// to the next.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type lifecycle struct {
	state State
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateIdle}
}

// to advances the lifecycle. An invalid move is a bug in the executor.
func (l *lifecycle) to(next State) {
	if !CanTransition(l.state, next) {
		panic(fmt.Sprintf("system: invalid transaction transition %s -> %s", l.state, next))
	}
	l.state = next
}

func (l *lifecycle) current() State {
	return l.state
}
