package workflow

import (
	"context"
	"fmt"
)

// StateMachine tracks the current state of one instance and validates transitions
type StateMachine interface {
	State() State

	// CanFire reports whether any transition is registered for trigger in the current
	// state. Guards are not evaluated.
	CanFire(trigger Trigger) bool

	// Fire takes the first transition whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	PermittedTriggers() []Trigger
}

type stateMachine struct {
	current State
	rules   map[State]transitionTable
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.rules[m.current][trigger]) > 0
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := m.rules[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	table := m.rules[m.current]
	triggers := make([]Trigger, 0, len(table))
	for trigger := range table {
		triggers = append(triggers, trigger)
	}
	return triggers
}
