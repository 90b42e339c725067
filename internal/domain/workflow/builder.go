package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a guarded transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects transition rules and builds independent machines from them
type StateMachineBuilder interface {
	// Configure returns the rule set for transitions leaving state
	Configure(state State) StateConfiguration

	// Build creates a machine positioned at initialState
	Build(initialState State) StateMachine
}

// StateConfiguration adds transitions leaving one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

// transitionTable maps trigger to candidate transitions, tried in registration order
type transitionTable map[Trigger][]transition

type stateConfig struct {
	table transitionTable
}

type stateMachineBuilder struct {
	states map[State]*stateConfig
}

// NewBuilder creates an empty state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{states: make(map[State]*stateConfig)}
}

// Configure panics on unknown states; configurations are static program data
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	cfg, ok := b.states[state]
	if !ok {
		cfg = &stateConfig{table: make(transitionTable)}
		b.states[state] = cfg
	}
	return cfg
}

// Build copies the rule tables so later Configure calls do not leak into built machines
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	rules := make(map[State]transitionTable, len(b.states))
	for state, cfg := range b.states {
		table := make(transitionTable, len(cfg.table))
		for trigger, ts := range cfg.table {
			table[trigger] = append([]transition(nil), ts...)
		}
		rules[state] = table
	}

	return &stateMachine{current: initialState, rules: rules}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.table[trigger] = append(c.table[trigger], transition{toState: toState, guard: guard})
	return c
}
