package iptables

import (
	"github.com/denniswebb/shuttlewire/internal/rules"
)

// State tracks a session chain through its lifecycle.
type State int

const (
	StateAbsent State = iota
	StateCreated
	StateBound
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	default:
		return "absent"
	}
}

// SessionChain is the nat chain owned by one redirect session.
type SessionChain struct {
	Family rules.Family
	Table  string
	Name   string
	State  State
}

// Bound reports whether both hook jumps point at the chain.
func (c *SessionChain) Bound() bool {
	return c != nil && c.State == StateBound
}

// Recorder receives lifecycle events worth counting.
type Recorder interface {
	NonfatalFailure(step string)
	LoopGuardFallback()
}

type noopRecorder struct{}

func (noopRecorder) NonfatalFailure(string) {}

func (noopRecorder) LoopGuardFallback() {}
