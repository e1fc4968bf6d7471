package common

import (
	"github.com/pkg/errors"

	"github.com/syncset/replcore/base"
)

// ReplicatorState is the core's top-level state, validated on every
// transition: the new state is checked against the current one rather
// than set blind.
type ReplicatorState int

const (
	Uninitialized ReplicatorState = iota
	InitialSync
	Steady
	RollbackState
	ShuttingDown
	Shutdown
)

func (s ReplicatorState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case InitialSync:
		return "InitialSync"
	case Steady:
		return "Steady"
	case RollbackState:
		return "Rollback"
	case ShuttingDown:
		return "ShuttingDown"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ReplicatorStateHolder guards a ReplicatorState behind a validated Set(...)
// call: a caller can never silently jump to an illegal state.
type ReplicatorStateHolder struct {
	state ReplicatorState
}

func (h *ReplicatorStateHolder) Get() ReplicatorState {
	if h == nil {
		return Uninitialized
	}
	return h.state
}

// Set validates state against the current value and moves to it, returning
// base.ErrorInvalidRoleModification (wrapped with the offending transition)
// if the move isn't legal.
func (h *ReplicatorStateHolder) Set(state ReplicatorState, id string) error {
	allowed := map[ReplicatorState][]ReplicatorState{
		Uninitialized: {InitialSync, Steady, ShuttingDown},
		InitialSync:   {Steady, RollbackState, Uninitialized, ShuttingDown},
		Steady:        {RollbackState, InitialSync, ShuttingDown},
		RollbackState: {InitialSync, ShuttingDown},
		ShuttingDown:  {Shutdown},
		Shutdown:      {},
	}

	if state == h.state {
		return nil
	}

	ok := false
	for _, next := range allowed[h.state] {
		if next == state {
			ok = true
			break
		}
	}
	if !ok {
		return errors.Wrapf(base.ErrorInvalidRoleModification, base.InvalidStateTransitionErrMsg, state, id, h.state, allowed[h.state])
	}

	h.state = state
	return nil
}
