package common

import "github.com/syncset/replcore/base"

// FetcherState is the query-fetcher's lifecycle: idle -> scheduled -> active
// (one or more batches delivered) -> done/cancelled. Validated the same way
// as ReplicatorState, so an illegal jump (e.g. scheduling an already-active
// fetcher) surfaces as an error instead of silently clobbering state.
type FetcherState int

const (
	FetcherIdle FetcherState = iota
	FetcherScheduled
	FetcherActive
	FetcherDone
	FetcherCancelled
)

func (s FetcherState) String() string {
	switch s {
	case FetcherIdle:
		return "Idle"
	case FetcherScheduled:
		return "Scheduled"
	case FetcherActive:
		return "Active"
	case FetcherDone:
		return "Done"
	case FetcherCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// NextAction is the closed enumeration a batch callback uses to tell its
// fetcher what to do next.
type NextAction int

const (
	Continue NextAction = iota
	GetMore
	NoAction
)

func (a NextAction) String() string {
	switch a {
	case Continue:
		return "Continue"
	case GetMore:
		return "GetMore"
	case NoAction:
		return "NoAction"
	default:
		return "Unknown"
	}
}

// Batch is one find/getMore result page.
type Batch struct {
	Documents []base.Document
	CursorId  int64
	Ns        base.Namespace
}

// BatchCallback is invoked once per delivered batch. Setting *next to
// GetMore tells the owning fetcher to automatically issue the next getMore
// against Batch.CursorId/Ns; any other value ends the fetch.
type BatchCallback func(batch Batch, next *NextAction) error

// FetcherStateHolder guards a FetcherState behind a validated Set, mirroring
// ReplicatorStateHolder.
type FetcherStateHolder struct {
	state FetcherState
}

func (h *FetcherStateHolder) Get() FetcherState {
	if h == nil {
		return FetcherIdle
	}
	return h.state
}

func (h *FetcherStateHolder) Set(state FetcherState) error {
	allowed := map[FetcherState][]FetcherState{
		FetcherIdle:      {FetcherScheduled, FetcherCancelled},
		FetcherScheduled: {FetcherActive, FetcherDone, FetcherCancelled},
		FetcherActive:    {FetcherActive, FetcherDone, FetcherCancelled},
		FetcherDone:      {},
		FetcherCancelled: {},
	}

	if state == h.state {
		return nil
	}

	for _, next := range allowed[h.state] {
		if next == state {
			h.state = state
			return nil
		}
	}
	return base.ErrorInvalidRoleModification
}
