package base

import "errors"

// Sentinel errors shared across the core. Reused by name rather than
// constructed ad hoc at call sites.
var (
	ErrorNilPtr                  = errors.New("nil pointer given")
	ErrorInvalidInput            = errors.New("invalid input given")
	ErrorIllegalOperation        = errors.New("illegal operation for current state")
	ErrorAlreadyInitialized      = errors.New("replicator is already initialized")
	ErrorInvalidRoleModification = errors.New("invalid role modification for current state")
	ErrorInvalidSyncSource       = errors.New("no valid sync source available")
	ErrorOplogStartMissing       = errors.New("requested oplog start point is missing from source")
	ErrorCallbackCanceled        = errors.New("callback canceled")
	ErrorInitialSyncFailure      = errors.New("initial sync failed")
	ErrorShuttingDown            = errors.New("replicator is shutting down")
	ErrorBufferFull              = errors.New("oplog buffer is at capacity")
	ErrorNotRunThread            = errors.New("call made from outside the executor's run thread")
	ErrorMissingDocNotFound      = errors.New("missing doc not found on sync source")
	ErrorExecTimeout             = errors.New("action did not complete before timeout")

	// InvalidStateTransitionErrMsg is a format string: target state, id, current state name, allowed state names.
	InvalidStateTransitionErrMsg = "cannot move to state %v - %v's current state is %v, can only move to [%v]"
)
