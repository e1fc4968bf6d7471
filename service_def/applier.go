package service_def

import "github.com/syncset/replcore/base"

// ApplyFunc applies one batch of operations and returns the timestamp of the
// last op it successfully applied.
type ApplyFunc func(ops []base.Document) (base.Timestamp, error)

// DoneCallback is invoked exactly once when an Applier finishes a batch,
// carrying the resulting status and the ops that were handed to it (so a
// caller can correlate a failure back to the offending operation for
// missing-document retry).
type DoneCallback func(status base.Status, ops []base.Document)

// Applier runs one batch of oplog operations against local storage off the
// executor's run thread, reporting back through DoneCallback.
type Applier interface {
	Start() error
	Wait()
	Cancel()
	IsActive() bool
}

// ApplierFactory constructs an Applier bound to one batch, matching the
// teacher's inject-the-constructor convention for per-operation workers.
type ApplierFactory func(exec Executor, ops []base.Document, apply ApplyFunc, done DoneCallback) Applier
