package service_def

import (
	"time"

	"github.com/syncset/replcore/base"
)

// Handle identifies scheduled work so it can be cancelled or waited on.
// Concrete executors are free to use whatever underlies it; callers only
// ever pass it back to Cancel/Wait.
type Handle interface {
	Cancel()
	Wait()
	IsActive() bool
}

// Event is a one-shot signal with wait semantics, used for things like the
// core's onShutdown gate.
type Event interface {
	Signal()
	Wait()
	IsSignaled() bool
}

// Executor is the single shared scheduler every replicator subsystem runs
// its callbacks on. All callbacks execute on one designated run thread;
// there is no concurrency between callbacks, which is what lets the core
// treat its own state as single-threaded outside the public API surface.
//
// One serialized command loop that every collaborator posts work into
// rather than spawning its own goroutines freely.
type Executor interface {
	ScheduleWork(fn func()) Handle
	ScheduleWorkAt(when time.Time, fn func()) Handle
	ScheduleDBWork(fn func(), ns base.Namespace, lockMode string) Handle
	ScheduleRemoteCommand(req interface{}, fn func(resp interface{}, err error)) Handle

	MakeEvent() Event

	Now() time.Time

	// IsRunThread reports whether the calling goroutine is the executor's
	// run thread. Every callback entry point asserts this is true.
	IsRunThread() bool

	// Shutdown stops accepting new work and waits for the run thread to
	// drain.
	Shutdown()
}
