package replicator

import (
	"sync"
	"time"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/service_def"
)

// The fakes in this file are hand-written test doubles for the service_def
// collaborator interfaces: one small fake per external interface rather
// than a generated mock.

type fakeHandle struct{ active bool }

func (h *fakeHandle) Cancel()        { h.active = false }
func (h *fakeHandle) Wait()          {}
func (h *fakeHandle) IsActive() bool { return h.active }

type fakeEvent struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func newFakeEvent() *fakeEvent { return &fakeEvent{ch: make(chan struct{})} }

func (e *fakeEvent) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		e.signaled = true
		close(e.ch)
	}
}
func (e *fakeEvent) Wait() { <-e.ch }
func (e *fakeEvent) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

type dbWorkCall struct {
	Ns       base.Namespace
	LockMode string
}

// fakeExecutor runs everything synchronously on the calling goroutine, which
// is indistinguishable from "the run thread" for IsRunThread's purposes
// since this test never calls it from two goroutines at once.
type fakeExecutor struct {
	mu             sync.Mutex
	oplogResponses []common.Batch
	oplogErrs      []error
	calls          int
	dbWorkCalls    []dbWorkCall
}

func (e *fakeExecutor) ScheduleWork(fn func()) service_def.Handle {
	fn()
	return &fakeHandle{}
}
// ScheduleWorkAt deliberately does not invoke fn: it models a delayed retry
// (e.g. "no sync source yet, try again later") that tests drive explicitly
// rather than one that would otherwise recurse synchronously forever.
func (e *fakeExecutor) ScheduleWorkAt(when time.Time, fn func()) service_def.Handle {
	return &fakeHandle{}
}
func (e *fakeExecutor) ScheduleDBWork(fn func(), ns base.Namespace, lockMode string) service_def.Handle {
	e.mu.Lock()
	e.dbWorkCalls = append(e.dbWorkCalls, dbWorkCall{Ns: ns, LockMode: lockMode})
	e.mu.Unlock()
	fn()
	return &fakeHandle{}
}
func (e *fakeExecutor) ScheduleRemoteCommand(req interface{}, fn func(resp interface{}, err error)) service_def.Handle {
	e.mu.Lock()
	idx := e.calls
	e.calls++
	var resp interface{}
	var err error
	if idx < len(e.oplogResponses) {
		resp = e.oplogResponses[idx]
	}
	if idx < len(e.oplogErrs) {
		err = e.oplogErrs[idx]
	}
	e.mu.Unlock()
	fn(resp, err)
	return &fakeHandle{active: true}
}
func (e *fakeExecutor) MakeEvent() service_def.Event { return newFakeEvent() }
func (e *fakeExecutor) Now() time.Time               { return time.Now() }
func (e *fakeExecutor) IsRunThread() bool            { return true }
func (e *fakeExecutor) Shutdown()                    {}

type fakeCoordinator struct {
	mu             sync.Mutex
	source         base.HostPort
	lastOptime     base.OpTime
	blacklisted    []base.HostPort
	followerModes  []service_def.FollowerMode
}

func (c *fakeCoordinator) SetMyLastOptime(ts base.OpTime) {
	c.mu.Lock()
	c.lastOptime = ts
	c.mu.Unlock()
}
func (c *fakeCoordinator) GetMyLastOptime() base.OpTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOptime
}
func (c *fakeCoordinator) ChooseNewSyncSource() base.HostPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}
func (c *fakeCoordinator) BlacklistSyncSource(host base.HostPort, until time.Time) {
	c.mu.Lock()
	c.blacklisted = append(c.blacklisted, host)
	c.mu.Unlock()
}
func (c *fakeCoordinator) SetFollowerMode(mode service_def.FollowerMode) {
	c.mu.Lock()
	c.followerModes = append(c.followerModes, mode)
	c.mu.Unlock()
}

type fakeApplier struct {
	ops      []base.Document
	apply    service_def.ApplyFunc
	done     service_def.DoneCallback
	active   bool
	failWith error
}

func (a *fakeApplier) Start() error {
	a.active = true
	ts, err := a.apply(a.ops)
	a.active = false
	if err != nil {
		a.done(base.StatusFromErr("apply failed", err), a.ops)
		return nil
	}
	_ = ts
	a.done(base.Ok(), a.ops)
	return nil
}
func (a *fakeApplier) Wait()          {}
func (a *fakeApplier) Cancel()        { a.active = false }
func (a *fakeApplier) IsActive() bool { return a.active }

func fakeApplierFactory() service_def.ApplierFactory {
	return func(exec service_def.Executor, ops []base.Document, apply service_def.ApplyFunc, done service_def.DoneCallback) service_def.Applier {
		return &fakeApplier{ops: ops, apply: apply, done: done}
	}
}

type fakeReporter struct {
	triggered int
	status    base.Status
}

func (r *fakeReporter) Trigger()            { r.triggered++ }
func (r *fakeReporter) Cancel()             {}
func (r *fakeReporter) Wait()               {}
func (r *fakeReporter) IsActive() bool      { return false }
func (r *fakeReporter) GetStatus() base.Status { return r.status }

func fakeReporterFactory() service_def.ReporterFactory {
	return func(exec service_def.Executor, coord service_def.ReplicationCoordinator, source base.HostPort) service_def.Reporter {
		return &fakeReporter{status: base.Ok()}
	}
}

// fakeDatabaseCloner finishes synchronously within Start so initial-sync
// tests stay deterministic under fakeExecutor's run-everything-inline model.
type fakeDatabaseCloner struct {
	name     string
	status   base.Status
	finishCb service_def.FinishCallback
	active   bool
}

func (f *fakeDatabaseCloner) Start() error {
	f.active = true
	f.active = false
	f.finishCb(f.name, f.status)
	return nil
}
func (f *fakeDatabaseCloner) IsActive() bool { return f.active }
func (f *fakeDatabaseCloner) Cancel() {
	if f.active {
		f.active = false
		f.finishCb(f.name, base.NewStatus(base.StatusInternalError, "cancelled", base.ErrorCallbackCanceled))
	}
}
func (f *fakeDatabaseCloner) Wait() {}

func fakeClonerFactoryWithStatuses(statuses map[string]base.Status) service_def.DatabaseClonerFactory {
	return func(exec service_def.Executor, source base.HostPort, dbName string, filter map[string]interface{}, predicate func(base.Namespace) bool, storage service_def.StorageInterface, perCollectionCb service_def.CollectionCallback, finishCb service_def.FinishCallback) service_def.DatabaseCloner {
		status, ok := statuses[dbName]
		if !ok {
			status = base.Ok()
		}
		return &fakeDatabaseCloner{name: dbName, status: status, finishCb: finishCb}
	}
}

func fakeListOf(names ...string) service_def.ListDatabasesFunc {
	return func(source base.HostPort) ([]string, error) { return names, nil }
}

type fakeStorage struct {
	mu           sync.Mutex
	dropCalls    int
	dropErr      error
	insertedDocs []base.Document
	insertErr    error
}

func (f *fakeStorage) DropUserDatabases(txn service_def.Txn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCalls++
	return f.dropErr
}
func (f *fakeStorage) InsertMissingDoc(txn service_def.Txn, ns base.Namespace, doc base.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.insertedDocs = append(f.insertedDocs, doc)
	return nil
}
