package fetcher

import (
	"time"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/service_def"
)

// fakeHandle/fakeExecutor are hand-written test doubles for service_def.
// Executor: one small fake per external collaborator interface rather than
// a generated mock.
type fakeHandle struct {
	active bool
}

func (h *fakeHandle) Cancel()        { h.active = false }
func (h *fakeHandle) Wait()          {}
func (h *fakeHandle) IsActive() bool { return h.active }

// fakeExecutor runs every scheduled callback synchronously and lets the test
// script canned responses for ScheduleRemoteCommand calls in order.
type fakeExecutor struct {
	responses []interface{}
	errs      []error
	calls     int
	lastCmd   []interface{}
}

func (e *fakeExecutor) ScheduleWork(fn func()) service_def.Handle {
	fn()
	return &fakeHandle{}
}

func (e *fakeExecutor) ScheduleWorkAt(when time.Time, fn func()) service_def.Handle {
	fn()
	return &fakeHandle{}
}

func (e *fakeExecutor) ScheduleDBWork(fn func(), ns base.Namespace, lockMode string) service_def.Handle {
	fn()
	return &fakeHandle{}
}

func (e *fakeExecutor) ScheduleRemoteCommand(req interface{}, fn func(resp interface{}, err error)) service_def.Handle {
	e.lastCmd = append(e.lastCmd, req)
	idx := e.calls
	e.calls++
	var resp interface{}
	var err error
	if idx < len(e.responses) {
		resp = e.responses[idx]
	}
	if idx < len(e.errs) {
		err = e.errs[idx]
	}
	fn(resp, err)
	return &fakeHandle{active: true}
}

func (e *fakeExecutor) MakeEvent() service_def.Event { return nil }
func (e *fakeExecutor) Now() time.Time               { return time.Now() }
func (e *fakeExecutor) IsRunThread() bool            { return true }
func (e *fakeExecutor) Shutdown()                    {}
