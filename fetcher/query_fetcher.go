// Package fetcher implements the query-fetcher adapter and the oplog-fetcher
// built on top of it: a cursor-based find+getMore loop driven entirely by
// executor callbacks: a remote cursor wrapped behind a small validated state
// machine rather than exposed directly to callers.
package fetcher

import (
	"sync"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/log"
	"github.com/syncset/replcore/service_def"
)

// QueryFetcher wraps a remote cursor over one namespace: idle -> scheduled
// -> active (one or more batches delivered) -> done/cancelled. On each
// batch it invokes the caller's BatchCallback; while the callback sets
// nextAction to GetMore, the fetcher automatically issues the following
// getMore naming the batch's CursorId and Ns.
type QueryFetcher struct {
	mu    sync.Mutex
	state common.FetcherStateHolder

	exec   service_def.Executor
	source base.HostPort
	db     string
	cmd    map[string]interface{}
	cb     common.BatchCallback

	logger *log.CommonLogger
	done   chan struct{}
	doneMu sync.Once

	activeHandle service_def.Handle
}

func NewQueryFetcher(exec service_def.Executor, source base.HostPort, db string, cmd map[string]interface{}, cb common.BatchCallback) *QueryFetcher {
	return &QueryFetcher{
		exec:   exec,
		source: source,
		db:     db,
		cmd:    cmd,
		cb:     cb,
		logger: log.NewLogger("QueryFetcher", nil),
		done:   make(chan struct{}),
	}
}

// Schedule issues the initial find. It is an error to schedule a fetcher
// more than once.
func (f *QueryFetcher) Schedule() error {
	f.mu.Lock()
	if err := f.state.Set(common.FetcherScheduled); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	f.activeHandle = f.exec.ScheduleRemoteCommand(findCommand{db: f.db, cmd: f.cmd}, f.onResponse)
	return nil
}

type findCommand struct {
	db  string
	cmd map[string]interface{}
}

type getMoreCommand struct {
	cursorId int64
	ns       base.Namespace
}

// onResponse is invoked on the executor's run thread for every find/getMore
// response. Production wiring supplies a real network round trip through
// ScheduleRemoteCommand; this adapter only owns the cursor protocol, not the
// wire transport.
func (f *QueryFetcher) onResponse(resp interface{}, err error) {
	f.mu.Lock()
	state := f.state.Get()
	f.mu.Unlock()

	if state == common.FetcherCancelled || state == common.FetcherDone {
		return
	}

	if err != nil {
		f.finish(common.FetcherDone)
		return
	}

	batch, ok := resp.(common.Batch)
	if !ok {
		f.finish(common.FetcherDone)
		return
	}

	f.mu.Lock()
	_ = f.state.Set(common.FetcherActive)
	f.mu.Unlock()

	next := common.NoAction
	cbErr := f.cb(batch, &next)
	if cbErr != nil {
		f.finish(common.FetcherDone)
		return
	}

	switch next {
	case common.GetMore:
		f.activeHandle = f.exec.ScheduleRemoteCommand(getMoreCommand{cursorId: batch.CursorId, ns: batch.Ns}, f.onResponse)
	default:
		f.finish(common.FetcherDone)
	}
}

func (f *QueryFetcher) finish(state common.FetcherState) {
	f.mu.Lock()
	_ = f.state.Set(state)
	f.mu.Unlock()
	f.doneMu.Do(func() { close(f.done) })
}

// Cancel is idempotent: a second call is a no-op.
func (f *QueryFetcher) Cancel() {
	f.mu.Lock()
	if f.state.Get() == common.FetcherDone || f.state.Get() == common.FetcherCancelled {
		f.mu.Unlock()
		return
	}
	_ = f.state.Set(common.FetcherCancelled)
	handle := f.activeHandle
	f.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
	f.doneMu.Do(func() { close(f.done) })
}

func (f *QueryFetcher) Wait() {
	<-f.done
}

func (f *QueryFetcher) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state.Get()
	return s == common.FetcherScheduled || s == common.FetcherActive
}

func (f *QueryFetcher) State() common.FetcherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Get()
}
