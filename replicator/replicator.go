// Package replicator implements the top-level state machine that owns the
// oplog fetcher, the applier, the reporter, the bounded oplog buffer, the
// sync-source selection policy, and the single-point doNextActions
// dispatcher where all progress is made.
//
// All progress flows through one serialized dispatch, with a re-entrant
// heartbeat-style pass over a set of owned, possibly-absent children.
package replicator

import (
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/common"
	"github.com/syncset/replcore/fetcher"
	"github.com/syncset/replcore/initialsync"
	"github.com/syncset/replcore/log"
	"github.com/syncset/replcore/oplogbuffer"
	"github.com/syncset/replcore/service_def"
)

// FindCommonPointFunc is the pluggable rollback-decision hook. The rollback
// protocol itself stays out of scope; only its invocation point is
// implemented here.
type FindCommonPointFunc func(source base.HostPort, lastApplied base.Timestamp) (base.Timestamp, bool)

// Replicator is the core state machine: Uninitialized -> InitialSync ->
// Steady -> Rollback, serialized by coreMu for callers and by the
// executor's single run thread for progress.
type Replicator struct {
	id string

	exec        service_def.Executor
	coordinator service_def.ReplicationCoordinator
	storage     service_def.StorageInterface
	applierFactory service_def.ApplierFactory
	reporterFactory service_def.ReporterFactory
	clonerFactory   service_def.DatabaseClonerFactory
	failpoint       service_def.Failpoint

	findCommonPoint FindCommonPointFunc

	opts   ReplicatorOptions
	logger *log.CommonLogger

	coreMu sync.Mutex
	state  common.ReplicatorStateHolder
	paused bool

	shuttingDown bool
	onShutdown   service_def.Event

	syncSource    base.HostPort
	blacklist     map[base.HostPort]time.Time

	lastTimestampFetched base.Timestamp
	lastTimestampApplied base.Timestamp

	buffer *oplogbuffer.Buffer

	// pendingOplogDocs holds documents already retrieved from the source that
	// didn't fit in buffer on the last admission attempt; see onOplogFetchFinish.
	pendingOplogDocs []base.Document

	oplogFetcher  *fetcher.OplogFetcher
	applier       service_def.Applier
	applierActive bool
	reporter      service_def.Reporter

	// initialSyncAttemptNum/initialSyncAttempt/initialSyncDone back the
	// InitialSync retry loop (initial_sync.go): the current attempt's
	// bookkeeping and the channel its post-clone catch-up signals once
	// doNextActions' InitialSync case has driven it to completion.
	initialSyncAttemptNum int
	initialSyncAttempt    *initialsync.Attempt
	initialSyncDone       chan base.Status

	listDatabases   service_def.ListDatabasesFunc
	oplogTop        OplogTopFunc
	fetchMissingDoc FetchMissingDocFunc

	rollbackCommonOptime base.Timestamp

	// fatalStatus records the status that caused abort to move the core to
	// ShuttingDown, for callers that want to know why after Shutdown returns.
	fatalStatus base.Status

	rotations gometrics.Registry
}

// OplogTopFunc returns the current top of the oplog on source. InitialSync
// calls it once before the clone (BeginTimestamp) and once after
// (StopTimestamp) to bound the post-clone catch-up window.
type OplogTopFunc func(source base.HostPort) (base.Timestamp, error)

// FetchMissingDocFunc fetches one document out-of-band from the sync source
// during missing-document retry.
type FetchMissingDocFunc func(ns base.Namespace, id interface{}) (base.Document, error)

// Deps bundles the external collaborators the core needs. A nil Failpoint
// defaults to an inactive StaticFailpoint. Coordinator, Storage,
// ReporterFactory, FindCommonPoint and FetchMissingDoc may be nil: each use
// site skips that step or, for FetchMissingDoc, fails the attempt. A nil
// ApplierFactory reports each popped batch as applied without calling
// ApplyFunc. Executor, ClonerFactory, ListDatabases and OplogTop are used
// without a nil check.
type Deps struct {
	Executor        service_def.Executor
	Coordinator     service_def.ReplicationCoordinator
	Storage         service_def.StorageInterface
	ApplierFactory  service_def.ApplierFactory
	ReporterFactory service_def.ReporterFactory
	ClonerFactory   service_def.DatabaseClonerFactory
	Failpoint       service_def.Failpoint
	FindCommonPoint FindCommonPointFunc

	ListDatabases   service_def.ListDatabasesFunc
	OplogTop        OplogTopFunc
	FetchMissingDoc FetchMissingDocFunc
}

func NewReplicator(id string, deps Deps, opts ReplicatorOptions) (*Replicator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Failpoint == nil {
		deps.Failpoint = &service_def.StaticFailpoint{}
	}
	if id == "" {
		id = base.NewUUID()
	}

	r := &Replicator{
		id:              id,
		exec:            deps.Executor,
		coordinator:     deps.Coordinator,
		storage:         deps.Storage,
		applierFactory:  deps.ApplierFactory,
		reporterFactory: deps.ReporterFactory,
		clonerFactory:   deps.ClonerFactory,
		failpoint:       deps.Failpoint,
		findCommonPoint: deps.FindCommonPoint,
		opts:            opts,
		logger:          log.NewLogger("Replicator["+id+"]", nil),
		blacklist:       make(map[base.HostPort]time.Time),
		buffer:          oplogbuffer.NewBuffer(opts.OplogBufferCapBytes),
		syncSource:      opts.SyncSourceOverride,
		listDatabases:   deps.ListDatabases,
		oplogTop:        deps.OplogTop,
		fetchMissingDoc: deps.FetchMissingDoc,
		rotations:       gometrics.NewRegistry(),
	}

	return r, nil
}

func (r *Replicator) State() common.ReplicatorState {
	r.coreMu.Lock()
	defer r.coreMu.Unlock()
	return r.state.Get()
}

// Start moves Uninitialized -> Steady. It is illegal from any other state.
func (r *Replicator) Start() base.Status {
	r.coreMu.Lock()
	if r.state.Get() != common.Uninitialized {
		r.coreMu.Unlock()
		return base.StatusFromErr("cannot start", base.ErrorIllegalOperation)
	}
	if err := r.state.Set(common.Steady, r.id); err != nil {
		r.coreMu.Unlock()
		return base.StatusFromErr("cannot start", base.ErrorIllegalOperation)
	}
	r.coreMu.Unlock()

	r.exec.ScheduleWork(r.doNextActions)
	return base.Ok()
}

// FatalStatus returns the status that caused abort to run, if any. Only
// meaningful once Shutdown has returned.
func (r *Replicator) FatalStatus() base.Status {
	r.coreMu.Lock()
	defer r.coreMu.Unlock()
	return r.fatalStatus
}

// Pause is a first-class, idempotent operation usable at any state; it
// quiesces the applier and reporter, mirroring the pause done implicitly
// ahead of initial sync.
func (r *Replicator) Pause() base.Status {
	r.coreMu.Lock()
	defer r.coreMu.Unlock()
	r.paused = true
	if r.applier != nil {
		r.applier.Cancel()
	}
	if r.reporter != nil {
		r.reporter.Cancel()
	}
	return base.Ok()
}

// Resume un-pauses and kicks the progress dispatcher again.
func (r *Replicator) Resume() base.Status {
	r.coreMu.Lock()
	r.paused = false
	r.coreMu.Unlock()

	r.exec.ScheduleWork(r.doNextActions)
	return base.Ok()
}

// FlushAndPause drains the buffer via one final apply pass, then pauses.
// Used operationally ahead of maintenance that requires no un-applied ops
// left buffered.
func (r *Replicator) FlushAndPause() base.Status {
	r.coreMu.Lock()
	for {
		docs, bytes := r.buffer.Size()
		if docs == 0 && bytes == 0 {
			break
		}
		r.coreMu.Unlock()
		r.getNextApplierBatchAndRun()
		time.Sleep(time.Millisecond)
		r.coreMu.Lock()
	}
	r.coreMu.Unlock()
	return r.Pause()
}

// Shutdown sets a flag, cancels every owned handle, and waits on onShutdown,
// which doNextActions signals once no handles remain active.
func (r *Replicator) Shutdown() base.Status {
	r.coreMu.Lock()
	if r.shuttingDown {
		r.coreMu.Unlock()
		if r.onShutdown != nil {
			r.onShutdown.Wait()
		}
		return base.Ok()
	}
	r.shuttingDown = true
	_ = r.state.Set(common.ShuttingDown, r.id)
	r.onShutdown = r.exec.MakeEvent()

	if r.oplogFetcher != nil {
		r.oplogFetcher.Cancel()
	}
	if r.applier != nil {
		r.applier.Cancel()
	}
	if r.reporter != nil {
		r.reporter.Cancel()
	}
	r.coreMu.Unlock()

	r.exec.ScheduleWork(r.doNextActions)
	r.onShutdown.Wait()
	return base.Ok()
}
