// Package cloner implements the databases cloner: listDatabases against the
// source, dropping stale local user data, one child DatabaseCloner per
// database, completion counting, and first-error-wins status capture.
//
// Grounded on two teacher patterns used together: pipeline.GenericPipeline's
// sync.WaitGroup + buffered-error-channel fan-out/fan-in over child parts,
// and supervisor.GenericSupervisor's children map[string]... guarded by a
// single owning mutex.
package cloner

import (
	"sync"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/log"
	"github.com/syncset/replcore/service_def"
)

// DatabasesCloner lists and clones every database present on a sync source.
// The per-collection clone protocol itself is out of scope; DatabaseClonerFactory
// constructs whatever actually performs it for one database.
type DatabasesCloner struct {
	mu sync.Mutex

	exec          service_def.Executor
	source        base.HostPort
	storage       service_def.StorageInterface
	factory       service_def.DatabaseClonerFactory
	listDatabases service_def.ListDatabasesFunc
	logger        *log.CommonLogger

	children      map[string]service_def.DatabaseCloner
	clonersActive int
	status        base.Status
	started       bool
	finished      bool
	finishCb      func(status base.Status)
	done          chan struct{}
	doneOnce      sync.Once
}

func NewDatabasesCloner(exec service_def.Executor, source base.HostPort, storage service_def.StorageInterface, factory service_def.DatabaseClonerFactory, listDatabases service_def.ListDatabasesFunc) *DatabasesCloner {
	return &DatabasesCloner{
		exec:          exec,
		source:        source,
		storage:       storage,
		factory:       factory,
		listDatabases: listDatabases,
		logger:        log.NewLogger("DatabasesCloner", nil),
		children:      make(map[string]service_def.DatabaseCloner),
		status:        base.Ok(),
		done:          make(chan struct{}),
	}
}

// Start issues listDatabases against the source, drops stale local user data
// ahead of the clone, then begins one DatabaseCloner per database returned,
// tracking clonersActive as an integer counter initialized up front and
// decremented in each per-database completion callback. Both the
// listDatabases failure and the DropUserDatabases failure reach the caller
// through finishCb rather than a returned error, consistent with every
// other failure mode a DatabasesCloner reports.
func (c *DatabasesCloner) Start(finishCb func(status base.Status)) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return base.ErrorAlreadyInitialized
	}
	c.started = true
	c.finishCb = finishCb
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.DropUserDatabases(nil); err != nil {
			c.finish(base.StatusFromErr("failed to drop stale user databases before clone", err))
			return nil
		}
	}

	dbNames, err := c.listDatabases(c.source)
	if err != nil {
		c.finish(base.StatusFromErr("failed to list databases on sync source", err))
		return nil
	}

	c.mu.Lock()
	c.clonersActive = len(dbNames)
	if c.clonersActive == 0 {
		c.mu.Unlock()
		c.finish(base.Ok())
		return nil
	}
	c.mu.Unlock()

	for i, name := range dbNames {
		name := name
		child := c.factory(c.exec, c.source, name, nil, nil, c.storage,
			func(ns base.Namespace, status base.Status) {},
			func(dbName string, status base.Status) {
				c.onChildFinish(dbName, status)
			})

		c.mu.Lock()
		c.children[name] = child
		c.mu.Unlock()

		if err := child.Start(); err != nil {
			// A Start failure stops the fan-out: no further cloners are
			// spawned. The databases after this one were counted into
			// clonersActive up front but never started, so that count is
			// corrected here before reporting this child's own failure,
			// or onChildFinish would wait forever on children that will
			// never call back.
			unstarted := len(dbNames) - i - 1
			if unstarted > 0 {
				c.mu.Lock()
				c.clonersActive -= unstarted
				c.mu.Unlock()
			}
			c.onChildFinish(name, base.NewStatus(base.StatusInitialSyncFailure, "database cloner failed to start", err))
			break
		}
	}
	return nil
}

func (c *DatabasesCloner) onChildFinish(dbName string, status base.Status) {
	c.mu.Lock()
	if !status.OK() && c.status.OK() {
		// first-error-wins: only the first failure across all children is
		// recorded.
		c.status = status
	}
	c.clonersActive--
	remaining := c.clonersActive
	finalStatus := c.status
	c.mu.Unlock()

	if remaining <= 0 {
		c.finish(finalStatus)
	}
}

func (c *DatabasesCloner) finish(status base.Status) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	cb := c.finishCb
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if cb != nil {
		cb(status)
	}
}

// Cancel marks the cloner inactive, sets status to ErrorCallbackCanceled,
// cancels every still-running child, and still invokes the finish callback
// exactly once.
func (c *DatabasesCloner) Cancel() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.status = base.NewStatus(base.StatusInternalError, "databases cloner cancelled", base.ErrorCallbackCanceled)
	cancelStatus := c.status
	children := make([]service_def.DatabaseCloner, 0, len(c.children))
	for _, child := range c.children {
		children = append(children, child)
	}
	c.mu.Unlock()

	for _, child := range children {
		child.Cancel()
	}
	c.finish(cancelStatus)
}

func (c *DatabasesCloner) Wait() {
	<-c.done
}

func (c *DatabasesCloner) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.finished
}

func (c *DatabasesCloner) Status() base.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RemainingCloners reports how many child DatabaseCloners have not yet
// reported completion, for progress snapshots.
func (c *DatabasesCloner) RemainingCloners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clonersActive
}

// TotalDatabases reports how many children this cloner was started with.
func (c *DatabasesCloner) TotalDatabases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}
