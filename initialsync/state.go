// Package initialsync holds the bookkeeping for one initial-sync attempt:
// the databases cloner it drove, the begin/stop timestamps bounding the
// post-clone oplog catch-up window, and the running counters exposed as
// progress. The catch-up itself is driven by the replicator core's own
// dispatcher, reusing its steady-state fetch-and-apply pipeline rather than
// a separate loop.
package initialsync

import (
	"sync"
	"sync/atomic"

	"github.com/syncset/replcore/base"
	"github.com/syncset/replcore/cloner"
)

// Attempt is one initial-sync attempt's state. BeginTimestamp is the oplog
// top captured before the clone starts; StopTimestamp is the oplog top
// captured once it finishes, known only after SetStopTimestamp is called.
// The catch-up completion check (DbsCloner inactive, LastTimestampApplied at
// or past StopTimestamp) must never fire before that.
type Attempt struct {
	Source         base.HostPort
	DbsCloner      *cloner.DatabasesCloner
	BeginTimestamp base.Timestamp

	AppliedOps         atomic.Int64
	FetchedMissingDocs atomic.Int64

	mu                   sync.Mutex
	stopTimestamp        base.Timestamp
	stopTimestampSet     bool
	lastTimestampApplied base.Timestamp
}

func NewAttempt(source base.HostPort, beginTs base.Timestamp) *Attempt {
	return &Attempt{Source: source, BeginTimestamp: beginTs}
}

func (a *Attempt) SetStopTimestamp(ts base.Timestamp) {
	a.mu.Lock()
	a.stopTimestamp = ts
	a.stopTimestampSet = true
	a.mu.Unlock()
}

// StopTimestamp returns the post-clone oplog top and whether it has been
// recorded yet.
func (a *Attempt) StopTimestamp() (base.Timestamp, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopTimestamp, a.stopTimestampSet
}

func (a *Attempt) SetLastTimestampApplied(ts base.Timestamp) {
	a.mu.Lock()
	a.lastTimestampApplied = ts
	a.mu.Unlock()
}

func (a *Attempt) LastTimestampApplied() base.Timestamp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastTimestampApplied
}

// CaughtUp reports whether the post-clone catch-up window has been fully
// consumed: the databases cloner is no longer active and everything fetched
// up to StopTimestamp has been applied.
func (a *Attempt) CaughtUp() bool {
	stopTs, known := a.StopTimestamp()
	if !known {
		return false
	}
	if a.DbsCloner != nil && a.DbsCloner.IsActive() {
		return false
	}
	return !a.LastTimestampApplied().Less(stopTs)
}

// Progress is a read-only snapshot of one attempt's progress, safe to poll
// concurrently while the attempt runs.
type Progress struct {
	Attempt              int
	DatabasesCloned      int
	TotalDatabases       int
	AppliedOps           int64
	FetchedMissingDocs   int64
	BeginTimestamp       base.Timestamp
	StopTimestamp        base.Timestamp
	LastTimestampApplied base.Timestamp
}

func (a *Attempt) Progress(attemptNum int) Progress {
	p := Progress{Attempt: attemptNum, BeginTimestamp: a.BeginTimestamp}
	if ts, ok := a.StopTimestamp(); ok {
		p.StopTimestamp = ts
	}
	p.AppliedOps = a.AppliedOps.Load()
	p.FetchedMissingDocs = a.FetchedMissingDocs.Load()
	p.LastTimestampApplied = a.LastTimestampApplied()
	if a.DbsCloner != nil {
		p.TotalDatabases = a.DbsCloner.TotalDatabases()
		p.DatabasesCloned = p.TotalDatabases - a.DbsCloner.RemainingCloners()
	}
	return p
}
