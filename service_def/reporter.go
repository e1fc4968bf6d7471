package service_def

import "github.com/syncset/replcore/base"

// Reporter periodically (or on-demand, via Trigger) tells the coordinator
// this node's progress. It is owned exclusively by the replicator core, like
// the applier and the oplog fetcher.
type Reporter interface {
	Trigger()
	Cancel()
	Wait()
	IsActive() bool
	GetStatus() base.Status
}

// ReporterFactory constructs a Reporter bound to one coordinator and source.
type ReporterFactory func(exec Executor, coord ReplicationCoordinator, source base.HostPort) Reporter
