package service_def

import "github.com/syncset/replcore/base"

// ListDatabasesFunc lists every database present on source. DatabasesCloner
// calls it itself as the first step of cloning, rather than having a caller
// pre-fetch the list.
type ListDatabasesFunc func(source base.HostPort) ([]string, error)

// CollectionCallback is invoked once per collection cloned within a
// database, ahead of the database's own FinishCallback.
type CollectionCallback func(ns base.Namespace, status base.Status)

// FinishCallback is invoked exactly once when a DatabaseCloner finishes,
// successfully or not.
type FinishCallback func(dbName string, status base.Status)

// DatabaseCloner clones a single database. The per-collection clone
// protocol itself is out of scope for this core; a DatabaseCloner is just
// something that runs to completion and reports back once.
type DatabaseCloner interface {
	Start() error
	IsActive() bool
	Cancel()
	Wait()
}

// DatabaseClonerFactory constructs a DatabaseCloner for one database: the
// concrete per-child constructor is injected into the owning collection
// (DatabasesCloner) rather than hardcoded.
type DatabaseClonerFactory func(exec Executor, source base.HostPort, dbName string, filter map[string]interface{}, predicate func(base.Namespace) bool, storage StorageInterface, perCollectionCb CollectionCallback, finishCb FinishCallback) DatabaseCloner
