package service_def

import "github.com/syncset/replcore/base"

// Txn is an opaque storage transaction/recovery-unit handle passed through
// from the caller; this core never interprets it.
type Txn interface{}

// StorageInterface is the narrow slice of the storage engine the core
// depends on: dropping stale user data before a clone, and inserting a
// document fetched out-of-band during missing-document retry.
type StorageInterface interface {
	DropUserDatabases(txn Txn) error
	InsertMissingDoc(txn Txn, ns base.Namespace, doc base.Document) error
}
