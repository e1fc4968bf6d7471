package service_def

import (
	"time"

	"github.com/syncset/replcore/base"
)

// FollowerMode mirrors the small set of member states the coordinator can be
// asked to move the node into around rollback decisions.
type FollowerMode int

const (
	FollowerSecondary FollowerMode = iota
	FollowerRecovering
	FollowerRollback
)

// ReplicationCoordinator is the node-wide authority the core reports
// progress to and asks for sync-source decisions. It outlives any one
// Replicator and is shared with the rest of the node, so the core only ever
// calls it — it never owns it.
type ReplicationCoordinator interface {
	SetMyLastOptime(ts base.OpTime)
	GetMyLastOptime() base.OpTime

	// ChooseNewSyncSource returns the zero HostPort when no source is
	// currently eligible.
	ChooseNewSyncSource() base.HostPort
	BlacklistSyncSource(host base.HostPort, until time.Time)
	SetFollowerMode(mode FollowerMode)
}
