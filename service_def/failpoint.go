package service_def

// Failpoint is an injectable, process-global-free test hook: a production
// build wires a no-op implementation, tests wire one that flips Active to
// force a specific failure path (e.g. failInitialSyncWithBadHost) without
// reaching for a singleton.
type Failpoint interface {
	Active() bool
}

// StaticFailpoint is the default Failpoint: always inactive unless a test
// flips On.
type StaticFailpoint struct {
	On bool
}

func (f *StaticFailpoint) Active() bool { return f != nil && f.On }
