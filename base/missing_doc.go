package base

// MissingDocError signals that applying an update/delete op failed because
// the document it references isn't present locally. An injected ApplyFunc
// returns one of these to trigger fetch-then-retry of the whole batch,
// rather than the unrecoverable path a plain error takes in Steady/Rollback.
// It lives here rather than next to the applier orchestration because both
// the ApplyFunc implementations (outside this module) and the replicator
// core that inspects the returned error via errors.As need it.
type MissingDocError struct {
	Ns Namespace
	ID interface{}
}

func (e *MissingDocError) Error() string { return "missing referenced document" }
func (e *MissingDocError) Unwrap() error { return ErrorMissingDocNotFound }
