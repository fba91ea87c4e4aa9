package learnly

import "context"

// optimisticTxn is the local-first mutation pattern: apply the change to
// local state immediately, persist it, and on failure restore the
// snapshot taken before the change. Snapshotting and locking belong to
// the caller; the helper only sequences the three phases.
type optimisticTxn struct {
	// Apply mutates local state and returns whatever Restore needs to
	// undo it, typically a full snapshot rather than an inverse delta.
	Apply func() any
	// Persist pushes the change to the backend.
	Persist func(ctx context.Context) error
	// Restore reinstates the snapshot returned by Apply.
	Restore func(snapshot any)
}

// run executes the transaction. On persistence failure the snapshot is
// restored and a *PersistenceError wrapping the cause is returned; local
// state then matches what the backend last confirmed.
func (t optimisticTxn) run(ctx context.Context, op string) error {
	snapshot := t.Apply()
	if err := t.Persist(ctx); err != nil {
		t.Restore(snapshot)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}
