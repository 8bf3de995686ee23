// Package optimistic is a small compensating-action helper: apply a
// speculative local change, attempt the remote commit, and restore the
// prior state when the commit fails.
package optimistic

// Run applies speculate, then commit. When speculate fails the commit is
// never attempted. When commit fails, rollback restores the snapshot taken
// by the caller and the commit error is returned.
func Run(speculate func() error, commit func() error, rollback func()) error {
	if err := speculate(); err != nil {
		return err
	}
	if err := commit(); err != nil {
		if rollback != nil {
			rollback()
		}
		return err
	}
	return nil
}
