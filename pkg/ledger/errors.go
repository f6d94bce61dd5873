package ledger

import "fmt"

// CorruptionError reports that a cluster's ledger file could not be
// read back as an append-only log: an unparsable row, or a migration
// that refused to apply against an existing file. Gaps in the sequence
// are not checked for.
type CorruptionError struct {
	ClusterID string
	Path      string
	Reason    string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("ledger: cluster %q at %q is corrupt: %s", e.ClusterID, e.Path, e.Reason)
}

// AppendError wraps a failure to durably append a message. The ledger
// also returns it when a query reading messages back fails.
type AppendError struct {
	ClusterID string
	Err       error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("ledger: cluster %q append failed: %v", e.ClusterID, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }
