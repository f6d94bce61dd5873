// Package testsupport provides small fixtures shared across this
// module's package-level tests: a canned TaskRunner and a helper for
// opening a throwaway ledger.
package testsupport

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshrun/meshrun/pkg/ledger"
	"github.com/meshrun/meshrun/pkg/runner"
)

// FakeRunner returns a canned Result (or error) for every Run call and
// records the requests it was given, guarded by a mutex since agents
// may call it from their own goroutine.
type FakeRunner struct {
	mu       sync.Mutex
	Result   runner.Result
	Err      error
	Requests []runner.Request
}

func (f *FakeRunner) Run(ctx context.Context, req runner.Request) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	return f.Result, f.Err
}

func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// OpenLedger opens a throwaway ledger file under t.TempDir().
func OpenLedger(t *testing.T, clusterID string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(clusterID, filepath.Join(t.TempDir(), clusterID+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}
