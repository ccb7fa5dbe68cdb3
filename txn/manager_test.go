package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/errs"
)

func newTestManager(t *testing.T) *Manager {
	m := NewManager(100*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(m.Stop)
	return m
}

func TestLockTableSharedLocksAreCompatible(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.LockTable(1, "t", Shared))
	require.NoError(t, m.LockTable(2, "t", Shared))
}

func TestLockTableExclusiveBlocksOtherHolders(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.LockTable(1, "t", Exclusive))

	err := m.LockTable(2, "t", Shared)
	assert.ErrorIs(t, err, errs.ErrLockTimeout)
}

func TestReleaseAllGrantsQueuedWaiter(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LockTable(1, "t", Exclusive))

	done := make(chan error, 1)
	go func() { done <- m.LockTable(2, "t", Exclusive) }()

	time.Sleep(10 * time.Millisecond)
	m.ReleaseAll(1)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never granted the lock")
	}
}

func TestLockUpgradeInPlace(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LockTable(1, "t", IntentShared))
	require.NoError(t, m.LockTable(1, "t", Exclusive))
}

func TestRowLocksAreIndependentPerTable(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.LockRow(1, "t", "row1"))
	require.NoError(t, m.LockRow(2, "t", "row2"))
}

func TestDeadlockDetectionAbortsYoungest(t *testing.T) {
	m := NewManager(2*time.Second, 20*time.Millisecond)
	defer m.Stop()

	require.NoError(t, m.LockTable(1, "a", Exclusive))
	require.NoError(t, m.LockTable(2, "b", Exclusive))

	err2 := make(chan error, 1)
	go func() { err2 <- m.LockTable(2, "a", Exclusive) }()
	time.Sleep(10 * time.Millisecond)

	err1 := make(chan error, 1)
	go func() { err1 <- m.LockTable(1, "b", Exclusive) }()

	select {
	case err := <-err1:
		assert.ErrorIs(t, err, errs.ErrDeadlockAborted)
	case err := <-err2:
		assert.ErrorIs(t, err, errs.ErrDeadlockAborted)
	case <-time.After(3 * time.Second):
		t.Fatal("deadlock was never detected")
	}
}

func TestNextTxnIDIsMonotonic(t *testing.T) {
	m := newTestManager(t)
	a := m.NextTxnID()
	b := m.NextTxnID()
	assert.Less(t, a, b)
}
