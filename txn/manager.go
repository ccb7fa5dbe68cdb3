package txn

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"minidb/errs"
)

// ID identifies a transaction. IDs increase monotonically within a
// Manager's lifetime, so "youngest" (the deadlock victim) means largest
// ID.
type ID uint64

type holder struct {
	txn  ID
	mode Mode
}

type waiter struct {
	txn  ID
	mode Mode
	ch   chan error
}

// resource is one lockable object: a table name, or a table+RID key for
// row-level locks.
type resource struct {
	mu      sync.Mutex
	holders []holder
	waiters []*waiter
}

func (r *resource) grantedFor(txn ID) (Mode, bool) {
	for _, h := range r.holders {
		if h.txn == txn {
			return h.mode, true
		}
	}
	return 0, false
}

func (r *resource) compatibleWithHolders(txn ID, want Mode) bool {
	for _, h := range r.holders {
		if h.txn == txn {
			continue
		}
		if !compatible(h.mode, want) {
			return false
		}
	}
	return true
}

// Manager owns all table- and row-level locks for one engine instance,
// plus the wait-for graph used for deadlock detection.
type Manager struct {
	mu            sync.Mutex
	tableLocks    map[string]*resource
	rowLocks      map[string]*resource
	waitFor       map[ID]map[ID]bool
	waiterIndex   map[ID][]*waiter // waiters currently blocked, for victim abort
	lockTimeout   time.Duration
	deadlockCheck time.Duration
	stopCh        chan struct{}
	nextID        ID
}

// NewManager creates a lock manager. lockTimeout bounds how long Acquire
// blocks before returning errs.ErrLockTimeout; deadlockCheck is the
// period of the background cycle-detection sweep.
func NewManager(lockTimeout, deadlockCheck time.Duration) *Manager {
	m := &Manager{
		tableLocks:    map[string]*resource{},
		rowLocks:      map[string]*resource{},
		waitFor:       map[ID]map[ID]bool{},
		waiterIndex:   map[ID][]*waiter{},
		lockTimeout:   lockTimeout,
		deadlockCheck: deadlockCheck,
		stopCh:        make(chan struct{}),
	}
	go m.detectLoop()
	return m
}

func (m *Manager) Stop() {
	close(m.stopCh)
}

// NextTxnID returns a fresh, increasing transaction id.
func (m *Manager) NextTxnID() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// LockTable acquires a table-level intention or full lock for txn.
func (m *Manager) LockTable(txn ID, table string, mode Mode) error {
	return m.acquire(m.tableResources, table, txn, mode)
}

// LockRow acquires a row-level shared or exclusive lock for txn.
func (m *Manager) LockRow(txn ID, table string, rowKey string) error {
	return m.acquire(m.rowResources, table+"\x00"+rowKey, txn, Exclusive)
}

// LockRowShared acquires a row-level shared lock for txn.
func (m *Manager) LockRowShared(txn ID, table string, rowKey string) error {
	return m.acquire(m.rowResources, table+"\x00"+rowKey, txn, Shared)
}

func (m *Manager) tableResources(key string) *resource { return m.resourceFor(m.tableLocks, key) }
func (m *Manager) rowResources(key string) *resource   { return m.resourceFor(m.rowLocks, key) }

func (m *Manager) resourceFor(table map[string]*resource, key string) *resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := table[key]
	if !ok {
		r = &resource{}
		table[key] = r
	}
	return r
}

func (m *Manager) acquire(lookup func(string) *resource, key string, txn ID, want Mode) error {
	r := lookup(key)

	r.mu.Lock()
	if held, ok := r.grantedFor(txn); ok {
		if subsumes(held, want) {
			r.mu.Unlock()
			return nil
		}
		// Upgrade in place if no one else holds an incompatible mode.
		if r.compatibleWithHolders(txn, want) && len(r.waiters) == 0 {
			for i := range r.holders {
				if r.holders[i].txn == txn {
					r.holders[i].mode = want
				}
			}
			r.mu.Unlock()
			return nil
		}
	}

	if len(r.waiters) == 0 && r.compatibleWithHolders(txn, want) {
		r.holders = append(r.holders, holder{txn: txn, mode: want})
		r.mu.Unlock()
		return nil
	}

	w := &waiter{txn: txn, mode: want, ch: make(chan error, 1)}
	r.waiters = append(r.waiters, w)
	waitOn := make([]ID, 0, len(r.holders))
	for _, h := range r.holders {
		if h.txn != txn {
			waitOn = append(waitOn, h.txn)
		}
	}
	r.mu.Unlock()

	m.recordWait(txn, waitOn, w)

	select {
	case err := <-w.ch:
		m.clearWait(txn)
		return err
	case <-time.After(m.lockTimeout):
		m.removeWaiter(r, w)
		m.clearWait(txn)
		return errs.ErrLockTimeout
	}
}

// releaseLocked drops txn's holder entry, if any, from r and grants as
// many queued waiters as now fit.
func (m *Manager) releaseLocked(r *resource, txn ID) {
	newHolders := make([]holder, 0, len(r.holders))
	for _, h := range r.holders {
		if h.txn != txn {
			newHolders = append(newHolders, h)
		}
	}
	r.holders = newHolders
	m.promoteWaiters(r)
}

// promoteWaiters grants locks to as many leading waiters as are
// compatible with the current holder set and with each other, preserving
// FIFO order.
func (m *Manager) promoteWaiters(r *resource) {
	for len(r.waiters) > 0 {
		w := r.waiters[0]
		if !r.compatibleWithHolders(w.txn, w.mode) {
			break
		}
		r.holders = append(r.holders, holder{txn: w.txn, mode: w.mode})
		r.waiters = r.waiters[1:]
		w.ch <- nil
	}
}

func (m *Manager) removeWaiter(r *resource, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ww := range r.waiters {
		if ww == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// ReleaseAll drops every table- and row-level lock held by txn, called at
// commit or rollback.
func (m *Manager) ReleaseAll(txn ID) {
	m.mu.Lock()
	tables := make([]*resource, 0, len(m.tableLocks))
	for _, r := range m.tableLocks {
		tables = append(tables, r)
	}
	rows := make([]*resource, 0, len(m.rowLocks))
	for _, r := range m.rowLocks {
		rows = append(rows, r)
	}
	m.mu.Unlock()

	for _, r := range tables {
		r.mu.Lock()
		m.releaseLocked(r, txn)
		r.mu.Unlock()
	}
	for _, r := range rows {
		r.mu.Lock()
		m.releaseLocked(r, txn)
		r.mu.Unlock()
	}

	m.mu.Lock()
	delete(m.waitFor, txn)
	for _, edges := range m.waitFor {
		delete(edges, txn)
	}
	delete(m.waiterIndex, txn)
	m.mu.Unlock()
}

func (m *Manager) recordWait(txn ID, on []ID, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	edges, ok := m.waitFor[txn]
	if !ok {
		edges = map[ID]bool{}
		m.waitFor[txn] = edges
	}
	for _, h := range on {
		edges[h] = true
	}
	m.waiterIndex[txn] = append(m.waiterIndex[txn], w)
}

func (m *Manager) clearWait(txn ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waitFor, txn)
	delete(m.waiterIndex, txn)
}

// detectLoop periodically scans the wait-for graph for cycles and aborts
// the youngest transaction in any cycle found.
func (m *Manager) detectLoop() {
	ticker := time.NewTicker(m.deadlockCheck)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.detectOnce()
		}
	}
}

func (m *Manager) detectOnce() {
	m.mu.Lock()
	graph := make(map[ID]map[ID]bool, len(m.waitFor))
	for k, v := range m.waitFor {
		edges := make(map[ID]bool, len(v))
		for k2, v2 := range v {
			edges[k2] = v2
		}
		graph[k] = edges
	}
	m.mu.Unlock()

	for start := range graph {
		if cycle := findCycle(graph, start); cycle != nil {
			victim := youngest(cycle)
			log.WithField("txn", victim).Warn("minidb: deadlock detected, aborting transaction")
			m.abort(victim)
			return
		}
	}
}

func findCycle(graph map[ID]map[ID]bool, start ID) []ID {
	visited := map[ID]bool{}
	var path []ID
	var visit func(n ID) []ID
	visit = func(n ID) []ID {
		for i, p := range path {
			if p == n {
				return append(append([]ID{}, path[i:]...), n)
			}
		}
		if visited[n] {
			return nil
		}
		visited[n] = true
		path = append(path, n)
		for next := range graph[n] {
			if found := visit(next); found != nil {
				return found
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	return visit(start)
}

func youngest(cycle []ID) ID {
	max := cycle[0]
	for _, id := range cycle[1:] {
		if id > max {
			max = id
		}
	}
	return max
}

func (m *Manager) abort(txn ID) {
	m.mu.Lock()
	waiters := m.waiterIndex[txn]
	delete(m.waiterIndex, txn)
	delete(m.waitFor, txn)
	m.mu.Unlock()

	for _, w := range waiters {
		select {
		case w.ch <- errs.ErrDeadlockAborted:
		default:
		}
	}
}
