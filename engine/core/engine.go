// Package core implements the top-level engine: the outermost component
// bundling the catalog, per-table storage files, the write-ahead log and
// the transaction manager. It wires minidb's page-based storage stack
// directly, since minidb's on-disk format is fixed rather than
// pluggable.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"minidb/catalog"
	"minidb/errs"
	"minidb/storage/btree"
	"minidb/storage/heap"
	"minidb/storage/rid"
	"minidb/storage/tuple"
	"minidb/storage/wal"
	"minidb/txn"
	"minidb/types"
)

// Config bundles the engine's tunable parameters, sourced from the
// ambient config layer (the minidb.hcl config file, flags, and
// environment overrides).
type Config struct {
	CachePages         int
	LockTimeout        time.Duration
	DeadlockCheck      time.Duration
	CheckpointInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CachePages <= 0 {
		c.CachePages = 256
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.DeadlockCheck <= 0 {
		c.DeadlockCheck = 50 * time.Millisecond
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 30 * time.Second
	}
	return c
}

type tableHandle struct {
	def     catalog.TableDef
	heap    *heap.File
	indexes map[string]*btree.Index
}

// Engine owns every open table and index file, the catalog, the write-
// ahead log, and the lock manager for one minidb data directory.
type Engine struct {
	mu      sync.RWMutex
	dataDir string
	cfg     Config

	cat   *catalog.Catalog
	wal   *wal.WAL
	locks *txn.Manager

	tables map[string]*tableHandle

	txMu sync.Mutex
	txns map[txn.ID]*txn.Txn

	stopCh chan struct{}
}

func tablePath(dataDir, name string) string { return filepath.Join(dataDir, name+".tbl") }
func indexPath(dataDir, table, index string) string {
	return filepath.Join(dataDir, table+"."+index+".idx")
}

// Open opens or creates the data directory at dataDir, replays the write-
// ahead log to recover any committed-but-unflushed mutations, and starts
// the background deadlock detector and checkpoint loop.
func Open(dataDir string, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: mkdir %s: %w", dataDir, err)
	}

	cat, err := catalog.Open(filepath.Join(dataDir, "catalog.dat"))
	if err != nil {
		return nil, err
	}
	w, err := wal.Open(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dataDir: dataDir,
		cfg:     cfg,
		cat:     cat,
		wal:     w,
		locks:   txn.NewManager(cfg.LockTimeout, cfg.DeadlockCheck),
		tables:  map[string]*tableHandle{},
		txns:    map[txn.ID]*txn.Txn{},
		stopCh:  make(chan struct{}),
	}

	for _, name := range cat.ListTables() {
		if err := e.openTableFiles(name); err != nil {
			return nil, err
		}
	}

	if err := e.recover(); err != nil {
		return nil, err
	}

	go e.checkpointLoop()
	return e, nil
}

func (e *Engine) openTableFiles(name string) error {
	def, ok := e.cat.GetTable(name)
	if !ok {
		return fmt.Errorf("engine: table %q not in catalog", name)
	}
	h, err := heap.Open(tablePath(e.dataDir, name), e.cfg.CachePages)
	if err != nil {
		return err
	}
	indexes := map[string]*btree.Index{}
	for _, idxDef := range def.Indexes {
		idx, err := btree.Open(indexPath(e.dataDir, name, idxDef.Name), e.cfg.CachePages)
		if err != nil {
			return err
		}
		indexes[idxDef.Name] = idx
	}
	e.tables[name] = &tableHandle{def: def, heap: h, indexes: indexes}
	return nil
}

// Close stops background work and flushes every open file.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.locks.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, th := range e.tables {
		for _, idx := range th.indexes {
			idx.Close()
		}
		th.heap.Close()
	}
	return e.wal.Close()
}

// ---- DDL: auto-committing, serialized by the catalog's own lock -------

// CreateTable registers name with schema and creates its backing .tbl
// file. DDL is auto-committing: its durability comes from the catalog's
// atomic rewrite, not from the WAL.
func (e *Engine) CreateTable(name string, schema types.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tables[name]; ok {
		return fmt.Errorf("minidb: table %q already exists", name)
	}
	h, err := heap.Create(tablePath(e.dataDir, name), name, schema, e.cfg.CachePages)
	if err != nil {
		return err
	}
	def := catalog.TableDef{Name: name, Schema: schema}
	if err := e.cat.CreateTable(def); err != nil {
		h.Close()
		os.Remove(tablePath(e.dataDir, name))
		return err
	}
	e.tables[name] = &tableHandle{def: def, heap: h, indexes: map[string]*btree.Index{}}
	return nil
}

// DropTable removes a table and every index defined on it.
func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	th, ok := e.tables[name]
	if !ok {
		return fmt.Errorf("minidb: table %q does not exist", name)
	}
	for idxName, idx := range th.indexes {
		idx.Close()
		os.Remove(indexPath(e.dataDir, name, idxName))
	}
	th.heap.Close()
	os.Remove(tablePath(e.dataDir, name))
	delete(e.tables, name)
	return e.cat.DropTable(name)
}

// CreateIndex builds a new index over an existing table's column,
// scanning every live row to populate it.
func (e *Engine) CreateIndex(table, indexName, column string, unique bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	th, ok := e.tables[table]
	if !ok {
		return fmt.Errorf("minidb: table %q does not exist", table)
	}
	if _, ok := th.indexes[indexName]; ok {
		return fmt.Errorf("minidb: index %q already exists on %q", indexName, table)
	}
	colIdx := th.def.Schema.ColumnIndex(column)
	if colIdx < 0 {
		return fmt.Errorf("minidb: table %q has no column %q", table, column)
	}

	idx, err := btree.Create(indexPath(e.dataDir, table, indexName),
		th.def.Schema.Columns[colIdx].Type, unique, e.cfg.CachePages)
	if err != nil {
		return err
	}

	cur := th.heap.Scan()
	for {
		r, data, ok, err := cur.Next()
		if err != nil {
			idx.Close()
			os.Remove(indexPath(e.dataDir, table, indexName))
			return err
		}
		if !ok {
			break
		}
		values, err := tuple.Decode(th.def.Schema, data)
		if err != nil {
			idx.Close()
			os.Remove(indexPath(e.dataDir, table, indexName))
			return err
		}
		if values[colIdx] == nil {
			continue
		}
		if err := idx.Insert(values[colIdx], r); err != nil {
			idx.Close()
			os.Remove(indexPath(e.dataDir, table, indexName))
			return err
		}
	}

	if err := e.cat.CreateIndex(table, catalog.IndexDef{Name: indexName, Column: column, Unique: unique}); err != nil {
		idx.Close()
		os.Remove(indexPath(e.dataDir, table, indexName))
		return err
	}
	th.indexes[indexName] = idx
	th.def, _ = e.cat.GetTable(table)
	return nil
}

// DropIndex removes an index from a table.
func (e *Engine) DropIndex(table, indexName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	th, ok := e.tables[table]
	if !ok {
		return fmt.Errorf("minidb: table %q does not exist", table)
	}
	idx, ok := th.indexes[indexName]
	if !ok {
		return fmt.Errorf("minidb: index %q does not exist on %q", indexName, table)
	}
	idx.Close()
	os.Remove(indexPath(e.dataDir, table, indexName))
	delete(th.indexes, indexName)
	th.def, _ = e.cat.GetTable(table)
	return e.cat.DropIndex(table, indexName)
}

// TableSchema returns a table's current schema, for the SQL front end.
func (e *Engine) TableSchema(table string) (types.Schema, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	th, ok := e.tables[table]
	if !ok {
		return types.Schema{}, false
	}
	return th.def.Schema, true
}

// ListTables returns every known table name.
func (e *Engine) ListTables() []string {
	return e.cat.ListTables()
}

// ListIndexes returns the index definitions over a table.
func (e *Engine) ListIndexes(table string) []catalog.IndexDef {
	return e.cat.ListIndexes(table)
}

func (e *Engine) tableHandle(table string) (*tableHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	th, ok := e.tables[table]
	if !ok {
		return nil, fmt.Errorf("minidb: table %q does not exist", table)
	}
	return th, nil
}

// checkpointLoop periodically flushes every open file and truncates the
// WAL up to the flushed point.
func (e *Engine) checkpointLoop() {
	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Checkpoint(); err != nil {
				log.WithField("error", err).Error("minidb: checkpoint failed")
			}
		}
	}
}

// Checkpoint flushes every table and index file to disk, then truncates
// the write-ahead log up to the point every flushed mutation is now
// durable without it.
func (e *Engine) Checkpoint() error {
	e.mu.RLock()
	handles := make([]*tableHandle, 0, len(e.tables))
	for _, th := range e.tables {
		handles = append(handles, th)
	}
	e.mu.RUnlock()

	for _, th := range handles {
		if err := th.heap.Flush(); err != nil {
			return err
		}
		for _, idx := range th.indexes {
			if err := idx.Flush(); err != nil {
				return err
			}
		}
	}

	truncateAt := e.wal.NextLSN()
	if _, err := e.wal.Append(wal.Record{Op: wal.OpCheckpoint}); err != nil {
		return err
	}
	return e.wal.TruncateTo(truncateAt)
}

// recover replays the write-ahead log at startup: every record belonging
// to a transaction that has a COMMIT record is redone against its
// target page, gated by the page's stored LSN so replay is idempotent.
func (e *Engine) recover() error {
	committed := map[uint32]bool{}
	if err := e.wal.IterateFrom(0, func(r wal.Record) error {
		if r.Op == wal.OpCommit {
			committed[r.TxnID] = true
		}
		return nil
	}); err != nil {
		return err
	}

	var redone int
	err := e.wal.IterateFrom(0, func(r wal.Record) error {
		switch r.Op {
		case wal.OpInsert, wal.OpUpdate:
			if !committed[r.TxnID] {
				return nil
			}
			th, ok := e.tables[r.Table]
			if !ok {
				return nil
			}
			redone++
			return th.heap.RedoPut(r.RID, r.After, uint32(r.LSN))
		case wal.OpDelete:
			if !committed[r.TxnID] {
				return nil
			}
			th, ok := e.tables[r.Table]
			if !ok {
				return nil
			}
			redone++
			return th.heap.RedoDelete(r.RID, uint32(r.LSN))
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	if redone > 0 {
		log.WithField("records", redone).Info("minidb: recovery redo complete")
	}
	return nil
}

// ---- transactions -------------------------------------------------------

// Begin starts a new Active transaction.
func (e *Engine) Begin() *txn.Txn {
	id := e.locks.NextTxnID()
	t := txn.New(id)
	e.txMu.Lock()
	e.txns[id] = t
	e.txMu.Unlock()
	return t
}

// Commit durably commits t: append and fsync a COMMIT record, then
// release every lock it held.
func (e *Engine) Commit(t *txn.Txn) error {
	t.State = txn.Committing
	if _, err := e.wal.Commit(uint32(t.ID)); err != nil {
		return err
	}
	t.State = txn.Committed
	e.locks.ReleaseAll(t.ID)
	e.txMu.Lock()
	delete(e.txns, t.ID)
	e.txMu.Unlock()
	return nil
}

// Rollback undoes every mutation t made, in reverse order, then releases
// its locks. No ROLLBACK record is written to the log: redo recovery
// only replays committed transactions, so an aborted transaction's
// un-redone mutations simply vanish on crash.
func (e *Engine) Rollback(t *txn.Txn) error {
	t.State = txn.Aborting
	err := t.Undo()
	t.State = txn.Aborted
	e.locks.ReleaseAll(t.ID)
	e.txMu.Lock()
	delete(e.txns, t.ID)
	e.txMu.Unlock()
	return err
}

func rowKey(r rid.RID) string {
	return r.String()
}

// ---- DML ----------------------------------------------------------------

// Insert adds one row to table under t, taking an exclusive row lock on
// the new RID, maintaining every index, and logging the mutation.
func (e *Engine) Insert(t *txn.Txn, table string, values []types.Value) (rid.RID, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return rid.RID{}, err
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentExclusive); err != nil {
		return rid.RID{}, err
	}

	data, err := tuple.Encode(th.def.Schema, values)
	if err != nil {
		return rid.RID{}, err
	}

	for _, idxDef := range th.def.Indexes {
		if !idxDef.Unique {
			continue
		}
		colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
		if values[colIdx] == nil {
			continue
		}
		if _, err := th.indexes[idxDef.Name].Search(values[colIdx]); err == nil {
			return rid.RID{}, errs.ErrDuplicateKey
		}
	}

	r, err := th.heap.Insert(data)
	if err != nil {
		return rid.RID{}, err
	}
	if err := e.locks.LockRow(t.ID, table, rowKey(r)); err != nil {
		th.heap.Delete(r)
		return rid.RID{}, err
	}

	lsn, err := e.wal.Append(wal.Record{TxnID: uint32(t.ID), Op: wal.OpInsert, Table: table, RID: r, After: data})
	if err != nil {
		return rid.RID{}, err
	}
	if err := th.heap.StampLSN(r, uint32(lsn)); err != nil {
		return rid.RID{}, err
	}

	for _, idxDef := range th.def.Indexes {
		colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
		if values[colIdx] == nil {
			continue
		}
		idx := th.indexes[idxDef.Name]
		if err := idx.Insert(values[colIdx], r); err != nil {
			return rid.RID{}, err
		}
	}

	rCopy := r
	t.RecordUndo(func() error {
		for _, idxDef := range th.def.Indexes {
			colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
			if values[colIdx] == nil {
				continue
			}
			th.indexes[idxDef.Name].Delete(values[colIdx], rCopy)
		}
		return th.heap.Delete(rCopy)
	})

	return r, nil
}

// Get reads one row by RID under t, taking a shared row lock.
func (e *Engine) Get(t *txn.Txn, table string, r rid.RID) ([]types.Value, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return nil, err
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentShared); err != nil {
		return nil, err
	}
	if err := e.locks.LockRowShared(t.ID, table, rowKey(r)); err != nil {
		return nil, err
	}
	data, err := th.heap.Get(r)
	if err != nil {
		return nil, err
	}
	return tuple.Decode(th.def.Schema, data)
}

// Scan returns every live (RID, values) pair in table, under a
// table-level intention-shared lock.
func (e *Engine) Scan(t *txn.Txn, table string) ([]rid.RID, [][]types.Value, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return nil, nil, err
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentShared); err != nil {
		return nil, nil, err
	}

	var rids []rid.RID
	var rows [][]types.Value
	cur := th.heap.Scan()
	for {
		r, data, ok, err := cur.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		if err := e.locks.LockRowShared(t.ID, table, rowKey(r)); err != nil {
			return nil, nil, err
		}
		values, err := tuple.Decode(th.def.Schema, data)
		if err != nil {
			return nil, nil, err
		}
		rids = append(rids, r)
		rows = append(rows, values)
	}
	return rids, rows, nil
}

// IndexSearch returns the RID stored for key in table's named index.
func (e *Engine) IndexSearch(t *txn.Txn, table, indexName string, key types.Value) (rid.RID, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return rid.RID{}, err
	}
	idx, ok := th.indexes[indexName]
	if !ok {
		return rid.RID{}, fmt.Errorf("minidb: index %q does not exist on %q", indexName, table)
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentShared); err != nil {
		return rid.RID{}, err
	}
	return idx.Search(key)
}

// IndexRange returns every RID stored in table's named index within
// [lo, hi] (either bound nil for unbounded), ascending by key.
func (e *Engine) IndexRange(t *txn.Txn, table, indexName string, lo, hi types.Value) ([]rid.RID, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return nil, err
	}
	idx, ok := th.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("minidb: index %q does not exist on %q", indexName, table)
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentShared); err != nil {
		return nil, err
	}

	cur, err := idx.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	var rids []rid.RID
	for {
		pair, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rids = append(rids, pair.RID)
	}
	return rids, nil
}

// Update rewrites the row at r to newValues under t. If the row file
// moves it to a new RID, every index entry pointing at the old RID is
// repointed to the new one.
func (e *Engine) Update(t *txn.Txn, table string, r rid.RID, newValues []types.Value) (rid.RID, error) {
	th, err := e.tableHandle(table)
	if err != nil {
		return rid.RID{}, err
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentExclusive); err != nil {
		return rid.RID{}, err
	}
	if err := e.locks.LockRow(t.ID, table, rowKey(r)); err != nil {
		return rid.RID{}, err
	}

	oldData, err := th.heap.Get(r)
	if err != nil {
		return rid.RID{}, err
	}
	oldValues, err := tuple.Decode(th.def.Schema, oldData)
	if err != nil {
		return rid.RID{}, err
	}
	newData, err := tuple.Encode(th.def.Schema, newValues)
	if err != nil {
		return rid.RID{}, err
	}

	newR, err := th.heap.Update(r, newData)
	if err != nil {
		return rid.RID{}, err
	}

	var lsn uint64
	if newR == r {
		lsn, err = e.wal.Append(wal.Record{TxnID: uint32(t.ID), Op: wal.OpUpdate, Table: table, RID: r,
			Before: oldData, After: newData})
	} else {
		if err := e.locks.LockRow(t.ID, table, rowKey(newR)); err != nil {
			return rid.RID{}, err
		}
		if _, derr := e.wal.Append(wal.Record{TxnID: uint32(t.ID), Op: wal.OpDelete, Table: table, RID: r,
			Before: oldData}); derr != nil {
			return rid.RID{}, derr
		}
		lsn, err = e.wal.Append(wal.Record{TxnID: uint32(t.ID), Op: wal.OpInsert, Table: table, RID: newR,
			After: newData})
	}
	if err != nil {
		return rid.RID{}, err
	}
	if err := th.heap.StampLSN(newR, uint32(lsn)); err != nil {
		return rid.RID{}, err
	}

	for _, idxDef := range th.def.Indexes {
		colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
		idx := th.indexes[idxDef.Name]
		oldKey, newKey := oldValues[colIdx], newValues[colIdx]
		same := newR == r
		if oldKey != nil {
			c, cerr := types.Compare(th.def.Schema.Columns[colIdx].Type, oldKey, newKey)
			if cerr == nil && c == 0 && same {
				continue
			}
		}
		if oldKey != nil {
			idx.Delete(oldKey, r)
		}
		if newKey != nil {
			if err := idx.Insert(newKey, newR); err != nil {
				return rid.RID{}, err
			}
		}
	}

	capturedOld := oldValues
	t.RecordUndo(func() error {
		revertData, err := tuple.Encode(th.def.Schema, capturedOld)
		if err != nil {
			return err
		}
		_, err = th.heap.Update(newR, revertData)
		return err
	})

	return newR, nil
}

// Delete removes the row at r under t.
func (e *Engine) Delete(t *txn.Txn, table string, r rid.RID) error {
	th, err := e.tableHandle(table)
	if err != nil {
		return err
	}
	if err := e.locks.LockTable(t.ID, table, txn.IntentExclusive); err != nil {
		return err
	}
	if err := e.locks.LockRow(t.ID, table, rowKey(r)); err != nil {
		return err
	}

	data, err := th.heap.Get(r)
	if err != nil {
		return err
	}
	values, err := tuple.Decode(th.def.Schema, data)
	if err != nil {
		return err
	}

	if err := th.heap.Delete(r); err != nil {
		return err
	}
	lsn, err := e.wal.Append(wal.Record{TxnID: uint32(t.ID), Op: wal.OpDelete, Table: table, RID: r, Before: data})
	if err != nil {
		return err
	}
	_ = lsn

	for _, idxDef := range th.def.Indexes {
		colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
		if values[colIdx] == nil {
			continue
		}
		th.indexes[idxDef.Name].Delete(values[colIdx], r)
	}

	capturedR, capturedValues := r, values
	t.RecordUndo(func() error {
		restored, err := tuple.Encode(th.def.Schema, capturedValues)
		if err != nil {
			return err
		}
		newR, err := th.heap.Insert(restored)
		if err != nil {
			return err
		}
		if newR != capturedR {
			log.WithField("table", table).Warn("minidb: rollback reinsert landed on a new RID")
		}
		for _, idxDef := range th.def.Indexes {
			colIdx := th.def.Schema.ColumnIndex(idxDef.Column)
			if capturedValues[colIdx] == nil {
				continue
			}
			th.indexes[idxDef.Name].Insert(capturedValues[colIdx], newR)
		}
		return nil
	})

	return nil
}
