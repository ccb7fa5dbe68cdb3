// Package heap implements the heap file: an unordered, page-structured
// .tbl file. Page 0 holds the table's name and schema; pages 1..N are
// slotted data pages.
package heap

import (
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"minidb/errs"
	"minidb/storage/pager"
	"minidb/storage/rid"
	"minidb/storage/slotted"
	"minidb/types"
)

type headerMeta struct {
	Name    string        `json:"name"`
	Columns []columnMeta  `json:"columns"`
}

type columnMeta struct {
	Name     string        `json:"name"`
	Type     types.TypeTag `json:"type"`
	Nullable bool          `json:"nullable"`
}

// File is an open heap file.
type File struct {
	mu     sync.Mutex
	pg     *pager.Pager
	Name   string
	Schema types.Schema

	// lastFree is a hint: the last page an insert landed on. The next
	// insert scans from here upward; pages below it are not revisited.
	lastFree pager.PageID
}

// Create initializes a brand new .tbl file at path with the given table
// name and schema.
func Create(path string, name string, schema types.Schema, cachePages int) (*File, error) {
	pg, err := pager.Open(path, cachePages)
	if err != nil {
		return nil, err
	}
	f := &File{pg: pg, Name: name, Schema: schema, lastFree: 1}
	if err := f.writeHeader(); err != nil {
		pg.Close()
		return nil, err
	}
	return f, nil
}

// Open opens an existing .tbl file, reading its schema from page 0.
func Open(path string, cachePages int) (*File, error) {
	pg, err := pager.Open(path, cachePages)
	if err != nil {
		return nil, err
	}
	hp, err := pg.Header()
	if err != nil {
		pg.Close()
		return nil, err
	}

	meta, err := decodeHeader(hp)
	if err != nil {
		pg.Close()
		return nil, err
	}

	cols := make([]types.Column, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = types.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}

	return &File{
		pg:       pg,
		Name:     meta.Name,
		Schema:   types.Schema{Columns: cols},
		lastFree: 1,
	}, nil
}

func decodeHeader(hp *pager.Page) (headerMeta, error) {
	var meta headerMeta
	raw := hp.Buf[pager.HeaderMetadataOffset:]
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	if err := json.Unmarshal(raw[:end], &meta); err != nil {
		return headerMeta{}, fmt.Errorf("heap: decode header: %w", err)
	}
	return meta, nil
}

func (f *File) writeHeader() error {
	cols := make([]columnMeta, len(f.Schema.Columns))
	for i, c := range f.Schema.Columns {
		cols[i] = columnMeta{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	meta := headerMeta{Name: f.Name, Columns: cols}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("heap: encode header: %w", err)
	}
	if len(b) > pager.PageSize-pager.HeaderMetadataOffset {
		return fmt.Errorf("heap: schema metadata too large for header page")
	}
	return f.pg.WriteHeader(b)
}

func (f *File) Close() error { return f.pg.Close() }
func (f *File) Flush() error { return f.pg.Flush() }

// Insert writes tupleBytes into the first data page with enough free
// space, starting from a cached hint, allocating a new page if none has
// room. It returns the resulting RID.
func (f *File) Insert(tupleBytes []byte) (rid.RID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.pg.NumPages()
	start := f.lastFree
	if start < 1 {
		start = 1
	}

	for pid := start; pid < n; pid++ {
		p, err := f.pg.Read(pid)
		if err != nil {
			return rid.RID{}, err
		}
		if slotted.FitsWithNewSlot(p, len(tupleBytes)) || hasReusableSlot(p, len(tupleBytes)) {
			slotID, err := slotted.Insert(p, tupleBytes)
			if err != nil {
				continue
			}
			if err := f.pg.Write(p); err != nil {
				return rid.RID{}, err
			}
			f.lastFree = pid
			return rid.RID{PageID: pid, SlotID: uint16(slotID)}, nil
		}
	}

	pid, err := f.pg.Allocate()
	if err != nil {
		return rid.RID{}, err
	}
	p, err := f.pg.Read(pid)
	if err != nil {
		return rid.RID{}, err
	}
	slotID, err := slotted.Insert(p, tupleBytes)
	if err != nil {
		return rid.RID{}, err
	}
	if err := f.pg.Write(p); err != nil {
		return rid.RID{}, err
	}
	f.lastFree = pid
	return rid.RID{PageID: pid, SlotID: uint16(slotID)}, nil
}

func hasReusableSlot(p *pager.Page, length int) bool {
	return slotted.FreeBytes(p) >= length
}

// Get returns the raw tuple bytes stored at r.
func (f *File) Get(r rid.RID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pg.Read(r.PageID)
	if err != nil {
		return nil, err
	}
	return slotted.Get(p, int(r.SlotID))
}

// Update attempts an in-page update; if the new bytes don't fit in the
// existing slot, it deletes and re-inserts, possibly on a different page,
// and returns the new RID. Callers that hold secondary indexes on this
// table must propagate the RID change.
func (f *File) Update(r rid.RID, newBytes []byte) (rid.RID, error) {
	f.mu.Lock()
	p, err := f.pg.Read(r.PageID)
	if err != nil {
		f.mu.Unlock()
		return rid.RID{}, err
	}
	slotID, err := slotted.Update(p, int(r.SlotID), newBytes)
	if err == nil {
		werr := f.pg.Write(p)
		f.mu.Unlock()
		if werr != nil {
			return rid.RID{}, werr
		}
		return rid.RID{PageID: r.PageID, SlotID: uint16(slotID)}, nil
	}
	if err != errs.ErrPageFull {
		f.mu.Unlock()
		return rid.RID{}, err
	}
	f.mu.Unlock()

	// The grown tuple doesn't fit in this page's free space (slotted.Update
	// left the old tuple in place): delete then re-insert, which may land
	// on any page.
	if err := f.Delete(r); err != nil {
		return rid.RID{}, err
	}
	return f.Insert(newBytes)
}

// Delete removes the tuple at r; the slot becomes eligible for reuse.
func (f *File) Delete(r rid.RID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pg.Read(r.PageID)
	if err != nil {
		return err
	}
	if err := slotted.Delete(p, int(r.SlotID)); err != nil {
		return err
	}
	return f.pg.Write(p)
}

// StampLSN records the WAL LSN of the most recent mutation applied to
// r's page, so a later crash-recovery redo pass can tell whether this
// page already reflects a given log record. Callers mutate the tuple
// first (Insert/Update/Delete) and append the WAL record after, then
// stamp the LSN that record was assigned.
func (f *File) StampLSN(r rid.RID, lsn uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pg.Read(r.PageID)
	if err != nil {
		return err
	}
	p.SetLSN(lsn)
	return f.pg.Write(p)
}

// RedoPut reapplies a logged insert or update at its original RID,
// skipped if the page already reflects lsn or later (the page-LSN
// comparison that makes WAL redo idempotent).
func (f *File) RedoPut(r rid.RID, data []byte, lsn uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pg.Read(r.PageID)
	if err != nil {
		return err
	}
	if p.LSN() >= lsn {
		return nil
	}
	if err := slotted.PutAt(p, int(r.SlotID), data); err != nil {
		return err
	}
	p.SetLSN(lsn)
	return f.pg.Write(p)
}

// RedoDelete reapplies a logged delete at its original RID, subject to
// the same page-LSN idempotency check as RedoPut.
func (f *File) RedoDelete(r rid.RID, lsn uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, err := f.pg.Read(r.PageID)
	if err != nil {
		return err
	}
	if p.LSN() >= lsn {
		return nil
	}
	if err := slotted.DeleteAt(p, int(r.SlotID)); err != nil {
		return err
	}
	p.SetLSN(lsn)
	return f.pg.Write(p)
}

// Cursor iterates live (RID, tuple bytes) pairs in ascending (page_id,
// slot_id) order. A fresh Cursor restarts the scan from the beginning.
type Cursor struct {
	f      *File
	pageID pager.PageID
	slotID int
}

func (f *File) Scan() *Cursor {
	return &Cursor{f: f, pageID: 1, slotID: 0}
}

// Next advances the cursor and returns the next live tuple, or
// (false, nil) when the scan is exhausted.
func (c *Cursor) Next() (rid.RID, []byte, bool, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	n := c.f.pg.NumPages()
	for c.pageID < n {
		p, err := c.f.pg.Read(c.pageID)
		if err != nil {
			log.WithField("page", c.pageID).Error("heap: scan read failed")
			return rid.RID{}, nil, false, err
		}
		total := slotted.NumSlots(p)
		for c.slotID < total {
			slotID := c.slotID
			c.slotID++
			data, err := slotted.Get(p, slotID)
			if err == errs.ErrNotFound {
				continue
			}
			if err != nil {
				return rid.RID{}, nil, false, err
			}
			return rid.RID{PageID: c.pageID, SlotID: uint16(slotID)}, data, true, nil
		}
		c.pageID++
		c.slotID = 0
	}
	return rid.RID{}, nil, false, nil
}
