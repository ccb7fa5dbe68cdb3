// Package slotted implements the slotted-page layout over a *pager.Page's
// 4096-byte buffer: tuple insert/update/delete/get and in-page compaction.
// A slot directory entry is 4 bytes, (offset uint16, length uint16); a
// deleted slot is (0, 0) and is eligible for reuse by the next insert.
// The tuple region grows down from the end of the page while the slot
// directory grows up from DataStart.
package slotted

import (
	"encoding/binary"

	"minidb/errs"
	"minidb/storage/pager"
)

const slotSize = 4

// NumSlots returns how many slot directory entries currently exist
// (including deleted ones).
func NumSlots(p *pager.Page) int {
	return (int(p.FreeStart()) - pager.DataStart) / slotSize
}

func slotOffset(i int) int {
	return pager.DataStart + i*slotSize
}

func readSlot(p *pager.Page, i int) (offset, length uint16) {
	o := slotOffset(i)
	return binary.BigEndian.Uint16(p.Buf[o:]), binary.BigEndian.Uint16(p.Buf[o+2:])
}

func writeSlot(p *pager.Page, i int, offset, length uint16) {
	o := slotOffset(i)
	binary.BigEndian.PutUint16(p.Buf[o:], offset)
	binary.BigEndian.PutUint16(p.Buf[o+2:], length)
}

// freeSpace returns the number of unused bytes between the slot directory
// and the tuple region.
func freeSpace(p *pager.Page) int {
	return int(p.FreeEnd()) - int(p.FreeStart())
}

// lowestDeletedSlot returns the smallest slot_id currently marked deleted,
// or -1 if none exists. Insert prefers reusing this slot over growing the
// directory.
func lowestDeletedSlot(p *pager.Page) int {
	n := NumSlots(p)
	for i := 0; i < n; i++ {
		off, length := readSlot(p, i)
		if off == 0 && length == 0 {
			return i
		}
	}
	return -1
}

// Insert appends bytes as a new tuple, reusing the lowest deleted slot id
// if one exists and fits, otherwise allocating a new slot. It returns
// errs.ErrPageFull if there isn't enough contiguous free space.
func Insert(p *pager.Page, data []byte) (int, error) {
	reuse := lowestDeletedSlot(p)
	needed := len(data)
	if reuse < 0 {
		needed += slotSize
	}
	if needed > freeSpace(p) {
		return 0, errs.ErrPageFull
	}

	newFreeEnd := int(p.FreeEnd()) - len(data)
	copy(p.Buf[newFreeEnd:], data)
	p.SetFreeEnd(uint16(newFreeEnd))

	if reuse >= 0 {
		writeSlot(p, reuse, uint16(newFreeEnd), uint16(len(data)))
		p.MarkDirty()
		return reuse, nil
	}

	slotID := NumSlots(p)
	writeSlot(p, slotID, uint16(newFreeEnd), uint16(len(data)))
	p.SetFreeStart(p.FreeStart() + slotSize)
	p.MarkDirty()
	return slotID, nil
}

// Get returns the bytes stored at slot_id, or errs.ErrNotFound if the slot
// does not exist or was deleted.
func Get(p *pager.Page, slotID int) ([]byte, error) {
	if slotID < 0 || slotID >= NumSlots(p) {
		return nil, errs.ErrNotFound
	}
	off, length := readSlot(p, slotID)
	if length == 0 {
		return nil, errs.ErrNotFound
	}
	buf := make([]byte, length)
	copy(buf, p.Buf[off:int(off)+int(length)])
	return buf, nil
}

// Update overwrites the tuple at slot_id. If the new value fits within the
// existing slot's length it is rewritten in place and the slot shrinks;
// otherwise the slot is deleted and the value re-inserted into the lowest
// deleted slot id (possibly a lower one than slotID), which callers must
// treat as an RID change. Returns the slot id the value now lives at, and
// errs.ErrPageFull if the delete+insert doesn't fit either; the old tuple
// is then left in place at slotID (the caller must move the tuple to
// another page).
func Update(p *pager.Page, slotID int, data []byte) (int, error) {
	if slotID < 0 || slotID >= NumSlots(p) {
		return 0, errs.ErrNotFound
	}
	off, length := readSlot(p, slotID)
	if length == 0 {
		return 0, errs.ErrNotFound
	}

	if len(data) <= int(length) {
		copy(p.Buf[off:], data)
		writeSlot(p, slotID, off, uint16(len(data)))
		p.MarkDirty()
		return slotID, nil
	}

	if err := Delete(p, slotID); err != nil {
		return 0, err
	}
	newID, err := Insert(p, data)
	if err != nil {
		writeSlot(p, slotID, off, length)
		return 0, err
	}
	return newID, nil
}

// Delete marks slot_id's directory entry as (0, 0). The freed tuple bytes
// are not reclaimed until Compact runs.
func Delete(p *pager.Page, slotID int) error {
	if slotID < 0 || slotID >= NumSlots(p) {
		return errs.ErrNotFound
	}
	_, length := readSlot(p, slotID)
	if length == 0 {
		return errs.ErrNotFound
	}
	writeSlot(p, slotID, 0, 0)
	p.MarkDirty()
	return nil
}

// Compact rewrites the tuple region contiguously against the page end,
// updating slot offsets, without ever reordering slot ids. It preserves
// the multiset of live tuples.
func Compact(p *pager.Page) {
	n := NumSlots(p)
	type live struct {
		slot   int
		data   []byte
	}
	entries := make([]live, 0, n)
	for i := 0; i < n; i++ {
		off, length := readSlot(p, i)
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		copy(buf, p.Buf[off:int(off)+int(length)])
		entries = append(entries, live{slot: i, data: buf})
	}

	freeEnd := uint16(pager.PageSize)
	for _, e := range entries {
		freeEnd -= uint16(len(e.data))
		copy(p.Buf[freeEnd:], e.data)
		writeSlot(p, e.slot, freeEnd, uint16(len(e.data)))
	}
	p.SetFreeEnd(freeEnd)
	p.MarkDirty()
}

// PutAt writes data directly into slot_id, extending the slot directory
// with deleted placeholders if slot_id does not yet exist. It is used by
// WAL redo to reapply a mutation at the exact RID it originally occupied,
// bypassing the usual lowest-deleted-slot reuse policy.
func PutAt(p *pager.Page, slotID int, data []byte) error {
	for NumSlots(p) <= slotID {
		if slotSize > freeSpace(p) {
			return errs.ErrPageFull
		}
		n := NumSlots(p)
		writeSlot(p, n, 0, 0)
		p.SetFreeStart(p.FreeStart() + slotSize)
	}
	if len(data) > freeSpace(p) {
		Compact(p)
		if len(data) > freeSpace(p) {
			return errs.ErrPageFull
		}
	}
	newFreeEnd := int(p.FreeEnd()) - len(data)
	copy(p.Buf[newFreeEnd:], data)
	p.SetFreeEnd(uint16(newFreeEnd))
	writeSlot(p, slotID, uint16(newFreeEnd), uint16(len(data)))
	p.MarkDirty()
	return nil
}

// DeleteAt marks slot_id deleted if it exists; redoing a delete of a slot
// that was never grown on this replica is a no-op.
func DeleteAt(p *pager.Page, slotID int) error {
	if slotID < 0 || slotID >= NumSlots(p) {
		return nil
	}
	writeSlot(p, slotID, 0, 0)
	p.MarkDirty()
	return nil
}

// FreeBytes reports how many bytes of contiguous free space remain, the
// quantity Heap File's insert path checks before deciding to allocate a
// new page.
func FreeBytes(p *pager.Page) int {
	return freeSpace(p)
}

// FitsWithNewSlot reports whether len bytes could be inserted as a brand
// new slot (i.e. without reusing a deleted one), the conservative check a
// caller scanning for a landing page should use.
func FitsWithNewSlot(p *pager.Page, length int) bool {
	return length+slotSize <= freeSpace(p)
}
