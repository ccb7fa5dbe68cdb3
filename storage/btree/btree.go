// Package btree implements a B+-tree index: an ordered key -> RID mapping
// persisted in a .idx file, with point lookup, range scan, insert and
// delete. Every node occupies one page of the slotted-page carrier;
// leaves are doubly linked for range scans and internal nodes route by
// separator key.
package btree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"minidb/errs"
	"minidb/storage/pager"
	"minidb/storage/rid"
	"minidb/storage/slotted"
	"minidb/storage/tuple"
	"minidb/types"
)

const (
	leafFlag = 1 << 0

	invalidPageID = pager.PageID(0) // page 0 is always the header; never a node
)

// Index is an open B+-tree file.
type Index struct {
	mu      sync.Mutex
	pg      *pager.Pager
	Name    string
	KeyType types.TypeTag
	Unique  bool
	root    pager.PageID
	height  int
}

type headerMeta struct {
	Root    uint32
	Height  uint32
	KeyType byte
}

// Create initializes a new empty .idx file with a single empty leaf root.
func Create(path string, keyType types.TypeTag, unique bool, cachePages int) (*Index, error) {
	pg, err := pager.Open(path, cachePages)
	if err != nil {
		return nil, err
	}
	rootID, err := pg.Allocate()
	if err != nil {
		pg.Close()
		return nil, err
	}
	rootPage, err := pg.Read(rootID)
	if err != nil {
		pg.Close()
		return nil, err
	}
	formatLeaf(rootPage, invalidPageID, invalidPageID)
	if err := pg.Write(rootPage); err != nil {
		pg.Close()
		return nil, err
	}

	idx := &Index{pg: pg, KeyType: keyType, Unique: unique, root: rootID, height: 1}
	if err := idx.writeHeader(); err != nil {
		pg.Close()
		return nil, err
	}
	return idx, nil
}

// Open opens an existing .idx file, reading the root pointer, key type and
// height from the header page.
func Open(path string, cachePages int) (*Index, error) {
	pg, err := pager.Open(path, cachePages)
	if err != nil {
		return nil, err
	}
	hp, err := pg.Header()
	if err != nil {
		pg.Close()
		return nil, err
	}
	meta := hp.Buf[pager.HeaderMetadataOffset:]
	root := pager.PageID(binary.BigEndian.Uint32(meta[0:4]))
	height := int(binary.BigEndian.Uint32(meta[4:8]))
	keyType := types.TypeTag(meta[8])
	unique := meta[9] != 0

	return &Index{pg: pg, KeyType: keyType, Unique: unique, root: root, height: height}, nil
}

func (idx *Index) writeHeader() error {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint32(buf[0:4], uint32(idx.root))
	binary.BigEndian.PutUint32(buf[4:8], uint32(idx.height))
	buf[8] = byte(idx.KeyType)
	if idx.Unique {
		buf[9] = 1
	}
	return idx.pg.WriteHeader(buf)
}

func (idx *Index) Close() error { return idx.pg.Close() }
func (idx *Index) Flush() error { return idx.pg.Flush() }

// ---- node encode/decode -----------------------------------------------

type leafEntry struct {
	key []byte
	rid rid.RID
}

type internalEntry struct {
	key   []byte
	child pager.PageID
}

func isLeaf(p *pager.Page) bool { return p.Flags()&leafFlag != 0 }

func formatLeaf(p *pager.Page, prev, next pager.PageID) {
	p.SetFlags(leafFlag)
	p.SetFreeStart(pager.DataStart)
	p.SetFreeEnd(pager.PageSize)
	binary.BigEndian.PutUint32(p.Reserved()[0:4], uint32(prev))
	binary.BigEndian.PutUint32(p.Reserved()[4:8], uint32(next))
	p.MarkDirty()
}

func formatInternal(p *pager.Page, rightmost pager.PageID) {
	p.SetFlags(0)
	p.SetFreeStart(pager.DataStart)
	p.SetFreeEnd(pager.PageSize)
	binary.BigEndian.PutUint32(p.Reserved()[0:4], uint32(rightmost))
	p.MarkDirty()
}

func leafSiblings(p *pager.Page) (prev, next pager.PageID) {
	r := p.Reserved()
	return pager.PageID(binary.BigEndian.Uint32(r[0:4])), pager.PageID(binary.BigEndian.Uint32(r[4:8]))
}

func internalRightmost(p *pager.Page) pager.PageID {
	return pager.PageID(binary.BigEndian.Uint32(p.Reserved()[0:4]))
}

func readLeafEntries(p *pager.Page) ([]leafEntry, error) {
	n := slotted.NumSlots(p)
	entries := make([]leafEntry, 0, n)
	for i := 0; i < n; i++ {
		buf, err := slotted.Get(p, i)
		if err == errs.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		r, err := rid.Decode(buf[:rid.Size])
		if err != nil {
			return nil, err
		}
		key := make([]byte, len(buf)-rid.Size)
		copy(key, buf[rid.Size:])
		entries = append(entries, leafEntry{key: key, rid: r})
	}
	return entries, nil
}

func readInternalEntries(p *pager.Page) ([]internalEntry, error) {
	n := slotted.NumSlots(p)
	entries := make([]internalEntry, 0, n)
	for i := 0; i < n; i++ {
		buf, err := slotted.Get(p, i)
		if err == errs.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		child := pager.PageID(binary.BigEndian.Uint32(buf[0:4]))
		key := make([]byte, len(buf)-4)
		copy(key, buf[4:])
		entries = append(entries, internalEntry{key: key, child: child})
	}
	return entries, nil
}

// rewriteLeaf fully re-lays-out p with entries in the given order (already
// sorted). It returns errs.ErrPageFull if they don't all fit, in which case
// p's prior content is left untouched by the caller's convention (callers
// only call this after already deciding a split is or isn't needed).
func rewriteLeaf(p *pager.Page, entries []leafEntry, prev, next pager.PageID) error {
	formatLeaf(p, prev, next)
	for _, e := range entries {
		buf := append(e.rid.Encode(), e.key...)
		if _, err := slotted.Insert(p, buf); err != nil {
			return err
		}
	}
	return nil
}

func rewriteInternal(p *pager.Page, entries []internalEntry, rightmost pager.PageID) error {
	formatInternal(p, rightmost)
	for _, e := range entries {
		buf := make([]byte, 4+len(e.key))
		binary.BigEndian.PutUint32(buf[0:4], uint32(e.child))
		copy(buf[4:], e.key)
		if _, err := slotted.Insert(p, buf); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) encodeKey(v types.Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("btree: NULL is not a valid index key")
	}
	return tuple.EncodeScalar(idx.KeyType, v)
}

func (idx *Index) decodeKey(buf []byte) (types.Value, error) {
	v, _, err := tuple.DecodeScalar(idx.KeyType, buf)
	return v, err
}

func (idx *Index) compareKeys(a, b []byte) (int, error) {
	av, err := idx.decodeKey(a)
	if err != nil {
		return 0, err
	}
	bv, err := idx.decodeKey(b)
	if err != nil {
		return 0, err
	}
	return types.Compare(idx.KeyType, av, bv)
}

// lessEntry orders leaf entries by (key, rid) so duplicate keys sort
// deterministically and a specific (key, RID) pair can be located exactly.
func (idx *Index) lessEntry(akey []byte, arid rid.RID, bkey []byte, brid rid.RID) (bool, error) {
	c, err := idx.compareKeys(akey, bkey)
	if err != nil {
		return false, err
	}
	if c != 0 {
		return c < 0, nil
	}
	if arid.PageID != brid.PageID {
		return arid.PageID < brid.PageID, nil
	}
	return arid.SlotID < brid.SlotID, nil
}
