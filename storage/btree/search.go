package btree

import (
	"minidb/errs"
	"minidb/storage/pager"
	"minidb/storage/rid"
	"minidb/types"
)

// chooseChild returns which child of an internal node to descend into for
// key: the first entry whose key is strictly greater than the search key,
// or the rightmost child if no such entry exists. This relies on the
// invariant that every internal key equals the smallest key in its right
// subtree.
func (idx *Index) chooseChild(entries []internalEntry, rightmost pager.PageID, key []byte) (pager.PageID, error) {
	for _, e := range entries {
		c, err := idx.compareKeys(key, e.key)
		if err != nil {
			return 0, err
		}
		if c < 0 {
			return e.child, nil
		}
	}
	return rightmost, nil
}

// descendToLeaf must be called with idx.mu held.
func (idx *Index) descendToLeaf(key []byte) (pager.PageID, error) {
	pid := idx.root
	for {
		p, err := idx.pg.Read(pid)
		if err != nil {
			return 0, err
		}
		if isLeaf(p) {
			return pid, nil
		}
		entries, err := readInternalEntries(p)
		if err != nil {
			return 0, err
		}
		pid, err = idx.chooseChild(entries, internalRightmost(p), key)
		if err != nil {
			return 0, err
		}
	}
}

// Search returns the RID for key, or errs.ErrNotFound. For a non-unique
// index with duplicate keys, Search returns the lowest RID stored for key.
func (idx *Index) Search(v types.Value) (rid.RID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, err := idx.encodeKey(v)
	if err != nil {
		return rid.RID{}, err
	}
	leafID, err := idx.descendToLeaf(key)
	if err != nil {
		return rid.RID{}, err
	}
	p, err := idx.pg.Read(leafID)
	if err != nil {
		return rid.RID{}, err
	}
	entries, err := readLeafEntries(p)
	if err != nil {
		return rid.RID{}, err
	}
	for _, e := range entries {
		c, err := idx.compareKeys(e.key, key)
		if err != nil {
			return rid.RID{}, err
		}
		if c == 0 {
			return e.rid, nil
		}
	}
	return rid.RID{}, errs.ErrNotFound
}

// Pair is one (key, RID) entry yielded by a range scan.
type Pair struct {
	Key types.Value
	RID rid.RID
}

// Cursor walks ascending (key, RID) pairs within [lo, hi], either bound
// optional, by locating the leaf containing lo and following next_leaf_id.
// A Cursor takes idx.mu only for the duration of each call, so it never
// holds the tree latched across calls.
type Cursor struct {
	idx     *Index
	hi      []byte
	hasHi   bool
	entries []leafEntry
	pos     int
	pageID  pager.PageID
	done    bool
}

// Range starts a cursor over keys in [lo, hi] (either bound may be nil for
// unbounded). Ordering is ascending by key.
func (idx *Index) Range(lo, hi types.Value) (*Cursor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var loKey []byte
	if lo != nil {
		k, err := idx.encodeKey(lo)
		if err != nil {
			return nil, err
		}
		loKey = k
	}

	var leafID pager.PageID
	if loKey != nil {
		id, err := idx.descendToLeaf(loKey)
		if err != nil {
			return nil, err
		}
		leafID = id
	} else {
		id, err := idx.leftmostLeafLocked()
		if err != nil {
			return nil, err
		}
		leafID = id
	}

	cur := &Cursor{idx: idx, pageID: leafID}
	if hi != nil {
		k, err := idx.encodeKey(hi)
		if err != nil {
			return nil, err
		}
		cur.hi = k
		cur.hasHi = true
	}

	p, err := idx.pg.Read(leafID)
	if err != nil {
		return nil, err
	}
	entries, err := readLeafEntries(p)
	if err != nil {
		return nil, err
	}
	cur.entries = entries

	if loKey != nil {
		for cur.pos < len(cur.entries) {
			c, err := idx.compareKeys(cur.entries[cur.pos].key, loKey)
			if err != nil {
				return nil, err
			}
			if c >= 0 {
				break
			}
			cur.pos++
		}
	}
	return cur, nil
}

// leftmostLeafLocked must be called with idx.mu held.
func (idx *Index) leftmostLeafLocked() (pager.PageID, error) {
	pid := idx.root
	for {
		p, err := idx.pg.Read(pid)
		if err != nil {
			return 0, err
		}
		if isLeaf(p) {
			return pid, nil
		}
		entries, err := readInternalEntries(p)
		if err != nil {
			return 0, err
		}
		if len(entries) > 0 {
			pid = entries[0].child
		} else {
			pid = internalRightmost(p)
		}
	}
}

// Next returns the next (key, RID) pair, or (Pair{}, false, nil) when the
// scan is exhausted or has passed the high bound.
func (c *Cursor) Next() (Pair, bool, error) {
	if c.done {
		return Pair{}, false, nil
	}

	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()

	for {
		if c.pos < len(c.entries) {
			e := c.entries[c.pos]
			if c.hasHi {
				cmp, err := c.idx.compareKeys(e.key, c.hi)
				if err != nil {
					return Pair{}, false, err
				}
				if cmp > 0 {
					c.done = true
					return Pair{}, false, nil
				}
			}
			c.pos++
			kv, err := c.idx.decodeKey(e.key)
			if err != nil {
				return Pair{}, false, err
			}
			return Pair{Key: kv, RID: e.rid}, true, nil
		}

		p, err := c.idx.pg.Read(c.pageID)
		if err != nil {
			return Pair{}, false, err
		}
		_, next := leafSiblings(p)
		if next == invalidPageID {
			c.done = true
			return Pair{}, false, nil
		}
		c.pageID = next
		np, err := c.idx.pg.Read(c.pageID)
		if err != nil {
			return Pair{}, false, err
		}
		entries, err := readLeafEntries(np)
		if err != nil {
			return Pair{}, false, err
		}
		c.entries = entries
		c.pos = 0
	}
}
