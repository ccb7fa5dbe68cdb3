package btree

import (
	"sort"

	"minidb/errs"
	"minidb/storage/pager"
	"minidb/storage/rid"
	"minidb/types"
)

const nodeCapacity = pager.PageSize - pager.DataStart

func leafEntrySize(e leafEntry) int { return 4 + rid.Size + len(e.key) }

func internalEntrySize(e internalEntry) int { return 4 + 4 + len(e.key) }

func leafEntriesFit(entries []leafEntry) bool {
	total := 0
	for _, e := range entries {
		total += leafEntrySize(e)
	}
	return total <= nodeCapacity
}

func internalEntriesFit(entries []internalEntry) bool {
	total := 0
	for _, e := range entries {
		total += internalEntrySize(e)
	}
	return total <= nodeCapacity
}

// frame is one level of the descent path from root to leaf.
type frame struct {
	pageID pager.PageID
}

func (idx *Index) descendPath(key []byte) ([]frame, error) {
	var path []frame
	pid := idx.root
	for {
		path = append(path, frame{pageID: pid})
		p, err := idx.pg.Read(pid)
		if err != nil {
			return nil, err
		}
		if isLeaf(p) {
			return path, nil
		}
		entries, err := readInternalEntries(p)
		if err != nil {
			return nil, err
		}
		pid, err = idx.chooseChild(entries, internalRightmost(p), key)
		if err != nil {
			return nil, err
		}
	}
}

// Insert adds (v, r) to the index. For a unique index, inserting a
// duplicate key returns errs.ErrDuplicateKey; for a non-unique index,
// duplicates are ordered by (key, RID) so a specific pair can always be
// located for deletion.
func (idx *Index) Insert(v types.Value, r rid.RID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, err := idx.encodeKey(v)
	if err != nil {
		return err
	}

	path, err := idx.descendPath(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].pageID

	leafPage, err := idx.pg.Read(leafID)
	if err != nil {
		return err
	}
	entries, err := readLeafEntries(leafPage)
	if err != nil {
		return err
	}

	insertAt := sort.Search(len(entries), func(i int) bool {
		less, lerr := idx.lessEntry(key, r, entries[i].key, entries[i].rid)
		if lerr != nil {
			return false
		}
		return less
	})
	if idx.Unique {
		for _, e := range entries {
			c, err := idx.compareKeys(e.key, key)
			if err != nil {
				return err
			}
			if c == 0 {
				return errs.ErrDuplicateKey
			}
		}
	}
	newEntry := leafEntry{key: append([]byte{}, key...), rid: r}
	entries = append(entries, leafEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = newEntry

	prev, next := leafSiblings(leafPage)

	if leafEntriesFit(entries) {
		if err := rewriteLeaf(leafPage, entries, prev, next); err != nil {
			return err
		}
		return idx.pg.Write(leafPage)
	}

	return idx.splitLeafAndInsert(path, leafPage, entries, prev, next)
}

// splitLeafAndInsert divides entries across the existing leaf page and a
// newly allocated right sibling, then propagates the new separator key
// into the parent (recursively splitting ancestors as needed).
func (idx *Index) splitLeafAndInsert(path []frame, leafPage *pager.Page, entries []leafEntry, prev, next pager.PageID) error {
	mid := len(entries) / 2
	leftEntries := entries[:mid]
	rightEntries := entries[mid:]

	rightID, err := idx.pg.Allocate()
	if err != nil {
		return err
	}
	rightPage, err := idx.pg.Read(rightID)
	if err != nil {
		return err
	}

	if err := rewriteLeaf(leafPage, leftEntries, prev, rightID); err != nil {
		return err
	}
	if err := rewriteLeaf(rightPage, rightEntries, leafPage.ID, next); err != nil {
		return err
	}
	if next != invalidPageID {
		nextPage, err := idx.pg.Read(next)
		if err != nil {
			return err
		}
		formatLeafSiblingsOnly(nextPage, rightID, selectNext(nextPage))
		if err := idx.pg.Write(nextPage); err != nil {
			return err
		}
	}
	if err := idx.pg.Write(leafPage); err != nil {
		return err
	}
	if err := idx.pg.Write(rightPage); err != nil {
		return err
	}

	sepKey := rightEntries[0].key
	return idx.insertIntoParent(path, leafPage.ID, sepKey, rightID)
}

// formatLeafSiblingsOnly rewrites only the prev/next pointers of an
// already-formatted leaf page, leaving its entries untouched.
func formatLeafSiblingsOnly(p *pager.Page, prev, next pager.PageID) {
	r := p.Reserved()
	putPageID(r[0:4], prev)
	putPageID(r[4:8], next)
	p.MarkDirty()
}

// insertIntoParent inserts (sepKey, rightChild) into the parent of
// leftChild, found as the second-to-last frame on path (the last frame is
// leftChild itself). If there is no parent, leftChild was the root and a
// new root is created, increasing the tree's height.
func (idx *Index) insertIntoParent(path []frame, leftChild pager.PageID, sepKey []byte, rightChild pager.PageID) error {
	if len(path) == 1 {
		return idx.growRoot(leftChild, sepKey, rightChild)
	}

	parentID := path[len(path)-2].pageID
	parentPage, err := idx.pg.Read(parentID)
	if err != nil {
		return err
	}
	entries, err := readInternalEntries(parentPage)
	if err != nil {
		return err
	}
	rightmost := internalRightmost(parentPage)

	insertAt := sort.Search(len(entries), func(i int) bool {
		c, cerr := idx.compareKeys(entries[i].key, sepKey)
		if cerr != nil {
			return false
		}
		return c >= 0
	})
	newEntry := internalEntry{key: append([]byte{}, sepKey...), child: leftChild}
	entries = append(entries, internalEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = newEntry

	// leftChild now routes to sepKey; whichever pointer previously
	// targeted leftChild's old single slot must become rightChild for
	// everything >= sepKey. Since internal entries route "< key" to their
	// child and the remainder to rightmost, the entry immediately after
	// insertAt (or rightmost, if insertAt is last) must be repointed.
	if insertAt+1 < len(entries) {
		entries[insertAt+1].child = rightChild
	} else {
		rightmost = rightChild
	}

	if internalEntriesFit(entries) {
		if err := rewriteInternal(parentPage, entries, rightmost); err != nil {
			return err
		}
		return idx.pg.Write(parentPage)
	}

	return idx.splitInternalAndInsert(path[:len(path)-1], parentPage, entries, rightmost)
}

func (idx *Index) splitInternalAndInsert(path []frame, parentPage *pager.Page, entries []internalEntry, rightmost pager.PageID) error {
	mid := len(entries) / 2
	leftEntries := entries[:mid]
	promoted := entries[mid]
	rightEntries := entries[mid+1:]

	rightID, err := idx.pg.Allocate()
	if err != nil {
		return err
	}
	rightPage, err := idx.pg.Read(rightID)
	if err != nil {
		return err
	}

	if err := rewriteInternal(parentPage, leftEntries, promoted.child); err != nil {
		return err
	}
	if err := rewriteInternal(rightPage, rightEntries, rightmost); err != nil {
		return err
	}
	if err := idx.pg.Write(parentPage); err != nil {
		return err
	}
	if err := idx.pg.Write(rightPage); err != nil {
		return err
	}

	return idx.insertIntoParent(path, parentPage.ID, promoted.key, rightID)
}

// growRoot builds a new internal root above the current root when the
// root itself split, increasing idx.height by one.
func (idx *Index) growRoot(leftChild pager.PageID, sepKey []byte, rightChild pager.PageID) error {
	newRootID, err := idx.pg.Allocate()
	if err != nil {
		return err
	}
	newRootPage, err := idx.pg.Read(newRootID)
	if err != nil {
		return err
	}
	entries := []internalEntry{{key: append([]byte{}, sepKey...), child: leftChild}}
	if err := rewriteInternal(newRootPage, entries, rightChild); err != nil {
		return err
	}
	if err := idx.pg.Write(newRootPage); err != nil {
		return err
	}

	idx.root = newRootID
	idx.height++
	return idx.writeHeader()
}

func putPageID(buf []byte, id pager.PageID) {
	buf[0] = byte(id >> 24)
	buf[1] = byte(id >> 16)
	buf[2] = byte(id >> 8)
	buf[3] = byte(id)
}

// Delete removes the (v, r) entry from the index. It returns
// errs.ErrNotFound if no matching entry exists. An underflowing leaf
// first tries to borrow a single entry from a sibling under the same
// parent that can spare one without itself underflowing; failing that,
// it merges into a sibling whose combined entries fit in one page. A
// leaf that can neither borrow nor merge (its siblings live under a
// different parent, or neither fits) is left under the 50%-fill target
// rather than blocking the delete.
func (idx *Index) Delete(v types.Value, r rid.RID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, err := idx.encodeKey(v)
	if err != nil {
		return err
	}
	path, err := idx.descendPath(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].pageID
	leafPage, err := idx.pg.Read(leafID)
	if err != nil {
		return err
	}
	entries, err := readLeafEntries(leafPage)
	if err != nil {
		return err
	}

	foundAt := -1
	for i, e := range entries {
		c, err := idx.compareKeys(e.key, key)
		if err != nil {
			return err
		}
		if c == 0 && e.rid == r {
			foundAt = i
			break
		}
	}
	if foundAt < 0 {
		return errs.ErrNotFound
	}
	entries = append(entries[:foundAt], entries[foundAt+1:]...)

	prev, next := leafSiblings(leafPage)
	if err := rewriteLeaf(leafPage, entries, prev, next); err != nil {
		return err
	}
	if err := idx.pg.Write(leafPage); err != nil {
		return err
	}

	return idx.maybeMergeLeaf(path, leafPage, entries, prev, next)
}

// maybeMergeLeaf repairs an underflowing leafPage. It tries, in order: a
// borrow of one entry from the right sibling, a borrow from the left
// sibling, a merge into the right sibling, a merge into the left sibling.
// Borrowing only applies to siblings that share leafPage's immediate
// parent, since repointing a separator that lives in a different parent
// would need its own ancestor walk; a sibling under a different parent
// falls straight through to the merge attempt (which also requires
// nothing more than the shared parent, so in practice this only skips
// borrowing at the rare boundary between two parents' children).
func (idx *Index) maybeMergeLeaf(path []frame, leafPage *pager.Page, entries []leafEntry, prev, next pager.PageID) error {
	if len(path) == 1 {
		return nil // leaf is the root; nothing to merge into
	}
	occupancy := 0
	for _, e := range entries {
		occupancy += leafEntrySize(e)
	}
	if occupancy*2 >= nodeCapacity {
		return nil // at or above the 50% fill target
	}

	parentPage, err := idx.pg.Read(path[len(path)-2].pageID)
	if err != nil {
		return err
	}
	parentEntries, err := readInternalEntries(parentPage)
	if err != nil {
		return err
	}
	parentRightmost := internalRightmost(parentPage)
	sharesParent := func(childID pager.PageID) bool {
		if childID == parentRightmost {
			return true
		}
		for _, e := range parentEntries {
			if e.child == childID {
				return true
			}
		}
		return false
	}

	if next != invalidPageID {
		nextPage, err := idx.pg.Read(next)
		if err != nil {
			return err
		}
		nextEntries, err := readLeafEntries(nextPage)
		if err != nil {
			return err
		}
		if sharesParent(next) && leafCanSpare(nextEntries, 0) {
			return idx.borrowFromRight(path, leafPage, entries, nextPage, nextEntries, prev)
		}
		combined := append(append([]leafEntry{}, entries...), nextEntries...)
		if sharesParent(next) && leafEntriesFit(combined) {
			return idx.mergeLeafRight(path, leafPage, nextPage, combined, prev)
		}
	}
	if prev != invalidPageID {
		prevPage, err := idx.pg.Read(prev)
		if err != nil {
			return err
		}
		prevEntries, err := readLeafEntries(prevPage)
		if err != nil {
			return err
		}
		if sharesParent(prev) && leafCanSpare(prevEntries, len(prevEntries)-1) {
			return idx.borrowFromLeft(path, leafPage, entries, prevPage, prevEntries, next)
		}
		combined := append(append([]leafEntry{}, prevEntries...), entries...)
		if sharesParent(prev) && leafEntriesFit(combined) {
			_, pprev := leafSiblings(prevPage)
			return idx.mergeLeafRight(path, prevPage, leafPage, combined, pprev)
		}
	}
	return nil
}

// leafCanSpare reports whether removing entries[at] would still leave the
// sibling at or above the 50% fill target.
func leafCanSpare(entries []leafEntry, at int) bool {
	if len(entries) < 2 {
		return false
	}
	occupancy := 0
	for _, e := range entries {
		occupancy += leafEntrySize(e)
	}
	occupancy -= leafEntrySize(entries[at])
	return occupancy*2 >= nodeCapacity
}

// borrowFromRight moves rightPage's lowest entry onto the end of
// leafPage and repoints the parent separator between them to rightPage's
// new lowest key.
func (idx *Index) borrowFromRight(path []frame, leafPage *pager.Page, entries []leafEntry, rightPage *pager.Page, rightEntries []leafEntry, prev pager.PageID) error {
	moved := rightEntries[0]
	newLeft := append(append([]leafEntry{}, entries...), moved)
	newRight := rightEntries[1:]

	_, rightNext := leafSiblings(rightPage)
	if err := rewriteLeaf(leafPage, newLeft, prev, rightPage.ID); err != nil {
		return err
	}
	if err := rewriteLeaf(rightPage, newRight, leafPage.ID, rightNext); err != nil {
		return err
	}
	if err := idx.pg.Write(leafPage); err != nil {
		return err
	}
	if err := idx.pg.Write(rightPage); err != nil {
		return err
	}

	return idx.updateSeparator(path[:len(path)-1], leafPage.ID, newRight[0].key)
}

// borrowFromLeft moves leftPage's highest entry onto the front of
// leafPage and repoints the parent separator between them to leafPage's
// new lowest key.
func (idx *Index) borrowFromLeft(path []frame, leafPage *pager.Page, entries []leafEntry, leftPage *pager.Page, leftEntries []leafEntry, next pager.PageID) error {
	last := len(leftEntries) - 1
	moved := leftEntries[last]
	newLeftEntries := leftEntries[:last]
	newEntries := append([]leafEntry{moved}, entries...)

	leftPrev, _ := leafSiblings(leftPage)
	if err := rewriteLeaf(leftPage, newLeftEntries, leftPrev, leafPage.ID); err != nil {
		return err
	}
	if err := rewriteLeaf(leafPage, newEntries, leftPage.ID, next); err != nil {
		return err
	}
	if err := idx.pg.Write(leftPage); err != nil {
		return err
	}
	if err := idx.pg.Write(leafPage); err != nil {
		return err
	}

	return idx.updateSeparator(path[:len(path)-1], leftPage.ID, newEntries[0].key)
}

// updateSeparator rewrites the parent's routing key for childID after a
// borrow changes childID's lowest key. childID being the parent's
// rightmost child (no explicit separator bounds it) is a no-op.
func (idx *Index) updateSeparator(path []frame, childID pager.PageID, newKey []byte) error {
	if len(path) == 0 {
		return nil
	}
	parentID := path[len(path)-1].pageID
	parentPage, err := idx.pg.Read(parentID)
	if err != nil {
		return err
	}
	entries, err := readInternalEntries(parentPage)
	if err != nil {
		return err
	}
	rightmost := internalRightmost(parentPage)

	for i := range entries {
		if entries[i].child == childID {
			entries[i].key = append([]byte{}, newKey...)
			if err := rewriteInternal(parentPage, entries, rightmost); err != nil {
				return err
			}
			return idx.pg.Write(parentPage)
		}
	}
	return nil
}

// mergeLeafRight absorbs rightPage's entries into leftPage, relinks
// siblings, and removes rightPage's separator from the parent. leftPrev
// is leftPage's own prev pointer (unchanged by the merge).
func (idx *Index) mergeLeafRight(path []frame, leftPage, rightPage *pager.Page, combined []leafEntry, leftPrev pager.PageID) error {
	_, rightNext := leafSiblings(rightPage)
	if err := rewriteLeaf(leftPage, combined, leftPrev, rightNext); err != nil {
		return err
	}
	if err := idx.pg.Write(leftPage); err != nil {
		return err
	}
	if rightNext != invalidPageID {
		nn, err := idx.pg.Read(rightNext)
		if err != nil {
			return err
		}
		formatLeafSiblingsOnly(nn, leftPage.ID, selectNext(nn))
		if err := idx.pg.Write(nn); err != nil {
			return err
		}
	}

	return idx.removeChildFromParent(path[:len(path)-1], rightPage.ID)
}

func selectNext(p *pager.Page) pager.PageID {
	_, n := leafSiblings(p)
	return n
}

// removeChildFromParent deletes the internal entry whose child pointer is
// childID, handing childID's key range to the preceding child (the
// sibling that absorbed its entries). Underfilled internal nodes are not
// merged or rebalanced; the only change above the parent is collapsing a
// root that has no separators left.
func (idx *Index) removeChildFromParent(path []frame, childID pager.PageID) error {
	if len(path) == 0 {
		return nil
	}
	parentID := path[len(path)-1].pageID
	parentPage, err := idx.pg.Read(parentID)
	if err != nil {
		return err
	}
	entries, err := readInternalEntries(parentPage)
	if err != nil {
		return err
	}
	rightmost := internalRightmost(parentPage)

	removeAt := -1
	for i, e := range entries {
		if e.child == childID {
			removeAt = i
			break
		}
	}
	if removeAt < 0 {
		if rightmost == childID && len(entries) > 0 {
			rightmost = entries[len(entries)-1].child
			entries = entries[:len(entries)-1]
		}
	} else {
		if removeAt > 0 {
			entries[removeAt-1].key = entries[removeAt].key
		}
		entries = append(entries[:removeAt], entries[removeAt+1:]...)
	}

	if err := rewriteInternal(parentPage, entries, rightmost); err != nil {
		return err
	}
	if err := idx.pg.Write(parentPage); err != nil {
		return err
	}

	if len(entries) == 0 && len(path) == 1 {
		// Root has no separators left; collapse it to its one remaining
		// child, shrinking the tree's height.
		idx.root = rightmost
		idx.height--
		return idx.writeHeader()
	}
	return nil
}
