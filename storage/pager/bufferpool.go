package pager

import (
	"container/list"
	"sync"
)

// bufferPool is an LRU cache of *Page keyed by PageID, backed by a
// doubly linked list ordered most- to least-recently-used.
type bufferPool struct {
	mu       sync.Mutex
	capacity int
	items    map[PageID]*list.Element
	order    *list.List // front = most recently used
}

type poolEntry struct {
	id   PageID
	page *Page
}

func newBufferPool(capacity int) *bufferPool {
	return &bufferPool{
		capacity: capacity,
		items:    make(map[PageID]*list.Element),
		order:    list.New(),
	}
}

func (bp *bufferPool) get(id PageID) (*Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	el, ok := bp.items[id]
	if !ok {
		return nil, false
	}
	bp.order.MoveToFront(el)
	return el.Value.(*poolEntry).page, true
}

// put inserts or refreshes p in the pool, evicting the least-recently-used
// entry if the pool is full. If the evicted page is dirty, writeBack
// persists it first.
func (bp *bufferPool) put(p *Page, writeBack func(*Page) error) error {
	bp.mu.Lock()

	if el, ok := bp.items[p.ID]; ok {
		el.Value.(*poolEntry).page = p
		bp.order.MoveToFront(el)
		bp.mu.Unlock()
		return nil
	}

	var evicted *Page
	if bp.order.Len() >= bp.capacity {
		el := bp.order.Back()
		ent := el.Value.(*poolEntry)
		bp.order.Remove(el)
		delete(bp.items, ent.id)
		if ent.page.IsDirty() {
			evicted = ent.page
		}
	}

	el := bp.order.PushFront(&poolEntry{id: p.ID, page: p})
	bp.items[p.ID] = el
	bp.mu.Unlock()

	if evicted != nil {
		return writeBack(evicted)
	}
	return nil
}

// flushDirty writes back every dirty page currently resident in the pool.
func (bp *bufferPool) flushDirty(writeBack func(*Page) error) error {
	bp.mu.Lock()
	dirty := make([]*Page, 0)
	for el := bp.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*poolEntry)
		if ent.page.IsDirty() {
			dirty = append(dirty, ent.page)
		}
	}
	bp.mu.Unlock()

	for _, p := range dirty {
		if err := writeBack(p); err != nil {
			return err
		}
	}
	return nil
}
