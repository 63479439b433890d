// Package ahi models the adaptive hash index's dependency on the B-tree:
// before any operation that changes a page's physical layout (split, merge,
// discard, reorganize, root-raise), cached hash-index entries pointing at
// that page's old record offsets must be invalidated. A full adaptive hash
// index is outside this engine's scope; this package gives every structural
// call site a real drop call to make instead of a comment, tracked with the
// same container/list-backed recency structure an LRU cache would use so a
// future implementation can reuse it as an actual index rather than a log.
package ahi

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/tuannm99/btreeidx/pkg/cache"
)

type entry struct {
	pageNo uint32
	elem   *list.Element
}

// Index tracks which pages currently have (simulated) cached hash entries
// and evicts the least-recently-touched ones once Capacity is exceeded,
// mirroring a real adaptive hash index's page-to-bucket bookkeeping. The
// recency order is kept in a cache.LRUManager rather than a bare
// container/list, the same structure a real page-buffer LRU would use.
type Index struct {
	mu       sync.Mutex
	order    *cache.LRUManager
	byPage   map[uint32]*entry
	capacity int
}

func New(capacity int) *Index {
	return &Index{
		order:    cache.NewLRUManager(),
		byPage:   make(map[uint32]*entry),
		capacity: capacity,
	}
}

// NoteAccess records that pageNo was used to satisfy a lookup, as if an
// equality search had just populated (or refreshed) a hash entry for it.
func (i *Index) NoteAccess(pageNo uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if e, ok := i.byPage[pageNo]; ok {
		i.order.MoveToFront(e.elem)
		return
	}
	elem := i.order.PushFront(pageNo)
	i.byPage[pageNo] = &entry{pageNo: pageNo, elem: elem}
	i.evictLocked()
}

func (i *Index) evictLocked() {
	if i.capacity <= 0 {
		return
	}
	for i.order.Len() > i.capacity {
		back := i.order.Back()
		if back == nil {
			return
		}
		pageNo := back.Value.(uint32)
		i.order.Remove(back)
		delete(i.byPage, pageNo)
	}
}

// DropPageHashIndex invalidates any cached hash entries for pageNo. The
// B-tree calls it when a page is freed (pageFree) and when the root is
// freed (FreeRoot); splits, merges and reorganizes rewrite a page's record
// offsets without calling it.
func (i *Index) DropPageHashIndex(pageNo uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.byPage[pageNo]
	if !ok {
		return
	}
	i.order.Remove(e.elem)
	delete(i.byPage, pageNo)
	slog.Debug("ahi: dropped page hash index", "page", pageNo)
}

// Cached reports whether pageNo currently has a tracked entry, for tests.
func (i *Index) Cached(pageNo uint32) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.byPage[pageNo]
	return ok
}
