package cache

import (
	"container/list"
	"sort"
)

// lruEntry is one live key in the index.
type lruEntry struct {
	key            string
	size           int64
	createdAt      int64
	lastAccessedAt int64
}

// lruIndex is the in-memory ordered index over committed keys with byte
// accounting. Front of the list is most recently used. The index drives
// eviction; the metadata and body stores are notified by the Cache.
//
// Not safe for concurrent use; the Cache serializes access under its mutex.
type lruIndex struct {
	ll    *list.List
	items map[string]*list.Element
	total int64
}

func newLruIndex() *lruIndex {
	return &lruIndex{ll: list.New(), items: map[string]*list.Element{}}
}

// put inserts key as most recently used, or updates its size and moves it
// to the front. The byte counter follows.
func (x *lruIndex) put(key string, size, createdAt, lastAccessedAt int64) {
	if el, ok := x.items[key]; ok {
		e := el.Value.(*lruEntry)
		x.total += size - e.size
		e.size = size
		e.lastAccessedAt = lastAccessedAt
		x.ll.MoveToFront(el)
		return
	}
	el := x.ll.PushFront(&lruEntry{key: key, size: size, createdAt: createdAt, lastAccessedAt: lastAccessedAt})
	x.items[key] = el
	x.total += size
}

// touch moves key to the most recently used position.
func (x *lruIndex) touch(key string, lastAccessedAt int64) {
	if el, ok := x.items[key]; ok {
		el.Value.(*lruEntry).lastAccessedAt = lastAccessedAt
		x.ll.MoveToFront(el)
	}
}

// remove drops key and adjusts the byte counter. Unknown keys are ignored.
func (x *lruIndex) remove(key string) {
	if el, ok := x.items[key]; ok {
		x.total -= el.Value.(*lruEntry).size
		x.ll.Remove(el)
		delete(x.items, key)
	}
}

// victim returns the least recently used key, or "" when empty.
func (x *lruIndex) victim() (string, bool) {
	el := x.ll.Back()
	if el == nil {
		return "", false
	}
	return el.Value.(*lruEntry).key, true
}

func (x *lruIndex) size() int64 { return x.total }

func (x *lruIndex) len() int { return x.ll.Len() }

func (x *lruIndex) has(key string) bool {
	_, ok := x.items[key]
	return ok
}

func (x *lruIndex) reset() {
	x.ll.Init()
	x.items = map[string]*list.Element{}
	x.total = 0
}

// seed rebuilds the index from persisted records, ordering by
// last-accessed epoch with created epoch breaking ties (lower evicts
// first in both cases).
func (x *lruIndex) seed(entries []*Metadata) {
	sorted := make([]*Metadata, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LastAccessedAtEpoch != sorted[j].LastAccessedAtEpoch {
			return sorted[i].LastAccessedAtEpoch < sorted[j].LastAccessedAtEpoch
		}
		return sorted[i].CreatedAtEpoch < sorted[j].CreatedAtEpoch
	})
	x.reset()
	for _, m := range sorted {
		x.put(m.Key, m.BodySize, m.CreatedAtEpoch, m.LastAccessedAtEpoch)
	}
}
