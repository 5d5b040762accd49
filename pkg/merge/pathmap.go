// Package merge folds an ordered sequence of source layers into a single
// path→item map, honoring whiteouts and opaque-directory markers (original
// spec §4.2, component B).
package merge

import (
	"github.com/tidwall/btree"

	"github.com/orf/docker-repack/pkg/tarentry"
)

// entry is the btree.Item stored per path. Only Path participates in
// ordering; the rest of the TarItem rides along as the associated value.
type entry struct {
	path string
	item tarentry.TarItem
}

func (e *entry) Less(than btree.Item) bool {
	return e.path < than.(*entry).path
}

// PathMap is the ordered map backing MergedContent: lexicographic iteration
// and a range-scan-from-prefix (needed for opaque-directory whiteouts)
// require a sorted structure, not a plain Go map.
type PathMap struct {
	tree *btree.BTree
}

// NewPathMap returns an empty ordered path map.
func NewPathMap() *PathMap {
	return &PathMap{tree: btree.New(32, nil)}
}

// Set inserts or overwrites the item at path, returning the displaced item
// (if any) so callers can account for it as a removal.
func (m *PathMap) Set(path string, item tarentry.TarItem) (old tarentry.TarItem, hadOld bool) {
	prev := m.tree.Set(&entry{path: path, item: item})
	if prev == nil {
		return tarentry.TarItem{}, false
	}
	return prev.(*entry).item, true
}

// Get returns the item at path.
func (m *PathMap) Get(path string) (tarentry.TarItem, bool) {
	v := m.tree.Get(&entry{path: path})
	if v == nil {
		return tarentry.TarItem{}, false
	}
	return v.(*entry).item, true
}

// Delete removes path, returning the removed item if present.
func (m *PathMap) Delete(path string) (tarentry.TarItem, bool) {
	v := m.tree.Delete(&entry{path: path})
	if v == nil {
		return tarentry.TarItem{}, false
	}
	return v.(*entry).item, true
}

// Len returns the number of paths currently present.
func (m *PathMap) Len() int {
	return m.tree.Len()
}

// AscendRange walks paths in [start, end) in lexicographic order, calling fn
// for each. Iteration stops early if fn returns false.
func (m *PathMap) AscendRange(start, end string, fn func(path string, item tarentry.TarItem) bool) {
	m.tree.AscendRange(&entry{path: start}, &entry{path: end}, func(a btree.Item) bool {
		e := a.(*entry)
		return fn(e.path, e.item)
	})
}

// AscendGreaterThan walks every path strictly greater than prefix in
// lexicographic order. Used by RemovePrefix to erase an opaque directory's
// prior contents: the scan stops at the first key that does not start with
// prefix.
func (m *PathMap) AscendGreaterThan(prefix string, fn func(path string, item tarentry.TarItem) bool) {
	m.tree.Ascend(&entry{path: prefix + "\x00"}, func(a btree.Item) bool {
		e := a.(*entry)
		return fn(e.path, e.item)
	})
}

// Keys returns every path in lexicographic order. Intended for small test
// fixtures and the round-trip property check, not hot paths.
func (m *PathMap) Keys() []string {
	keys := make([]string, 0, m.tree.Len())
	m.tree.Ascend(nil, func(a btree.Item) bool {
		keys = append(keys, a.(*entry).path)
		return true
	})
	return keys
}

// Each visits every (path, item) pair in lexicographic order.
func (m *PathMap) Each(fn func(path string, item tarentry.TarItem) bool) {
	m.tree.Ascend(nil, func(a btree.Item) bool {
		e := a.(*entry)
		return fn(e.path, e.item)
	})
}
