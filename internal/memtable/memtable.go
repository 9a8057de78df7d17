// Package memtable implements the in-memory sorted write buffer described
// in spec.md §4.1: an ordered key -> (value, tombstone) table backed by a
// skip list, offering expected O(log n) insert and lookup plus an ordered
// forward traversal consumed by the flush pipeline.
package memtable

import (
	"github.com/mnoura/lsmkv/internal/skiplist"
	"github.com/mnoura/lsmkv/internal/slice"
)

// perEntryOverhead is added to every record's (key+value) length when
// tracking the MemTable's approximate byte footprint, to account for the
// skip-list node and Record struct overhead around the raw bytes. It lets
// the flush threshold in engine.Options track bytes rather than a bare
// entry count (see SPEC_FULL.md §1-9, resolving the open question in
// spec.md §9 about LSM_FLUSH_THRESHOLD being compared against a count).
const perEntryOverhead = 48

// MemTable is an ordered, in-memory map from distinct keys to their latest
// record. Duplicate puts to the same key replace the prior record in
// place; Len() never increases for a key already present.
type MemTable struct {
	entries   *skiplist.List[Record]
	sizeBytes int64
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{entries: skiplist.New[Record]()}
}

// Put inserts or replaces the record for key. Both key and value are
// copied; the MemTable owns the bytes it stores from this point on.
func (m *MemTable) Put(key, value []byte, tombstone bool) {
	k := slice.Clone(key)
	v := slice.CloneNonNil(value)
	if tombstone {
		v = v[:0]
	}
	rec := Record{Key: k, Value: v, Tombstone: tombstone}

	if old, ok := m.entries.Get(k); ok {
		m.sizeBytes += int64(len(v)) - int64(len(old.Value))
		m.entries.Set(k, rec)
		return
	}
	m.entries.Set(k, rec)
	m.sizeBytes += int64(len(k)) + int64(len(v)) + perEntryOverhead
}

// Get returns a freshly owned copy of the record stored for key, if any.
// Callers must check Record.Tombstone: a tombstone hit is a logical
// delete, not a live value.
func (m *MemTable) Get(key []byte) (Record, bool) {
	rec, ok := m.entries.Get(key)
	if !ok {
		return Record{}, false
	}
	return Record{
		Key:       slice.Clone(rec.Key),
		Value:     slice.Clone(rec.Value),
		Tombstone: rec.Tombstone,
	}, true
}

// Len returns the number of distinct keys currently held.
func (m *MemTable) Len() int { return m.entries.Len() }

// SizeBytes returns the approximate number of bytes occupied by all
// stored keys and values, used to drive the flush threshold.
func (m *MemTable) SizeBytes() int64 { return m.sizeBytes }

// Ascend calls fn for every record in ascending key order. Iteration
// stops early if fn returns false. This is the traversal the flush
// pipeline uses to write records into a new SSTable in sorted order.
func (m *MemTable) Ascend(fn func(Record) bool) {
	m.entries.Ascend(func(_ []byte, rec Record) bool {
		return fn(rec)
	})
}

// Free releases the MemTable's contents. The Go runtime reclaims the
// backing memory once the last reference is dropped; Free exists so
// callers have an explicit point at which a MemTable is retired, mirroring
// the lifecycle spec.md §4.1 describes.
func (m *MemTable) Free() {
	m.entries = skiplist.New[Record]()
	m.sizeBytes = 0
}
