// Package hashindex implements a chained hash table over arena references
// with incremental resizing.
//
// The index stores no keys. Each entry carries a Node with its precomputed
// hash code and chain link; lookups compare candidates through an equality
// closure supplied per call, so one index shape can serve different kinds
// of keyed entries.
//
// Growth never copies the whole table at once. When the load factor is
// reached the active table becomes the secondary table, a primary of twice
// the capacity replaces it, and every subsequent Insert, Lookup, or Remove
// migrates at most Config.MigrationBatch entries before doing its own work.
package hashindex

import (
	"github.com/cespare/xxhash/v2"

	"github.com/matteso1/zindex/internal/slotmap"
)

// Node is the intrusive hash bookkeeping embedded in every entry.
type Node struct {
	Code uint64
	next slotmap.Ref
}

// Store resolves a reference to its hash node.
type Store interface {
	HashNode(r slotmap.Ref) *Node
}

// Config tunes table growth.
type Config struct {
	// InitialCapacity is the bucket count of the first table. Must be a power of two.
	InitialCapacity int
	// MaxLoadFactor is the entries-per-bucket ratio that starts a resize.
	MaxLoadFactor int
	// MigrationBatch bounds the entries moved per operation during a resize.
	MigrationBatch int
}

// DefaultConfig returns the standard growth parameters.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: 4,
		MaxLoadFactor:   8,
		MigrationBatch:  128,
	}
}

// Hash is the default hash function for byte-string keys.
func Hash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// table is one array of chain heads.
type table struct {
	slots []slotmap.Ref
	mask  uint64
	count int
}

func newTable(n int) table {
	if n <= 0 || n&(n-1) != 0 {
		panic("hashindex: table capacity must be a power of two")
	}
	slots := make([]slotmap.Ref, n)
	for i := range slots {
		slots[i] = slotmap.Nil
	}
	return table{slots: slots, mask: uint64(n - 1)}
}

func (t *table) capacity() int { return len(t.slots) }

func (t *table) pushFront(s Store, r slotmap.Ref) {
	n := s.HashNode(r)
	pos := n.Code & t.mask
	n.next = t.slots[pos]
	t.slots[pos] = r
	t.count++
}

// find returns the bucket and the predecessor of the matching entry
// (Nil when it heads its chain), or ok=false.
func (t *table) find(s Store, code uint64, eq func(slotmap.Ref) bool) (pos uint64, prev, cur slotmap.Ref, ok bool) {
	if t.slots == nil {
		return 0, slotmap.Nil, slotmap.Nil, false
	}
	pos = code & t.mask
	prev = slotmap.Nil
	for cur = t.slots[pos]; cur != slotmap.Nil; cur = s.HashNode(cur).next {
		if s.HashNode(cur).Code == code && eq(cur) {
			return pos, prev, cur, true
		}
		prev = cur
	}
	return 0, slotmap.Nil, slotmap.Nil, false
}

func (t *table) unlink(s Store, pos uint64, prev, cur slotmap.Ref) {
	next := s.HashNode(cur).next
	if prev == slotmap.Nil {
		t.slots[pos] = next
	} else {
		s.HashNode(prev).next = next
	}
	s.HashNode(cur).next = slotmap.Nil
	t.count--
}

// Index is a chained hash table with progressive rehashing.
// It is not safe for concurrent use.
type Index struct {
	store     Store
	cfg       Config
	primary   table
	secondary table
	cursor    int
	migrated  uint64
}

// New creates an empty index. The first table is allocated on first Insert.
// It panics when cfg is invalid.
func New(store Store, cfg Config) *Index {
	if cfg.InitialCapacity <= 0 || cfg.InitialCapacity&(cfg.InitialCapacity-1) != 0 {
		panic("hashindex: initial capacity must be a power of two")
	}
	if cfg.MaxLoadFactor <= 0 || cfg.MigrationBatch <= 0 {
		panic("hashindex: load factor and migration batch must be positive")
	}
	return &Index{store: store, cfg: cfg}
}

// Insert adds r, whose Node.Code must already be set. The caller guarantees
// that no equal entry is present.
func (ix *Index) Insert(r slotmap.Ref) {
	if ix.primary.slots == nil {
		ix.primary = newTable(ix.cfg.InitialCapacity)
	}
	ix.primary.pushFront(ix.store, r)

	if ix.secondary.slots == nil {
		// Integer division: growth starts at exact multiples of the capacity.
		if ix.primary.count/ix.primary.capacity() >= ix.cfg.MaxLoadFactor {
			ix.startResize()
		}
	}
	ix.migrate()
}

// Lookup returns the entry with the given code for which eq reports true,
// or slotmap.Nil.
func (ix *Index) Lookup(code uint64, eq func(slotmap.Ref) bool) slotmap.Ref {
	ix.migrate()
	if _, _, cur, ok := ix.primary.find(ix.store, code, eq); ok {
		return cur
	}
	if _, _, cur, ok := ix.secondary.find(ix.store, code, eq); ok {
		return cur
	}
	return slotmap.Nil
}

// Remove unlinks and returns the matching entry, or slotmap.Nil. The
// caller owns the returned entry.
func (ix *Index) Remove(code uint64, eq func(slotmap.Ref) bool) slotmap.Ref {
	ix.migrate()
	if pos, prev, cur, ok := ix.primary.find(ix.store, code, eq); ok {
		ix.primary.unlink(ix.store, pos, prev, cur)
		return cur
	}
	if pos, prev, cur, ok := ix.secondary.find(ix.store, code, eq); ok {
		ix.secondary.unlink(ix.store, pos, prev, cur)
		ix.releaseSecondaryIfEmpty()
		return cur
	}
	return slotmap.Nil
}

// Len returns the number of entries across both tables.
func (ix *Index) Len() int {
	return ix.primary.count + ix.secondary.count
}

// Resizing reports whether a migration is in progress.
func (ix *Index) Resizing() bool {
	return ix.secondary.slots != nil
}

// Each calls fn for every entry in unspecified order until fn returns false.
// fn must not modify the index.
func (ix *Index) Each(fn func(slotmap.Ref) bool) {
	for _, t := range [2]*table{&ix.primary, &ix.secondary} {
		for _, head := range t.slots {
			for cur := head; cur != slotmap.Nil; cur = ix.store.HashNode(cur).next {
				if !fn(cur) {
					return
				}
			}
		}
	}
}

// Reset drops both tables. Entries still linked are simply forgotten.
func (ix *Index) Reset() {
	ix.primary = table{}
	ix.secondary = table{}
	ix.cursor = 0
}

func (ix *Index) startResize() {
	if ix.secondary.slots != nil {
		panic("hashindex: resize already in progress")
	}
	ix.secondary = ix.primary
	ix.primary = newTable(ix.secondary.capacity() * 2)
	ix.cursor = 0
}

// migrate moves up to MigrationBatch entries from the secondary table into
// the primary one.
func (ix *Index) migrate() {
	if ix.secondary.slots == nil {
		return
	}
	moved := 0
	for moved < ix.cfg.MigrationBatch && ix.secondary.count > 0 {
		pos := ix.cursor
		head := ix.secondary.slots[pos]
		if head == slotmap.Nil {
			ix.cursor++
			continue
		}
		ix.secondary.unlink(ix.store, uint64(pos), slotmap.Nil, head)
		ix.primary.pushFront(ix.store, head)
		moved++
	}
	ix.migrated += uint64(moved)
	ix.releaseSecondaryIfEmpty()
}

func (ix *Index) releaseSecondaryIfEmpty() {
	if ix.secondary.slots != nil && ix.secondary.count == 0 {
		ix.secondary = table{}
		ix.cursor = 0
	}
}

// Stats describes the current table layout.
type Stats struct {
	Len               int
	PrimaryCapacity   int
	PrimaryCount      int
	SecondaryCapacity int
	SecondaryCount    int
	Resizing          bool
	Migrated          uint64 // entries moved by migration since creation
}

// Stats returns a snapshot of the table layout.
func (ix *Index) Stats() Stats {
	return Stats{
		Len:               ix.Len(),
		PrimaryCapacity:   ix.primary.capacity(),
		PrimaryCount:      ix.primary.count,
		SecondaryCapacity: ix.secondary.capacity(),
		SecondaryCount:    ix.secondary.count,
		Resizing:          ix.Resizing(),
		Migrated:          ix.migrated,
	}
}
