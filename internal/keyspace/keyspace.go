// Package keyspace maps key names to sorted sets.
//
// Keys are indexed by the same hashindex shape the sorted sets use for
// their members, over a separate arena of key entries.
package keyspace

import (
	"bytes"
	"sort"

	"github.com/matteso1/zindex/internal/hashindex"
	"github.com/matteso1/zindex/internal/slotmap"
	"github.com/matteso1/zindex/internal/zset"
)

type keyEntry struct {
	hash hashindex.Node
	key  []byte
	set  *zset.SortedSet
}

type keyArena struct {
	m *slotmap.Map[keyEntry]
}

func (a keyArena) HashNode(r slotmap.Ref) *hashindex.Node { return &a.m.Get(r).hash }

// Config configures a Keyspace.
type Config struct {
	// Keys tunes the index of key names.
	Keys hashindex.Config
	// Sets is used for every sorted set the keyspace creates.
	Sets zset.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Keys: hashindex.DefaultConfig(),
		Sets: zset.DefaultConfig(),
	}
}

// Keyspace owns a collection of named sorted sets.
// It is not safe for concurrent use.
type Keyspace struct {
	arena  keyArena
	index  *hashindex.Index
	config Config
}

// New creates an empty keyspace.
func New(config Config) *Keyspace {
	a := keyArena{m: slotmap.New[keyEntry](0)}
	return &Keyspace{
		arena:  a,
		index:  hashindex.New(a, config.Keys),
		config: config,
	}
}

func (k *Keyspace) keyEquals(key []byte) func(slotmap.Ref) bool {
	return func(r slotmap.Ref) bool { return bytes.Equal(k.arena.m.Get(r).key, key) }
}

// Get returns the set stored at key, or nil.
func (k *Keyspace) Get(key []byte) *zset.SortedSet {
	r := k.index.Lookup(hashindex.Hash(key), k.keyEquals(key))
	if r == slotmap.Nil {
		return nil
	}
	return k.arena.m.Get(r).set
}

// GetOrCreate returns the set stored at key, creating an empty one if needed.
func (k *Keyspace) GetOrCreate(key []byte) *zset.SortedSet {
	code := hashindex.Hash(key)
	if r := k.index.Lookup(code, k.keyEquals(key)); r != slotmap.Nil {
		return k.arena.m.Get(r).set
	}

	set := zset.New(k.config.Sets)
	r := k.arena.m.Alloc(keyEntry{
		hash: hashindex.Node{Code: code},
		key:  bytes.Clone(key),
		set:  set,
	})
	k.index.Insert(r)
	return set
}

// Delete removes key and disposes its set. It reports whether key existed.
func (k *Keyspace) Delete(key []byte) bool {
	r := k.index.Remove(hashindex.Hash(key), k.keyEquals(key))
	if r == slotmap.Nil {
		return false
	}
	k.arena.m.Get(r).set.Dispose()
	k.arena.m.Free(r)
	return true
}

// Keys returns every key name in ascending byte order.
func (k *Keyspace) Keys() []string {
	keys := make([]string, 0, k.index.Len())
	k.index.Each(func(r slotmap.Ref) bool {
		keys = append(keys, string(k.arena.m.Get(r).key))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (k *Keyspace) Len() int {
	return k.index.Len()
}

// Stats summarizes the keyspace for metrics.
type Stats struct {
	Keys     int
	Members  int
	Resizing int // hash indexes currently migrating, keys included
}

// Stats walks every set. It is O(keys).
func (k *Keyspace) Stats() Stats {
	s := Stats{Keys: k.index.Len()}
	if k.index.Resizing() {
		s.Resizing++
	}
	k.index.Each(func(r slotmap.Ref) bool {
		set := k.arena.m.Get(r).set
		s.Members += set.Len()
		if set.IndexStats().Resizing {
			s.Resizing++
		}
		return true
	})
	return s
}
