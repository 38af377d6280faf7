package zset

import (
	"bytes"
	"fmt"
	"math"

	"github.com/matteso1/zindex/internal/avl"
	"github.com/matteso1/zindex/internal/hashindex"
	"github.com/matteso1/zindex/internal/slotmap"
)

// Member is a copy of one entry handed out to callers.
type Member struct {
	Name  string
	Score float64
}

// entry is one member, linked into both indexes.
type entry struct {
	tree  avl.Node
	hash  hashindex.Node
	score float64
	name  []byte
}

// arena adapts the entry storage to both index packages.
type arena struct {
	m *slotmap.Map[entry]
}

func (a arena) TreeNode(r slotmap.Ref) *avl.Node { return &a.m.Get(r).tree }

func (a arena) HashNode(r slotmap.Ref) *hashindex.Node { return &a.m.Get(r).hash }

// Config configures a SortedSet.
type Config struct {
	Index  hashindex.Config
	Hasher func([]byte) uint64 // defaults to hashindex.Hash
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Index:  hashindex.DefaultConfig(),
		Hasher: hashindex.Hash,
	}
}

// SortedSet is a set of named, scored members ordered by (score, name).
type SortedSet struct {
	arena     arena
	root      slotmap.Ref
	index     *hashindex.Index
	hasher    func([]byte) uint64
	nameBytes int
	disposed  bool
}

// New creates an empty sorted set.
func New(cfg Config) *SortedSet {
	if cfg.Hasher == nil {
		cfg.Hasher = hashindex.Hash
	}
	a := arena{m: slotmap.New[entry](0)}
	return &SortedSet{
		arena:  a,
		root:   slotmap.Nil,
		index:  hashindex.New(a, cfg.Index),
		hasher: cfg.Hasher,
	}
}

func less(aScore float64, aName []byte, bScore float64, bName []byte) bool {
	if aScore != bScore {
		return aScore < bScore
	}
	return bytes.Compare(aName, bName) < 0
}

func (z *SortedSet) get(r slotmap.Ref) *entry { return z.arena.m.Get(r) }

func (z *SortedSet) member(r slotmap.Ref) Member {
	e := z.get(r)
	return Member{Name: string(e.name), Score: e.score}
}

func (z *SortedSet) nameEquals(name []byte) func(slotmap.Ref) bool {
	return func(r slotmap.Ref) bool { return bytes.Equal(z.get(r).name, name) }
}

func (z *SortedSet) mustBeLive() {
	if z.disposed {
		panic("zset: use of a disposed sorted set")
	}
}

func (z *SortedSet) find(name []byte) slotmap.Ref {
	return z.index.Lookup(z.hasher(name), z.nameEquals(name))
}

// treeInsert descends to the (score, name) position of the detached entry r
// and links it there.
func (z *SortedSet) treeInsert(r slotmap.Ref) {
	e := z.get(r)
	parent, asLeft := slotmap.Nil, false
	for cur := z.root; cur != slotmap.Nil; {
		c := z.get(cur)
		parent = cur
		asLeft = less(e.score, e.name, c.score, c.name)
		if asLeft {
			cur = c.tree.Left()
		} else {
			cur = c.tree.Right()
		}
	}
	z.root = avl.Insert(z.arena, parent, asLeft, r)
}

// Add inserts name with score, or moves an existing name to the new score.
// It reports whether name was newly added. score must not be NaN.
func (z *SortedSet) Add(name []byte, score float64) bool {
	z.mustBeLive()
	if math.IsNaN(score) {
		panic("zset: NaN score")
	}

	code := z.hasher(name)
	if r := z.index.Lookup(code, z.nameEquals(name)); r != slotmap.Nil {
		z.update(r, score)
		return false
	}

	owned := bytes.Clone(name)
	r := z.arena.m.Alloc(entry{score: score, name: owned})
	z.get(r).hash.Code = code
	z.index.Insert(r)
	z.treeInsert(r)
	z.nameBytes += len(owned)
	return true
}

func (z *SortedSet) update(r slotmap.Ref, score float64) {
	e := z.get(r)
	if e.score == score {
		return
	}
	z.root = avl.Delete(z.arena, r)
	z.get(r).score = score
	z.treeInsert(r)
}

// Lookup returns the member called name.
func (z *SortedSet) Lookup(name []byte) (Member, bool) {
	z.mustBeLive()
	r := z.find(name)
	if r == slotmap.Nil {
		return Member{}, false
	}
	return z.member(r), true
}

// Remove deletes the member called name and returns it.
func (z *SortedSet) Remove(name []byte) (Member, bool) {
	z.mustBeLive()
	r := z.index.Remove(z.hasher(name), z.nameEquals(name))
	if r == slotmap.Nil {
		return Member{}, false
	}
	z.root = avl.Delete(z.arena, r)
	m := z.member(r)
	z.release(r)
	return m, true
}

func (z *SortedSet) release(r slotmap.Ref) {
	z.nameBytes -= len(z.get(r).name)
	z.arena.m.Free(r)
}

// seek returns the first entry whose key is >= (score, name), or Nil.
func (z *SortedSet) seek(score float64, name []byte) slotmap.Ref {
	found := slotmap.Nil
	for cur := z.root; cur != slotmap.Nil; {
		c := z.get(cur)
		if less(c.score, c.name, score, name) {
			cur = c.tree.Right()
		} else {
			found = cur
			cur = c.tree.Left()
		}
	}
	return found
}

// RangeQuery finds the first member at or after (score, name) and returns
// the member offset positions away from it. It reports false when no
// member is at or after the key, or when the offset leaves the set.
func (z *SortedSet) RangeQuery(score float64, name []byte, offset int64) (Member, bool) {
	z.mustBeLive()
	r := z.seek(score, name)
	if r == slotmap.Nil {
		return Member{}, false
	}
	r = avl.Offset(z.arena, r, offset)
	if r == slotmap.Nil {
		return Member{}, false
	}
	return z.member(r), true
}

// Range returns up to limit consecutive members starting at the position
// RangeQuery would return.
func (z *SortedSet) Range(score float64, name []byte, offset, limit int64) []Member {
	z.mustBeLive()
	if limit <= 0 {
		return nil
	}
	r := z.seek(score, name)
	if r != slotmap.Nil {
		r = avl.Offset(z.arena, r, offset)
	}
	var out []Member
	for r != slotmap.Nil && int64(len(out)) < limit {
		out = append(out, z.member(r))
		r = avl.Offset(z.arena, r, 1)
	}
	return out
}

// Rank returns the 0-based position of name in ascending order.
func (z *SortedSet) Rank(name []byte) (int64, bool) {
	z.mustBeLive()
	r := z.find(name)
	if r == slotmap.Nil {
		return 0, false
	}
	return avl.Rank(z.arena, r), true
}

// Len returns the number of members.
func (z *SortedSet) Len() int {
	return z.index.Len()
}

// NameBytes returns the bytes held by member names.
func (z *SortedSet) NameBytes() int {
	return z.nameBytes
}

// Slots returns the arena slots backing the set, live or recycled.
func (z *SortedSet) Slots() int {
	return z.arena.m.Allocated()
}

// IndexStats exposes the layout of the name index.
func (z *SortedSet) IndexStats() hashindex.Stats {
	return z.index.Stats()
}

// Dispose releases every member. The set must not be used afterwards.
func (z *SortedSet) Dispose() {
	z.mustBeLive()
	avl.PostOrder(z.arena, z.root, z.release)
	z.root = slotmap.Nil
	z.index.Reset()
	z.arena.m.Reset()
	z.disposed = true
}

// Validate checks that both indexes hold the same entries and that the tree
// invariants hold. It is O(n).
func (z *SortedSet) Validate() error {
	z.mustBeLive()
	lessRef := func(a, b slotmap.Ref) bool {
		ea, eb := z.get(a), z.get(b)
		return less(ea.score, ea.name, eb.score, eb.name)
	}
	if err := avl.Check(z.arena, z.root, lessRef); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	treeLen := avl.Len(z.arena, z.root)
	if treeLen != z.index.Len() || treeLen != z.arena.m.Len() {
		return fmt.Errorf("%w: tree has %d entries, index %d, arena %d",
			ErrCorrupt, treeLen, z.index.Len(), z.arena.m.Len())
	}

	var err error
	names := 0
	avl.Walk(z.arena, z.root, func(r slotmap.Ref) bool {
		e := z.get(r)
		names += len(e.name)
		if e.hash.Code != z.hasher(e.name) {
			err = fmt.Errorf("%w: stale hash code for %q", ErrCorrupt, e.name)
			return false
		}
		if got := z.find(e.name); got != r {
			err = fmt.Errorf("%w: index resolves %q to %d, tree holds %d", ErrCorrupt, e.name, got, r)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if names != z.nameBytes {
		return fmt.Errorf("%w: name bytes %d, accounted %d", ErrCorrupt, names, z.nameBytes)
	}
	return nil
}
