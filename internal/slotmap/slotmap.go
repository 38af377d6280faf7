// Package slotmap provides an arena of values addressed by stable integer
// references. Structures that link their elements to each other (trees,
// hash chains) store Refs instead of pointers, so a removed element can
// never be reached through a stale link: its slot is recycled and the Ref
// must not be used again.
package slotmap

// Ref addresses one slot of a Map.
type Ref int32

// Nil is the absent reference.
const Nil Ref = -1

type slot[T any] struct {
	value    T
	nextFree Ref
	live     bool
}

// Map is an arena of T values with a free list for recycled slots.
// It is not safe for concurrent use.
type Map[T any] struct {
	slots    []slot[T]
	freeHead Ref
	live     int
}

// New creates an empty map with room for capHint values before growing.
func New[T any](capHint int) *Map[T] {
	if capHint < 0 {
		capHint = 0
	}
	return &Map[T]{
		slots:    make([]slot[T], 0, capHint),
		freeHead: Nil,
	}
}

// Alloc stores v in a free slot and returns its Ref.
//
// Alloc may grow the backing storage, so pointers previously returned by
// Get are invalid after it returns.
func (m *Map[T]) Alloc(v T) Ref {
	var r Ref
	if m.freeHead != Nil {
		r = m.freeHead
		m.freeHead = m.slots[r].nextFree
	} else {
		r = Ref(len(m.slots))
		m.slots = append(m.slots, slot[T]{})
	}
	m.slots[r] = slot[T]{value: v, nextFree: Nil, live: true}
	m.live++
	return r
}

// Get returns a pointer to the value at r. It panics if r is not live.
func (m *Map[T]) Get(r Ref) *T {
	if r < 0 || int(r) >= len(m.slots) || !m.slots[r].live {
		panic("slotmap: access to a released or invalid ref")
	}
	return &m.slots[r].value
}

// Contains reports whether r addresses a live slot.
func (m *Map[T]) Contains(r Ref) bool {
	return r >= 0 && int(r) < len(m.slots) && m.slots[r].live
}

// Free releases the slot at r and zeroes its value so that owned buffers
// become collectable.
func (m *Map[T]) Free(r Ref) {
	if !m.Contains(r) {
		panic("slotmap: double free or invalid ref")
	}
	var zero T
	m.slots[r] = slot[T]{value: zero, nextFree: m.freeHead}
	m.freeHead = r
	m.live--
}

// Len returns the number of live values.
func (m *Map[T]) Len() int { return m.live }

// Allocated returns the number of slots backing the map, live or free.
func (m *Map[T]) Allocated() int { return len(m.slots) }

// Reset drops every value and the backing storage.
func (m *Map[T]) Reset() {
	m.slots = nil
	m.freeHead = Nil
	m.live = 0
}
