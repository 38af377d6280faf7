// Package zset implements a sorted set: unique byte-string names, each with
// a float64 score, indexed twice over the same entries.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          SortedSet                           │
//	├──────────────────────────────────────────────────────────────┤
//	│  slotmap.Map[entry]   one arena slot per member              │
//	│     ├─ avl.Node       ordered by (score, name)               │
//	│     └─ hashindex.Node keyed by name                          │
//	├──────────────────────────────────────────────────────────────┤
//	│  by name:  hashindex.Index   O(1) average, bounded rehashing │
//	│  by rank:  avl tree          O(log n) seek and offset        │
//	└──────────────────────────────────────────────────────────────┘
//
// Every structural mutation touches both indexes or neither. A score update
// repositions the entry in the tree and leaves its hash chain untouched.
//
// A SortedSet is not safe for concurrent use. Callers serialize access,
// typically by owning the set from a single goroutine.
package zset
