package zset

import "errors"

var (
	// ErrCorrupt is returned by Validate when the two indexes disagree or
	// the tree breaks one of its invariants.
	ErrCorrupt = errors.New("sorted set is corrupt")
)
