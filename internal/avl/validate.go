package avl

import (
	"errors"
	"fmt"

	"github.com/matteso1/zindex/internal/slotmap"
)

// ErrInvariant is wrapped by every error returned from Check.
var ErrInvariant = errors.New("avl: invariant violated")

// Check verifies the structural invariants of the tree rooted at root:
// parent links, stored heights and sizes, balance, and (when less is not
// nil) strict in-order ordering. It is O(n) and meant for tests and debug
// builds.
func Check(s Store, root slotmap.Ref, less func(a, b slotmap.Ref) bool) error {
	if root == slotmap.Nil {
		return nil
	}
	if p := s.TreeNode(root).parent; p != slotmap.Nil {
		return fmt.Errorf("%w: root %d has parent %d", ErrInvariant, root, p)
	}
	if _, _, err := check(s, root); err != nil {
		return err
	}
	if less == nil {
		return nil
	}

	prev := slotmap.Nil
	var err error
	Walk(s, root, func(r slotmap.Ref) bool {
		if prev != slotmap.Nil && !less(prev, r) {
			err = fmt.Errorf("%w: node %d is not ordered after %d", ErrInvariant, r, prev)
			return false
		}
		prev = r
		return true
	})
	return err
}

func check(s Store, r slotmap.Ref) (uint32, uint32, error) {
	if r == slotmap.Nil {
		return 0, 0, nil
	}
	n := s.TreeNode(r)
	for _, c := range [2]slotmap.Ref{n.left, n.right} {
		if c != slotmap.Nil && s.TreeNode(c).parent != r {
			return 0, 0, fmt.Errorf("%w: child %d of %d has parent %d", ErrInvariant, c, r, s.TreeNode(c).parent)
		}
	}

	lh, ls, err := check(s, n.left)
	if err != nil {
		return 0, 0, err
	}
	rh, rs, err := check(s, n.right)
	if err != nil {
		return 0, 0, err
	}

	if lh > rh+1 || rh > lh+1 {
		return 0, 0, fmt.Errorf("%w: node %d unbalanced (left %d, right %d)", ErrInvariant, r, lh, rh)
	}
	h := 1 + max(lh, rh)
	sz := 1 + ls + rs
	if n.height != h {
		return 0, 0, fmt.Errorf("%w: node %d height %d, want %d", ErrInvariant, r, n.height, h)
	}
	if n.size != sz {
		return 0, 0, fmt.Errorf("%w: node %d size %d, want %d", ErrInvariant, r, n.size, sz)
	}
	return h, sz, nil
}
