// Package avl implements a size-augmented AVL tree over arena references.
//
// The tree never allocates and never compares keys. Callers own the nodes
// (usually embedded in a larger entry stored in a slotmap.Map), decide where
// a new node belongs by descending with their own ordering, and hand the
// structural work to Insert, Fix, and Delete. Every node tracks the height
// and the size of its subtree, which makes Offset and Rank O(log n).
//
// Invariants maintained for every node:
//   - |height(left) - height(right)| <= 1
//   - size = size(left) + size(right) + 1
//   - a child's parent link points back at the node
package avl

import "github.com/matteso1/zindex/internal/slotmap"

// Node is the intrusive tree bookkeeping embedded in every entry.
type Node struct {
	height uint32
	size   uint32
	left   slotmap.Ref
	right  slotmap.Ref
	parent slotmap.Ref
}

// Left returns the left child or slotmap.Nil.
func (n *Node) Left() slotmap.Ref { return n.left }

// Right returns the right child or slotmap.Nil.
func (n *Node) Right() slotmap.Ref { return n.right }

// Parent returns the parent or slotmap.Nil for the root.
func (n *Node) Parent() slotmap.Ref { return n.parent }

// Height returns the height of the subtree rooted at n.
func (n *Node) Height() int { return int(n.height) }

// Size returns the number of nodes in the subtree rooted at n.
func (n *Node) Size() int { return int(n.size) }

// Store resolves a reference to its tree node.
type Store interface {
	TreeNode(r slotmap.Ref) *Node
}

// Init resets n to a detached single-node tree.
func Init(n *Node) {
	*n = Node{
		height: 1,
		size:   1,
		left:   slotmap.Nil,
		right:  slotmap.Nil,
		parent: slotmap.Nil,
	}
}

func height(s Store, r slotmap.Ref) uint32 {
	if r == slotmap.Nil {
		return 0
	}
	return s.TreeNode(r).height
}

func size(s Store, r slotmap.Ref) uint32 {
	if r == slotmap.Nil {
		return 0
	}
	return s.TreeNode(r).size
}

func update(s Store, r slotmap.Ref) {
	n := s.TreeNode(r)
	n.height = 1 + max(height(s, n.left), height(s, n.right))
	n.size = 1 + size(s, n.left) + size(s, n.right)
}

// rotateLeft lifts the right child of r into r's position and returns it.
// The caller relinks the grandparent.
func rotateLeft(s Store, r slotmap.Ref) slotmap.Ref {
	n := s.TreeNode(r)
	up := n.right
	u := s.TreeNode(up)
	inner := u.left
	if inner != slotmap.Nil {
		s.TreeNode(inner).parent = r
	}
	n.right = inner
	u.left = r
	u.parent = n.parent
	n.parent = up
	update(s, r)
	update(s, up)
	return up
}

func rotateRight(s Store, r slotmap.Ref) slotmap.Ref {
	n := s.TreeNode(r)
	up := n.left
	u := s.TreeNode(up)
	inner := u.right
	if inner != slotmap.Nil {
		s.TreeNode(inner).parent = r
	}
	n.left = inner
	u.right = r
	u.parent = n.parent
	n.parent = up
	update(s, r)
	update(s, up)
	return up
}

// fixLeft rebalances a subtree whose left side is two levels taller.
func fixLeft(s Store, r slotmap.Ref) slotmap.Ref {
	n := s.TreeNode(r)
	l := s.TreeNode(n.left)
	if height(s, l.left) < height(s, l.right) {
		n.left = rotateLeft(s, n.left)
	}
	return rotateRight(s, r)
}

func fixRight(s Store, r slotmap.Ref) slotmap.Ref {
	n := s.TreeNode(r)
	rn := s.TreeNode(n.right)
	if height(s, rn.right) < height(s, rn.left) {
		n.right = rotateRight(s, n.right)
	}
	return rotateLeft(s, r)
}

// Fix walks from r to the root, restoring the augmented fields and the
// balance of every ancestor. It returns the root of the whole tree.
func Fix(s Store, r slotmap.Ref) slotmap.Ref {
	for {
		update(s, r)
		n := s.TreeNode(r)
		parent := n.parent
		fromLeft := parent != slotmap.Nil && s.TreeNode(parent).left == r

		lh, rh := height(s, n.left), height(s, n.right)
		switch {
		case lh == rh+2:
			r = fixLeft(s, r)
		case lh+2 == rh:
			r = fixRight(s, r)
		}

		if parent == slotmap.Nil {
			return r
		}
		if fromLeft {
			s.TreeNode(parent).left = r
		} else {
			s.TreeNode(parent).right = r
		}
		r = parent
	}
}

// Insert links the detached node r as the left or right child of parent and
// rebalances. A Nil parent makes r the root of an empty tree. The slot on
// the chosen side of parent must be empty. It returns the new root.
func Insert(s Store, parent slotmap.Ref, asLeft bool, r slotmap.Ref) slotmap.Ref {
	Init(s.TreeNode(r))
	if parent == slotmap.Nil {
		return r
	}
	p := s.TreeNode(parent)
	if asLeft {
		if p.left != slotmap.Nil {
			panic("avl: insert into occupied left slot")
		}
		p.left = r
	} else {
		if p.right != slotmap.Nil {
			panic("avl: insert into occupied right slot")
		}
		p.right = r
	}
	s.TreeNode(r).parent = parent
	return Fix(s, r)
}

// Delete unlinks r from its tree and returns the new root, which is Nil
// when r was the only node. r is left detached.
func Delete(s Store, r slotmap.Ref) slotmap.Ref {
	n := s.TreeNode(r)
	if n.left == slotmap.Nil || n.right == slotmap.Nil {
		child := n.left
		if child == slotmap.Nil {
			child = n.right
		}
		parent := n.parent
		if child != slotmap.Nil {
			s.TreeNode(child).parent = parent
		}
		Init(n)
		if parent == slotmap.Nil {
			return child
		}
		p := s.TreeNode(parent)
		if p.left == r {
			p.left = child
		} else {
			p.right = child
		}
		return Fix(s, parent)
	}

	// Two children: detach the in-order successor and move it into r's slot.
	succ := n.right
	for s.TreeNode(succ).left != slotmap.Nil {
		succ = s.TreeNode(succ).left
	}
	root := Delete(s, succ)

	// The fix-up above may have rotated r, so read its links again.
	n = s.TreeNode(r)
	sn := s.TreeNode(succ)
	*sn = *n
	if sn.left != slotmap.Nil {
		s.TreeNode(sn.left).parent = succ
	}
	if sn.right != slotmap.Nil {
		s.TreeNode(sn.right).parent = succ
	}
	parent := sn.parent
	Init(n)
	if parent == slotmap.Nil {
		return succ
	}
	p := s.TreeNode(parent)
	if p.left == r {
		p.left = succ
	} else {
		p.right = succ
	}
	return root
}

// Offset returns the node k positions after r in in-order sequence, or
// before it for negative k. It returns Nil when the position falls outside
// the tree. r must not be Nil.
func Offset(s Store, r slotmap.Ref, k int64) slotmap.Ref {
	if r == slotmap.Nil {
		panic("avl: offset from a nil node")
	}
	var pos int64
	for pos != k {
		n := s.TreeNode(r)
		switch {
		case pos < k && pos+int64(size(s, n.right)) >= k:
			r = n.right
			pos += int64(size(s, s.TreeNode(r).left)) + 1
		case pos > k && pos-int64(size(s, n.left)) <= k:
			r = n.left
			pos -= int64(size(s, s.TreeNode(r).right)) + 1
		default:
			parent := n.parent
			if parent == slotmap.Nil {
				return slotmap.Nil
			}
			if s.TreeNode(parent).right == r {
				pos -= int64(size(s, n.left)) + 1
			} else {
				pos += int64(size(s, n.right)) + 1
			}
			r = parent
		}
	}
	return r
}

// Rank returns the 0-based in-order position of r within its tree.
func Rank(s Store, r slotmap.Ref) int64 {
	n := s.TreeNode(r)
	rank := int64(size(s, n.left))
	for n.parent != slotmap.Nil {
		parent := n.parent
		p := s.TreeNode(parent)
		if p.right == r {
			rank += int64(size(s, p.left)) + 1
		}
		r, n = parent, p
	}
	return rank
}

// Len returns the number of nodes in the tree rooted at root.
func Len(s Store, root slotmap.Ref) int {
	return int(size(s, root))
}

// Walk visits the tree rooted at root in order until fn returns false.
func Walk(s Store, root slotmap.Ref, fn func(slotmap.Ref) bool) bool {
	if root == slotmap.Nil {
		return true
	}
	n := s.TreeNode(root)
	left, right := n.left, n.right
	if !Walk(s, left, fn) {
		return false
	}
	if !fn(root) {
		return false
	}
	return Walk(s, right, fn)
}

// PostOrder visits every node after both of its subtrees, so fn may release
// the node it is given.
func PostOrder(s Store, root slotmap.Ref, fn func(slotmap.Ref)) {
	if root == slotmap.Nil {
		return
	}
	n := s.TreeNode(root)
	left, right := n.left, n.right
	PostOrder(s, left, fn)
	PostOrder(s, right, fn)
	fn(root)
}
