package analysis

import (
	"tlog.app/go/errors"

	"github.com/veloarch/velo/compiler/velo"
)

var ErrMultipleExits = errors.New("multiple exit blocks")

// DomTree is a dominator tree in either direction. For the postdominator
// variant the roles of successors and predecessors are swapped and the
// root is the exit block.
type DomTree struct {
	Root *velo.Block

	idom map[*velo.Block]*velo.Block
	num  map[*velo.Block]int // postorder numbering
}

// Dominators builds the dominator tree of f rooted at the entry.
func Dominators(f *velo.Func) *DomTree {
	return build(f.Entry(), blockSuccs, blockPreds)
}

// PostDominators builds the postdominator tree of f. The CFG must have
// a single exit block.
func PostDominators(f *velo.Func) (*DomTree, error) {
	exit, err := ExitBlock(f)
	if err != nil {
		return nil, err
	}

	return build(exit, blockPreds, blockSuccs), nil
}

// ExitBlock returns the unique block without successors.
func ExitBlock(f *velo.Func) (*velo.Block, error) {
	var exit *velo.Block

	for _, b := range f.Blocks {
		if len(b.Succs) != 0 {
			continue
		}

		if exit != nil {
			return nil, errors.Wrap(ErrMultipleExits, "%v: %v and %v", f.Name, exit, b)
		}

		exit = b
	}

	if exit == nil {
		return nil, errors.New("%v: no exit block", f.Name)
	}

	return exit, nil
}

func blockSuccs(b *velo.Block) []*velo.Block { return b.Succs }
func blockPreds(b *velo.Block) []*velo.Block { return b.Preds }

// build runs the iterative dominance algorithm on the postorder of the
// graph reachable from root.
func build(root *velo.Block, succs, preds func(*velo.Block) []*velo.Block) *DomTree {
	t := &DomTree{
		Root: root,
		idom: map[*velo.Block]*velo.Block{},
		num:  map[*velo.Block]int{},
	}

	order := postorder(root, succs)

	for i, b := range order {
		t.num[b] = i
	}

	t.idom[root] = root

	for changed := true; changed; {
		changed = false

		// reverse postorder, root excluded
		for i := len(order) - 2; i >= 0; i-- {
			b := order[i]

			var idom *velo.Block

			for _, p := range preds(b) {
				if t.idom[p] == nil {
					continue
				}

				if idom == nil {
					idom = p
				} else {
					idom = t.intersect(idom, p)
				}
			}

			if idom != nil && t.idom[b] != idom {
				t.idom[b] = idom
				changed = true
			}
		}
	}

	t.idom[root] = nil

	return t
}

func postorder(root *velo.Block, succs func(*velo.Block) []*velo.Block) []*velo.Block {
	type frame struct {
		b *velo.Block
		i int // next edge to explore
	}

	var order []*velo.Block

	seen := map[*velo.Block]bool{root: true}
	stack := []frame{{b: root}}

	for len(stack) != 0 {
		tos := len(stack) - 1
		b := stack[tos].b
		next := succs(b)

		if i := stack[tos].i; i < len(next) {
			stack[tos].i++

			if s := next[i]; !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}

			continue
		}

		stack = stack[:tos]
		order = append(order, b)
	}

	return order
}

// intersect finds the closest common ancestor of b and c in the tree
// built so far. It requires the postorder numbering.
func (t *DomTree) intersect(b, c *velo.Block) *velo.Block {
	for b != c {
		if t.num[b] < t.num[c] {
			b = t.idom[b]
		} else {
			c = t.idom[c]
		}
	}

	return b
}

// IDom returns the immediate dominator of b, nil for the root and for
// unreachable blocks.
func (t *DomTree) IDom(b *velo.Block) *velo.Block { return t.idom[b] }

// Dominates reports whether a dominates b. Every block dominates
// itself.
func (t *DomTree) Dominates(a, b *velo.Block) bool {
	for b != nil {
		if a == b {
			return true
		}

		b = t.idom[b]
	}

	return false
}

// Reachable reports whether the tree covers b.
func (t *DomTree) Reachable(b *velo.Block) bool {
	_, ok := t.num[b]
	return ok
}
