package singlepath

import (
	"tlog.app/go/errors"

	"github.com/veloarch/velo/compiler/analysis"
	"github.com/veloarch/velo/compiler/velo"
)

var ErrLoopShape = errors.New("unsupported loop shape")

type (
	// Node is a region of the single path transformation: one natural
	// loop, or the whole function for the root. Child regions are
	// reachable both through Children and through their header block
	// in Blocks.
	Node struct {
		Parent *Node
		Depth  int

		Header *velo.Block

		// Succ is the loop exit target, nil for the root.
		Succ *velo.Block

		NumBackEdges int

		Blocks   []*velo.Block // members, header first
		Children map[*velo.Block]*Node
	}

	// Walker visits the region tree in linearization order.
	Walker interface {
		EnterNode(n *Node) error
		NextBlock(b *velo.Block, n *Node) error
		ExitNode(n *Node) error
	}
)

// BuildTree builds the region tree of f from its natural loops. Every
// loop must have a single exit edge.
func BuildTree(f *velo.Func, li *analysis.LoopInfo) (*Node, error) {
	root := &Node{
		Header:   f.Entry(),
		Children: map[*velo.Block]*Node{},
	}

	byLoop := map[*analysis.Loop]*Node{}

	// outer loops come first in li.Loops, parents are already built
	for _, l := range li.Loops {
		succ, err := loopExit(l)
		if err != nil {
			return nil, err
		}

		parent := root
		if l.Parent != nil {
			parent = byLoop[l.Parent]
		}

		n := &Node{
			Parent:       parent,
			Depth:        parent.Depth + 1,
			Header:       l.Header,
			Succ:         succ,
			NumBackEdges: len(l.Latches),
			Children:     map[*velo.Block]*Node{},
		}
		n.Blocks = append(n.Blocks, l.Header)

		parent.Children[l.Header] = n
		byLoop[l] = n
	}

	// assign each block to its innermost region
	for _, b := range f.Blocks {
		l := li.InnerLoop(b)

		switch {
		case l == nil:
			root.Blocks = append(root.Blocks, b)
		case b == l.Header:
			// added by the node constructor, and into the parent list
			byLoop[l].Parent.Blocks = append(byLoop[l].Parent.Blocks, b)
		default:
			byLoop[l].Blocks = append(byLoop[l].Blocks, b)
		}
	}

	// header first
	for _, n := range byLoop {
		moveToFront(n.Parent.Blocks, n.Header)
	}

	moveToFront(root.Blocks, root.Header)

	return root, nil
}

// loopExit returns the single exit target of l. The trailing branch
// the reducer emits re-tests the header guard, so the one exiting
// block must be the header itself.
func loopExit(l *analysis.Loop) (*velo.Block, error) {
	var exit, exiting *velo.Block
	edges := 0

	for _, b := range l.Blocks {
		for _, s := range b.Succs {
			if l.Contains(s) {
				continue
			}

			edges++
			exiting = b

			if exit == nil {
				exit = s
			} else if exit != s {
				return nil, errors.Wrap(ErrLoopShape, "loop %v: exits to %v and %v", l.Header, exit, s)
			}
		}
	}

	if edges != 1 {
		return nil, errors.Wrap(ErrLoopShape, "loop %v: %d exit edges", l.Header, edges)
	}

	if exiting != l.Header {
		return nil, errors.Wrap(ErrLoopShape, "loop %v: exits from %v, not the header", l.Header, exiting)
	}

	return exit, nil
}

func moveToFront(blocks []*velo.Block, b *velo.Block) {
	for i, x := range blocks {
		if x == b {
			copy(blocks[1:i+1], blocks[:i])
			blocks[0] = b
			return
		}
	}
}

// IsRoot reports whether the node covers the whole function.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// HasBlock reports whether b is a direct member of n.
func (n *Node) HasBlock(b *velo.Block) bool {
	for _, x := range n.Blocks {
		if x == b {
			return true
		}
	}

	return false
}

// item maps a block to the member representing it at this level: the
// block itself for a direct member, the child header for a block
// nested in a child region, nil for a block outside the node.
func (n *Node) item(b *velo.Block) *velo.Block {
	if n.HasBlock(b) {
		return b
	}

	for h, c := range n.Children {
		if c.subtreeHas(b) {
			return h
		}
	}

	return nil
}

func (n *Node) subtreeHas(b *velo.Block) bool {
	if n.HasBlock(b) {
		return true
	}

	for _, c := range n.Children {
		if c.subtreeHas(b) {
			return true
		}
	}

	return false
}

// subtreeBlocks collects all blocks of n and its children.
func (n *Node) subtreeBlocks(out []*velo.Block) []*velo.Block {
	out = append(out, n.Blocks...)

	for _, c := range n.Children {
		out = c.subtreeBlocks(out)
	}

	return out
}

// Walk traverses the region tree depth first in a topological order
// of each node's members. The header goes first. Back edges do not
// count as dependencies since source and target map to the same
// member. Plain blocks are preferred over child regions, delaying
// loop headers keeps their guard predicates short lived.
func (n *Node) Walk(w Walker) error {
	err := w.EnterNode(n)
	if err != nil {
		return err
	}

	deps := map[*velo.Block]int{}

	for _, b := range n.Blocks {
		if b == n.Header {
			continue
		}

		for _, p := range b.Preds {
			if it := n.item(p); it != nil && it != b {
				deps[b]++
			}
		}
	}

	emit := func(b *velo.Block) error {
		if c, ok := n.Children[b]; ok {
			return c.Walk(w)
		}

		return w.NextBlock(b, n)
	}

	done := map[*velo.Block]bool{n.Header: true}

	err = emit(n.Header)
	if err != nil {
		return err
	}

	release := func(b *velo.Block) {
		var all []*velo.Block

		if c, ok := n.Children[b]; ok {
			all = c.subtreeBlocks(nil)
		} else {
			all = []*velo.Block{b}
		}

		for _, x := range all {
			for _, s := range x.Succs {
				if it := n.item(s); it != nil && it != b && !done[it] {
					deps[it]--
				}
			}
		}
	}

	release(n.Header)

	for left := len(n.Blocks) - 1; left > 0; left-- {
		next := n.pickReady(deps, done)
		if next == nil {
			return errors.New("region %v: no topological order", n.Header)
		}

		done[next] = true

		err = emit(next)
		if err != nil {
			return err
		}

		release(next)
	}

	return w.ExitNode(n)
}

// pickReady selects the next member with all dependencies resolved,
// preferring plain blocks over child regions.
func (n *Node) pickReady(deps map[*velo.Block]int, done map[*velo.Block]bool) *velo.Block {
	var header *velo.Block

	for _, b := range n.Blocks {
		if done[b] || deps[b] > 0 {
			continue
		}

		if _, ok := n.Children[b]; ok {
			if header == nil {
				header = b
			}

			continue
		}

		return b
	}

	return header
}
