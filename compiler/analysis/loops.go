package analysis

import (
	"sort"

	"github.com/veloarch/velo/compiler/velo"
)

type (
	// Loop is a natural loop: the header plus all blocks that reach a
	// latch without passing through the header.
	Loop struct {
		Header  *velo.Block
		Latches []*velo.Block
		Blocks  []*velo.Block

		Parent   *Loop
		Children []*Loop
		Depth    int

		member map[*velo.Block]bool
	}

	LoopInfo struct {
		// Loops holds all loops, outer before inner.
		Loops []*Loop

		inner map[*velo.Block]*Loop
	}
)

// FindLoops detects natural loops from back edges, edges whose target
// dominates their source. Irreducible control flow has no back edges
// in this sense and yields no loops.
func FindLoops(f *velo.Func, dom *DomTree) *LoopInfo {
	li := &LoopInfo{
		inner: map[*velo.Block]*Loop{},
	}

	byHeader := map[*velo.Block]*Loop{}

	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			if !dom.Dominates(s, b) {
				continue
			}

			l := byHeader[s]
			if l == nil {
				l = &Loop{Header: s, member: map[*velo.Block]bool{s: true}}
				l.Blocks = append(l.Blocks, s)

				byHeader[s] = l
				li.Loops = append(li.Loops, l)
			}

			l.Latches = append(l.Latches, b)
			l.collect(b)
		}
	}

	// biggest first, so outer loops come before the loops they contain
	sort.SliceStable(li.Loops, func(i, j int) bool {
		return len(li.Loops[i].Blocks) > len(li.Loops[j].Blocks)
	})

	for _, l := range li.Loops {
		l.Parent = li.inner[l.Header]
		l.Depth = 1

		if l.Parent != nil {
			l.Depth = l.Parent.Depth + 1
			l.Parent.Children = append(l.Parent.Children, l)
		}

		for _, b := range l.Blocks {
			li.inner[b] = l
		}
	}

	return li
}

// collect walks predecessors from a latch up to the header, adding
// every block on the way to the loop.
func (l *Loop) collect(b *velo.Block) {
	if l.member[b] {
		return
	}

	l.member[b] = true
	l.Blocks = append(l.Blocks, b)

	for _, p := range b.Preds {
		l.collect(p)
	}
}

func (l *Loop) Contains(b *velo.Block) bool { return l != nil && l.member[b] }

// IsLatch reports whether b closes the loop.
func (l *Loop) IsLatch(b *velo.Block) bool {
	for _, x := range l.Latches {
		if x == b {
			return true
		}
	}

	return false
}

// InnerLoop returns the innermost loop containing b, or nil.
func (li *LoopInfo) InnerLoop(b *velo.Block) *Loop { return li.inner[b] }

// Depth returns the loop nesting depth of b, 0 outside of any loop.
func (li *LoopInfo) Depth(b *velo.Block) int {
	if l := li.inner[b]; l != nil {
		return l.Depth
	}

	return 0
}
