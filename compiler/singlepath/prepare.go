package singlepath

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

// Prepare provisions the frame slots the reducer spills loop counters
// into: a nested loop loads its own bound into the counter register,
// so every enclosing loop needs a slot to keep its counter across the
// inner region. One register sized slot per non-innermost loop level,
// indexed by the level. The slots are cache eligible and tagged for
// the frame partitioner.
func Prepare(ctx context.Context, f *velo.Func, root *Node) []int {
	tr := tlog.SpanFromContext(ctx)

	var fis []int

	for d := 1; d < maxDepth(root); d++ {
		fi := f.Frame.CreateStackObject(4, 4, true)
		f.Frame.SinglePathFIs.Set(fi)

		fis = append(fis, fi)

		tr.V("spill_slots").Printw("counter spill slot", "fi", fi, "depth", d)
	}

	return fis
}

func maxDepth(n *Node) int {
	d := n.Depth

	for _, c := range n.Children {
		if x := maxDepth(c); x > d {
			d = x
		}
	}

	return d
}
