package singlepath

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

// BoundFunc supplies the iteration bound of a loop region. Bound
// inference is a separate analysis, the reducer only consumes its
// result at the preheader insertion point.
type BoundFunc func(n *Node) int

func ConstBound(v int) BoundFunc { return func(*Node) int { return v } }

// reducer turns the region tree into one straight line sequence of
// predicated code.
type reducer struct {
	f     *velo.Func
	in    *Info
	bound BoundFunc

	// counterFIs are the spill slots for outer loop counters,
	// indexed by the nesting depth of the loop owning the counter.
	counterFIs []int

	chain []*velo.Block

	tr tlog.Span
}

// Reduce linearizes f along the region tree walk. Every block is
// predicated with its assigned predicate, definition sites set and
// clear the guard bits, loops become a single backward branch.
// counterFIs are the slots Prepare provisioned for loop counters of
// outer regions.
func Reduce(ctx context.Context, f *velo.Func, in *Info, root *Node, bound BoundFunc, counterFIs []int) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "single path reduce", "func", f.Name)
	defer tr.Finish("err", &err)

	r := &reducer{
		f:          f,
		in:         in,
		bound:      bound,
		counterFIs: counterFIs,
		tr:         tr,
	}

	r.insertPredDefs()

	err = root.Walk(r)
	if err != nil {
		return errors.Wrap(err, "linearize")
	}

	r.relink()
	r.merge()

	f.RenumberBlocks()

	if tr.If("dump_reduced") {
		tr.Printw("reduced", "func", f.Name, "code", f.Dump())
	}

	return nil
}

// insertPredDefs emits guard bit updates before the terminator of
// every defining block: an unconditional clear of all defined bits,
// then a set of the true bits under the branch condition, then a set
// of the false bits under the reversed condition.
func (r *reducer) insertPredDefs() {
	for _, b := range r.f.Blocks {
		d := r.in.Defs[b]
		if d == nil {
			continue
		}

		mask := d.True.Mask32() | d.False.Mask32()

		is := []*velo.Instr{
			velo.NewInstr(velo.ANDl, velo.Rd(velo.RGuard), velo.Rs(velo.RGuard), velo.Imm(int64(^mask))),
		}

		if m := d.True.Mask32(); m != 0 {
			is = append(is, velo.NewGuarded(d.Cond, velo.ORl,
				velo.Rd(velo.RGuard), velo.Rs(velo.RGuard), velo.Imm(int64(m))))
		}

		if m := d.False.Mask32(); m != 0 {
			is = append(is, velo.NewGuarded(d.Cond.Reverse(), velo.ORl,
				velo.Rd(velo.RGuard), velo.Rs(velo.RGuard), velo.Imm(int64(m))))
		}

		b.Insert(b.FirstTerminator(), is...)

		r.tr.V("pred_defs").Printw("pred defs", "block", b, "true", d.True, "false", d.False, "cond", d.Cond.Reg)
	}
}

func (r *reducer) EnterNode(n *Node) error {
	if n.IsRoot() {
		// predicates on the entry edge start true
		mask := int64(r.in.Entry.Mask32())

		op := velo.LIi
		if mask >= 1<<11 {
			op = velo.LIl
		}

		entry := r.f.Entry()
		entry.Insert(0, velo.NewInstr(op, velo.Rd(velo.RGuard), velo.Imm(mask)))

		return nil
	}

	// preheader: loop bound into the counter, the outer counter
	// saved first when this loop sits inside another one
	ph := r.f.NewBlock(n.Header.String() + ".ph")

	if n.Depth >= 2 {
		ph.Append(velo.NewInstr(velo.SWC,
			velo.Rs(velo.RCounter), velo.FIOp(r.counterFIs[n.Depth-2]), velo.Imm(0)))
	}

	bound := int64(r.bound(n))
	op := velo.LIi
	if bound >= 1<<11 {
		op = velo.LIl
	}

	ph.Append(velo.NewInstr(op, velo.Rd(velo.RCounter), velo.Imm(bound)))

	r.chain = append(r.chain, ph)

	r.tr.V("regions").Printw("enter region", "header", n.Header, "depth", n.Depth, "bound", bound, "from", loc.Caller(1))

	return nil
}

// initMask is the bitmask of predicates used by the region's direct
// members, the header's own guard excluded since it is defined
// outside.
func (r *reducer) initMask(n *Node) uint32 {
	var mask uint32

	for _, b := range n.Blocks {
		mask |= 1 << r.in.Use[b]
	}

	return mask &^ (1 << r.in.Use[n.Header])
}

func (r *reducer) NextBlock(b *velo.Block, n *Node) error {
	velo.RemoveBranch(b)

	if id := r.in.Use[b]; id != 0 {
		r.applyPredicates(b, velo.Guard{Reg: velo.PExtract})

		// extract the guard bit, unpredicated, at the block top
		b.Insert(0,
			velo.NewInstr(velo.LIi, velo.Rd(velo.RTR), velo.Imm(int64(id))),
			velo.NewInstr(velo.BTEST, velo.Rd(velo.PExtract), velo.Rs(velo.RGuard), velo.Rs(velo.RTR)),
		)
	}

	if b == n.Header && !n.IsRoot() {
		// every iteration starts with the member predicates false,
		// the clear stays unconditional and precedes the extraction
		if mask := r.initMask(n); mask != 0 {
			b.Insert(0, velo.NewInstr(velo.ANDl,
				velo.Rd(velo.RGuard), velo.Rs(velo.RGuard), velo.Imm(int64(^mask))))
		}
	}

	r.chain = append(r.chain, b)

	return nil
}

// applyPredicates guards every predicable instruction of b with g.
// Instructions already carrying a guard get the conjunction of both.
// Returns are never predicated.
func (r *reducer) applyPredicates(b *velo.Block, g velo.Guard) {
	for idx := 0; idx < len(b.Instrs); idx++ {
		i := b.Instrs[idx]

		if i.Op.IsReturn() || !i.Op.Predicable() {
			continue
		}

		if i.IsPredicated() {
			b.Insert(idx, velo.NewInstr(velo.PAND,
				velo.Rd(velo.PConj),
				velo.Ps(i.Guard.Reg, i.Guard.Neg),
				velo.Ps(g.Reg, g.Neg)))
			idx++

			i.Guard = velo.Guard{Reg: velo.PConj}

			continue
		}

		i.Guard = g
	}
}

func (r *reducer) ExitNode(n *Node) error {
	if n.IsRoot() {
		return nil
	}

	// trailing block: re-extract the header guard and branch back
	t := r.f.NewBlock(n.Header.String() + ".tail")

	id := r.in.Use[n.Header]

	t.Append(
		velo.NewInstr(velo.LIi, velo.Rd(velo.RTR), velo.Imm(int64(id))),
		velo.NewInstr(velo.BTEST, velo.Rd(velo.PExtract), velo.Rs(velo.RGuard), velo.Rs(velo.RTR)),
		velo.NewGuarded(velo.Guard{Reg: velo.PExtract}, velo.BR, velo.BlockOp(n.Header)),
	)

	r.chain = append(r.chain, t)

	if n.Depth >= 2 {
		// past the backward branch, restore the outer counter
		rst := r.f.NewBlock(n.Header.String() + ".rst")

		rst.Append(velo.NewInstr(velo.LWC,
			velo.Rd(velo.RCounter), velo.FIOp(r.counterFIs[n.Depth-2]), velo.Imm(0)))

		r.chain = append(r.chain, rst)
	}

	return nil
}

// relink rewires the CFG into the linear chain: every block falls
// through to the next, trailing blocks keep their backward edge.
func (r *reducer) relink() {
	for _, b := range r.chain {
		b.Succs = nil
		b.Preds = nil
	}

	for i, b := range r.chain {
		if i+1 < len(r.chain) {
			b.AddSuccessor(r.chain[i+1])
		}

		if t := lastBranchTarget(b); t != nil {
			b.AddSuccessor(t)
		}
	}

	r.f.Blocks = append(r.f.Blocks[:0], r.chain...)
}

func lastBranchTarget(b *velo.Block) *velo.Block {
	for _, i := range b.Instrs {
		if i.Op == velo.BR {
			return i.BranchTarget()
		}
	}

	return nil
}

// merge concatenates every block into its layout successor when that
// successor has a single predecessor, collapsing the chain into a few
// long blocks separated by backward branch targets.
func (r *reducer) merge() {
	for i := 0; i < len(r.f.Blocks); i++ {
		b := r.f.Blocks[i]

		for len(b.Succs) == 1 {
			s := b.Succs[0]
			if len(s.Preds) != 1 || s == b {
				break
			}

			b.Splice(s)
			b.RemoveSuccessor(s)
			b.TransferSuccessors(s)
			r.f.RemoveBlock(s)

			r.tr.V("merge").Printw("merge blocks", "into", b, "from", s)
		}
	}
}
