package frame

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

// LowerIndices rewrites every frame index operand into base register
// plus byte offset addressing. Stack cache objects are addressed off
// the zero register with the access rewritten to its stack cache
// opcode. Shadow stack objects use the frame pointer when one is
// maintained, the stack pointer otherwise. Offsets that do not fit
// the immediate field of the instruction get an extra add computing a
// corrected base, per offending instruction.
func LowerIndices(ctx context.Context, f *velo.Func) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lower frame indices", "func", f.Name)
	defer tr.Finish("err", &err)

	fr := &f.Frame

	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			i := b.Instrs[idx]

			switch i.Op {
			case velo.PSPILL, velo.PRELOAD:
				idx += expandPredSpill(b, idx)
				i = b.Instrs[idx]
			}

			n := i.FrameIndexOperand()
			if n < 0 {
				continue
			}
			if n+1 >= len(i.Ops) || i.Ops[n+1].Kind != velo.OpdImm {
				panic("frame index without displacement")
			}

			fi := i.Ops[n].FI
			if fi < 0 || fi >= len(fr.Objects) {
				return errors.New("%v: bad frame index %d", b, fi)
			}

			base := velo.RSP
			off := fr.Objects[fi].Offset + int(i.Ops[n+1].Imm)

			switch {
			case fr.IsStackCache(fi):
				base = velo.R0
				i.Op = i.Op.StackCacheOp()
			case fr.HasFP() && !i.FrameSetup:
				base = velo.RFP
			}

			idx += largeOffset(b, idx, &base, &off)

			i.Ops[n] = velo.Rs(base)
			i.Ops[n+1] = velo.Imm(int64(off))

			tr.V("lower").Printw("frame index", "block", b, "fi", fi, "base", base, "off", off)
		}
	}

	return nil
}

// largeOffset checks the scaled offset against the immediate field of
// the instruction and, when it overflows, inserts an add that moves
// the excess into a scratch base register. It returns the number of
// inserted instructions.
func largeOffset(b *velo.Block, idx int, base *velo.Reg, off *int) int {
	i := b.Instrs[idx]

	shift := i.Op.OffsetShift()
	bits := i.Op.Format().ImmBits()

	if bits == 0 || bits >= 32 {
		return 0
	}

	limit := 1<<(bits+shift) - 1

	if *off >= 0 && *off <= limit && *off&(1<<shift-1) == 0 {
		return 0
	}

	// keep the aligned low part in range, add the excess to the base
	rem := *off & (limit &^ (1<<shift - 1))
	if *off < 0 {
		rem = 0
	}

	excess := *off - rem

	op := velo.ADDi
	if excess < 0 || excess >= 1<<12 {
		op = velo.ADDl
	}

	b.Insert(idx, velo.NewInstr(op,
		velo.Rd(velo.RTR), velo.Rs(*base), velo.Imm(int64(excess))))

	*base = velo.RTR
	*off = rem

	return 1
}

// expandPredSpill turns the predicate spill pseudos into a move
// through the scratch register plus a plain memory access, which the
// regular frame index lowering then rewrites. It returns the number
// of instructions inserted before the access.
func expandPredSpill(b *velo.Block, idx int) int {
	i := b.Instrs[idx]

	p := i.Ops[0].Reg
	fi := i.Ops[1]
	disp := i.Ops[2]

	if i.Op == velo.PSPILL {
		mov := velo.NewGuarded(i.Guard, velo.MOVPR, velo.Rd(velo.RTR), velo.Rs(p))
		st := velo.NewGuarded(i.Guard, velo.SWC, velo.Rs(velo.RTR), fi, disp)

		b.Remove(idx)
		b.Insert(idx, mov, st)

		return 1
	}

	ld := velo.NewGuarded(i.Guard, velo.LWC, velo.Rd(velo.RTR), fi, disp)
	mov := velo.NewGuarded(i.Guard, velo.MOVRP, velo.Rd(p), velo.Rs(velo.RTR))

	b.Remove(idx)
	b.Insert(idx, ld, mov)

	return 0
}
