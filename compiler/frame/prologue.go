package frame

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

var ErrBlockTooLarge = errors.New("block exceeds method cache capacity")

// ReserveCalleeSaved creates spill slots for the callee saved
// registers clobbered by f plus the register scavenging slot. Run
// before frame assignment so the slots take part in the partition.
func ReserveCalleeSaved(f *velo.Func) {
	fr := &f.Frame

	clobbered := map[velo.Reg]bool{}

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op.IsCall() {
				fr.HasCalls = true
			}

			if i.Op == velo.ADJCALLSTACKDOWN && len(i.Ops) != 0 && int(i.Ops[0].Imm) > fr.MaxCallFrameSize {
				fr.MaxCallFrameSize = int(i.Ops[0].Imm)
			}

			i.Defs(func(o *velo.Operand) {
				clobbered[o.Reg] = true
			})
		}
	}

	fr.UseFP = fr.HasCalls && fr.MaxCallFrameSize > 0

	for _, r := range velo.CalleeSavedRegs(fr.HasFP()) {
		if !clobbered[r] {
			continue
		}

		fi := fr.CreateStackObject(4, 4, true)
		fr.CalleeSavedFIs.Set(fi)
		fr.CalleeSaved = append(fr.CalleeSaved, velo.CalleeSavedSlot{Reg: r, FI: fi})
	}

	if fr.ScavengeFI < 0 {
		fr.ScavengeFI = fr.CreateStackObject(4, 4, true)
	}
}

// Emit inserts prologue and epilogue code: stack cache reserve and
// free, shadow stack pointer adjustment, and a stack cache ensure
// after every call site. Call frame pseudos are folded into the
// frame size and removed.
func Emit(ctx context.Context, f *velo.Func, methodCacheSize int) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "prologue epilogue", "func", f.Name)
	defer tr.Finish("err", &err)

	fr := &f.Frame

	eliminateCallFramePseudos(f)

	err = checkMethodCache(f, methodCacheSize)
	if err != nil {
		return err
	}

	emitPrologue(f.Entry(), fr)

	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			i := b.Instrs[idx]

			if i.Op.IsReturn() {
				idx += emitEpilogue(b, idx, fr)
			}
		}
	}

	patchCallSites(f)

	tr.Printw("frame finalized", "stack_size", fr.StackSize, "cache_bytes", fr.StackCacheBytes, "fp", fr.HasFP())

	return nil
}

func emitPrologue(entry *velo.Block, fr *velo.Frame) {
	var is []*velo.Instr

	if fr.StackCacheBytes > 0 {
		is = append(is, velo.NewInstr(velo.SRES, velo.Imm(int64(fr.StackCacheBytes))))
	}

	if fr.StackSize > 0 {
		is = append(is, adjustSP(velo.SUBi, velo.SUBl, fr.StackSize))
	}

	if fr.HasFP() {
		is = append(is, velo.NewInstr(velo.MOV, velo.Rd(velo.RFP), velo.Rs(velo.RSP)))
	}

	for _, i := range is {
		i.FrameSetup = true
	}

	// saves run after the stack is set up, addressing is final
	for _, cs := range fr.CalleeSaved {
		is = append(is, velo.NewInstr(velo.SWC,
			velo.Rs(cs.Reg), velo.FIOp(cs.FI), velo.Imm(0)))
	}

	entry.Insert(0, is...)
}

// emitEpilogue inserts the teardown before the return at idx and
// returns the number of inserted instructions.
func emitEpilogue(b *velo.Block, idx int, fr *velo.Frame) int {
	var is []*velo.Instr

	for _, cs := range fr.CalleeSaved {
		is = append(is, velo.NewInstr(velo.LWC,
			velo.Rd(cs.Reg), velo.FIOp(cs.FI), velo.Imm(0)))
	}

	if fr.StackSize > 0 {
		is = append(is, adjustSP(velo.ADDi, velo.ADDl, fr.StackSize))
	}

	if fr.StackCacheBytes > 0 {
		is = append(is, velo.NewInstr(velo.SFREE, velo.Imm(int64(fr.StackCacheBytes))))
	}

	b.Insert(idx, is...)

	return len(is)
}

func adjustSP(short, long velo.Op, size int) *velo.Instr {
	op := short
	if size >= 1<<12 {
		op = long
	}

	return velo.NewInstr(op, velo.Rd(velo.RSP), velo.Rs(velo.RSP), velo.Imm(int64(size)))
}

// patchCallSites inserts a stack cache ensure after every call, the
// callee may have evicted the frame of this function.
func patchCallSites(f *velo.Func) {
	if f.Frame.StackCacheBytes == 0 {
		return
	}

	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			if !b.Instrs[idx].Op.IsCall() {
				continue
			}

			idx++
			b.Insert(idx, velo.NewInstr(velo.SENS, velo.Imm(int64(f.Frame.StackCacheBytes))))
		}
	}
}

// eliminateCallFramePseudos drops the call frame markers, the space
// is already folded into the fixed frame size.
func eliminateCallFramePseudos(f *velo.Func) {
	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			switch b.Instrs[idx].Op {
			case velo.ADJCALLSTACKDOWN, velo.ADJCALLSTACKUP:
				b.Remove(idx)
				idx--
			}
		}
	}
}

// checkMethodCache verifies every block fits the method cache. Sizes
// are estimated from the instruction formats, long immediates take
// two issue slots.
func checkMethodCache(f *velo.Func, cacheSize int) error {
	if cacheSize <= 0 {
		return nil
	}

	for _, b := range f.Blocks {
		size := 0

		for _, i := range b.Instrs {
			size += 4 * i.Op.IssueWidth()
		}

		if size > cacheSize {
			return errors.Wrap(ErrBlockTooLarge, "%v: %v: %d bytes", f.Name, b, size)
		}
	}

	return nil
}
