package velo

type (
	OpdKind uint8

	Operand struct {
		Kind     OpdKind
		Reg      Reg
		Imm      int64
		FI       int
		Block    *Block
		Sym      string
		Def      bool
		Implicit bool

		// Neg inverts a predicate register source.
		Neg bool
	}

	// Guard predicates an instruction: it executes iff the predicate
	// register holds Neg. Reg == P0, Neg == false is "always".
	Guard struct {
		Reg Reg
		Neg bool
	}

	Instr struct {
		Op    Op
		Guard Guard
		Ops   []Operand

		// Bundled marks the instruction as issued together with its
		// predecessor (second slot of a VLIW bundle).
		Bundled bool

		// FrameSetup marks call frame setup code emitted before the
		// stack pointer adjustment.
		FrameSetup bool
	}
)

const (
	OpdReg OpdKind = iota
	OpdImm
	OpdFI
	OpdBlock
	OpdSym
)

var AlwaysGuard = Guard{Reg: P0}

func (g Guard) Always() bool { return g.Reg == P0 && !g.Neg }

func (g Guard) Reverse() Guard { return Guard{Reg: g.Reg, Neg: !g.Neg} }

func Rd(r Reg) Operand         { return Operand{Kind: OpdReg, Reg: r, Def: true} }
func Rs(r Reg) Operand         { return Operand{Kind: OpdReg, Reg: r} }
func Imm(v int64) Operand      { return Operand{Kind: OpdImm, Imm: v} }
func FIOp(fi int) Operand      { return Operand{Kind: OpdFI, FI: fi} }
func BlockOp(b *Block) Operand { return Operand{Kind: OpdBlock, Block: b} }
func SymOp(s string) Operand   { return Operand{Kind: OpdSym, Sym: s} }

// Ps is a predicate register source, possibly inverted.
func Ps(r Reg, neg bool) Operand {
	return Operand{Kind: OpdReg, Reg: r, Neg: neg}
}

func ImplicitRd(r Reg) Operand {
	return Operand{Kind: OpdReg, Reg: r, Def: true, Implicit: true}
}

func ImplicitRs(r Reg) Operand {
	return Operand{Kind: OpdReg, Reg: r, Implicit: true}
}

// NewInstr builds an unpredicated instruction.
func NewInstr(op Op, opds ...Operand) *Instr {
	return &Instr{Op: op, Guard: AlwaysGuard, Ops: opds}
}

// NewGuarded builds a predicated instruction.
func NewGuarded(g Guard, op Op, opds ...Operand) *Instr {
	return &Instr{Op: op, Guard: g, Ops: opds}
}

func (i *Instr) IsPredicated() bool { return !i.Guard.Always() }

// FrameIndexOperand returns the position of the frame index operand,
// or -1. The following operand holds the displacement.
func (i *Instr) FrameIndexOperand() int {
	for j := range i.Ops {
		if i.Ops[j].Kind == OpdFI {
			return j
		}
	}

	return -1
}

// BranchTarget returns the block operand of a branch.
func (i *Instr) BranchTarget() *Block {
	for j := range i.Ops {
		if i.Ops[j].Kind == OpdBlock {
			return i.Ops[j].Block
		}
	}

	return nil
}

// Defs calls f for every register written by the instruction,
// including implicit convention registers.
func (i *Instr) Defs(f func(o *Operand)) {
	for j := range i.Ops {
		if i.Ops[j].Kind == OpdReg && i.Ops[j].Def {
			f(&i.Ops[j])
		}
	}
}

// Uses calls f for every register operand read by the instruction.
// The guard register is not an operand and is not visited.
func (i *Instr) Uses(f func(o *Operand)) {
	for j := range i.Ops {
		if i.Ops[j].Kind == OpdReg && !i.Ops[j].Def {
			f(&i.Ops[j])
		}
	}
}

// FindUse returns the first use operand of reg, or nil.
func (i *Instr) FindUse(reg Reg) *Operand {
	for j := range i.Ops {
		o := &i.Ops[j]
		if o.Kind == OpdReg && !o.Def && o.Reg == reg {
			return o
		}
	}

	return nil
}
