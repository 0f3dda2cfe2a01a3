package velo

// Calling convention registers.
var (
	RetRegs = []Reg{R1, R2}
	ArgRegs = []Reg{R3, R4, R5, R6, R7, R8}
)

// NewCall builds a call with the convention registers attached as
// implicit operands.
func NewCall(sym string) *Instr {
	i := NewInstr(CALL, SymOp(sym))

	for _, r := range RetRegs {
		i.Ops = append(i.Ops, ImplicitRd(r))
	}

	for _, r := range ArgRegs {
		i.Ops = append(i.Ops, ImplicitRs(r))
	}

	return i
}

// NewRet builds a return using the convention result registers.
func NewRet() *Instr {
	i := NewInstr(RET)

	for _, r := range RetRegs {
		i.Ops = append(i.Ops, ImplicitRs(r))
	}

	return i
}
