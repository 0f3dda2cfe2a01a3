package velo

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Reg is a physical register. General registers R0-R31,
	// one-bit predicate registers P0-P7.
	Reg uint8
)

const (
	R0 Reg = iota // always reads zero
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	R16
	R17
	R18
	R19
	R20
	R21
	R22
	R23
	R24
	R25
	R26
	R27
	R28
	R29
	R30
	R31

	P0 // always true
	P1
	P2
	P3
	P4
	P5
	P6
	P7

	NumRegs

	NoReg Reg = 0xff
)

const (
	RGuard   = R26 // holds the predicate bitmask in single-path form
	RCounter = R28 // loop bound counter in single-path form
	RTR      = R29 // reserved scratch
	RFP      = R30 // frame pointer
	RSP      = R31 // stack pointer

	PExtract = P7 // block guard extracted from the bitmask
	PConj    = P6 // conjunction of nested guards
)

// AvailPredRegs is the pool used for guard allocation. P0 is hardwired
// true, the top two are reserved for guard extraction.
var AvailPredRegs = []Reg{P1, P2, P3, P4, P5}

func (r Reg) IsPred() bool { return r >= P0 && r <= P7 }

func (r Reg) String() string {
	switch {
	case r == NoReg:
		return "no_reg"
	case r.IsPred():
		return fmt.Sprintf("p%d", r-P0)
	case r < NumRegs:
		return fmt.Sprintf("r%d", r)
	default:
		return fmt.Sprintf("reg(%d)", uint8(r))
	}
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, r.String())
}

// CalleeSavedRegs returns the registers a function must preserve.
// The frame pointer is only saved when it is actually used as one.
func CalleeSavedRegs(hasFP bool) []Reg {
	regs := []Reg{R21, R22, R23, R24, R25, R26}
	if hasFP {
		regs = append(regs, RFP)
	}

	return regs
}
