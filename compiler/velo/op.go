package velo

type (
	Op uint8

	// Format selects the instruction encoding and with it the width
	// of the immediate field.
	Format uint8

	opFlags uint16
)

const (
	FmtOther Format = iota
	FmtPseudo
	FmtALUi // 12 bit immediate
	FmtALUl // 32 bit immediate, occupies both issue slots
	FmtALUc // pd = rs1 op rs2
	FmtALUp // pd = ps1 op ps2
	FmtLDT  // load, 7 bit scaled offset
	FmtSTT  // store, 7 bit scaled offset
	FmtSTC  // stack control, 22 bit immediate
	FmtCFLb // control flow, block target
	FmtCFLi // control flow, indirect
)

const (
	flagBranch opFlags = 1 << iota
	flagCall
	flagReturn
	flagBarrier
	flagLoad
	flagStore
	flagPredicable
	flagInlineAsm
	flagSecondSlot // may occupy the second issue slot of a bundle
)

const (
	NOP Op = iota

	MOV   // rd = rs
	MOVRP // pd = rs != 0
	MOVPR // rd = pd ? 1 : 0
	LIi   // rd = imm12
	LIl   // rd = imm32

	ADD
	ADDi
	ADDl
	SUB
	SUBi
	SUBl
	AND
	ANDl
	OR
	ORi
	ORl

	CMPEQ  // pd = rs1 == rs2
	CMPNEQ // pd = rs1 != rs2
	CMPLT  // pd = rs1 < rs2
	CMPLE  // pd = rs1 <= rs2

	BTEST // pd = rs1 bit rs2

	PAND // pd = ps1 & ps2

	// loads: data cache, stack cache, main memory
	LWC
	LWS
	LWM
	LHC
	LHS
	LHM
	LBC
	LBS
	LBM

	// stores
	SWC
	SWS
	SWM
	SHC
	SHS
	SHM
	SBC
	SBS
	SBM

	BR
	CALL
	RET

	SRES  // reserve stack cache space
	SENS  // ensure stack cache space
	SFREE // free stack cache space

	// call frame setup markers, eliminated during frame lowering
	ADJCALLSTACKDOWN
	ADJCALLSTACKUP

	// predicate register spill/reload, expanded during frame lowering
	PSPILL
	PRELOAD

	ASM // inline assembly

	NumOps
)

type opInfo struct {
	name   string
	format Format
	flags  opFlags
	delay  int // delay slots after control flow
	shift  int // memory offset scale
}

var ops = [NumOps]opInfo{
	NOP: {name: "nop", format: FmtOther, flags: flagPredicable | flagSecondSlot},

	MOV:   {name: "mov", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	MOVRP: {name: "movrp", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	MOVPR: {name: "movpr", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	LIi:   {name: "li", format: FmtALUi, flags: flagPredicable | flagSecondSlot},
	LIl:   {name: "lil", format: FmtALUl, flags: flagPredicable},

	ADD:  {name: "add", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	ADDi: {name: "addi", format: FmtALUi, flags: flagPredicable | flagSecondSlot},
	ADDl: {name: "addl", format: FmtALUl, flags: flagPredicable},
	SUB:  {name: "sub", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	SUBi: {name: "subi", format: FmtALUi, flags: flagPredicable | flagSecondSlot},
	SUBl: {name: "subl", format: FmtALUl, flags: flagPredicable},
	AND:  {name: "and", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	ANDl: {name: "andl", format: FmtALUl, flags: flagPredicable},
	OR:   {name: "or", format: FmtOther, flags: flagPredicable | flagSecondSlot},
	ORi:  {name: "ori", format: FmtALUi, flags: flagPredicable | flagSecondSlot},
	ORl:  {name: "orl", format: FmtALUl, flags: flagPredicable},

	CMPEQ:  {name: "cmpeq", format: FmtALUc, flags: flagPredicable | flagSecondSlot},
	CMPNEQ: {name: "cmpneq", format: FmtALUc, flags: flagPredicable | flagSecondSlot},
	CMPLT:  {name: "cmplt", format: FmtALUc, flags: flagPredicable | flagSecondSlot},
	CMPLE:  {name: "cmple", format: FmtALUc, flags: flagPredicable | flagSecondSlot},

	BTEST: {name: "btest", format: FmtALUc, flags: flagPredicable | flagSecondSlot},

	PAND: {name: "pand", format: FmtALUp, flags: flagPredicable | flagSecondSlot},

	LWC: {name: "lwc", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 2},
	LWS: {name: "lws", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 2},
	LWM: {name: "lwm", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 2},
	LHC: {name: "lhc", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 1},
	LHS: {name: "lhs", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 1},
	LHM: {name: "lhm", format: FmtLDT, flags: flagPredicable | flagLoad, shift: 1},
	LBC: {name: "lbc", format: FmtLDT, flags: flagPredicable | flagLoad},
	LBS: {name: "lbs", format: FmtLDT, flags: flagPredicable | flagLoad},
	LBM: {name: "lbm", format: FmtLDT, flags: flagPredicable | flagLoad},

	SWC: {name: "swc", format: FmtSTT, flags: flagPredicable | flagStore, shift: 2},
	SWS: {name: "sws", format: FmtSTT, flags: flagPredicable | flagStore, shift: 2},
	SWM: {name: "swm", format: FmtSTT, flags: flagPredicable | flagStore, shift: 2},
	SHC: {name: "shc", format: FmtSTT, flags: flagPredicable | flagStore, shift: 1},
	SHS: {name: "shs", format: FmtSTT, flags: flagPredicable | flagStore, shift: 1},
	SHM: {name: "shm", format: FmtSTT, flags: flagPredicable | flagStore, shift: 1},
	SBC: {name: "sbc", format: FmtSTT, flags: flagPredicable | flagStore},
	SBS: {name: "sbs", format: FmtSTT, flags: flagPredicable | flagStore},
	SBM: {name: "sbm", format: FmtSTT, flags: flagPredicable | flagStore},

	BR:   {name: "br", format: FmtCFLb, flags: flagBranch | flagPredicable, delay: 2},
	CALL: {name: "call", format: FmtCFLb, flags: flagCall | flagPredicable, delay: 2},
	RET:  {name: "ret", format: FmtCFLi, flags: flagReturn | flagBarrier, delay: 2},

	SRES:  {name: "sres", format: FmtSTC, flags: flagPredicable},
	SENS:  {name: "sens", format: FmtSTC, flags: flagPredicable},
	SFREE: {name: "sfree", format: FmtSTC, flags: flagPredicable},

	ADJCALLSTACKDOWN: {name: "adjdown", format: FmtPseudo},
	ADJCALLSTACKUP:   {name: "adjup", format: FmtPseudo},

	PSPILL:  {name: "pspill", format: FmtPseudo, flags: flagStore},
	PRELOAD: {name: "preload", format: FmtPseudo, flags: flagLoad},

	ASM: {name: "asm", format: FmtOther, flags: flagInlineAsm | flagBarrier},
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, NumOps)

	for op, inf := range ops {
		if inf.name != "" {
			m[inf.name] = Op(op)
		}
	}

	return m
}()

func (o Op) String() string {
	if int(o) < len(ops) && ops[o].name != "" {
		return ops[o].name
	}

	return "op?"
}

func (o Op) Format() Format { return ops[o].format }

func (o Op) IsBranch() bool    { return ops[o].flags&flagBranch != 0 }
func (o Op) IsCall() bool      { return ops[o].flags&flagCall != 0 }
func (o Op) IsReturn() bool    { return ops[o].flags&flagReturn != 0 }
func (o Op) IsBarrier() bool   { return ops[o].flags&flagBarrier != 0 }
func (o Op) IsLoad() bool      { return ops[o].flags&flagLoad != 0 }
func (o Op) IsStore() bool     { return ops[o].flags&flagStore != 0 }
func (o Op) IsMem() bool       { return o.IsLoad() || o.IsStore() }
func (o Op) Predicable() bool  { return ops[o].flags&flagPredicable != 0 }
func (o Op) IsInlineAsm() bool { return ops[o].flags&flagInlineAsm != 0 }

// IsCFL reports whether the instruction transfers control.
func (o Op) IsCFL() bool {
	return o.IsBranch() || o.IsCall() || o.IsReturn()
}

func (o Op) IsTerminator() bool {
	return o.IsBranch() || o.IsReturn()
}

// DelaySlots is the number of cycles after a control flow instruction
// that issue before the transfer takes effect.
func (o Op) DelaySlots() int { return ops[o].delay }

// OffsetShift is the scale applied to memory offsets of this opcode.
func (o Op) OffsetShift() int { return ops[o].shift }

// ImmBits is the width of the immediate field of the format.
func (f Format) ImmBits() int {
	switch f {
	case FmtLDT, FmtSTT:
		return 7
	case FmtALUi:
		return 12
	case FmtSTC, FmtCFLb:
		return 22
	case FmtALUl:
		return 32
	}

	return 0
}

// IssueWidth is the number of issue slots the instruction occupies.
// Long immediates use the second slot for the immediate word.
func (o Op) IssueWidth() int {
	if o.Format() == FmtALUl || o.IsInlineAsm() {
		return 2
	}

	return 1
}

// CanIssueInSlot reports whether the instruction may occupy the given
// slot of a bundle. Memory, stack control and control flow only issue
// in the first slot.
func (o Op) CanIssueInSlot(slot int) bool {
	if slot == 0 {
		return true
	}

	return ops[o].flags&flagSecondSlot != 0
}

// StackCacheOp maps a data cache or main memory access to its stack
// cache counterpart.
func (o Op) StackCacheOp() Op {
	switch o {
	case LWC, LWM:
		return LWS
	case LHC, LHM:
		return LHS
	case LBC, LBM:
		return LBS
	case SWC, SWM:
		return SWS
	case SHC, SHM:
		return SHS
	case SBC, SBM:
		return SBS
	}

	return o
}

// HasDef reports whether the first operand of the instruction defines
// a register.
func (o Op) HasDef() bool {
	if o.IsStore() || o.IsCFL() {
		return false
	}

	switch o {
	case NOP, ASM, SRES, SENS, SFREE, ADJCALLSTACKDOWN, ADJCALLSTACKUP:
		return false
	}

	return true
}

// OpByName resolves a mnemonic, for the textual form.
func OpByName(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}
