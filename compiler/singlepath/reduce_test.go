package singlepath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veloarch/velo/compiler/analysis"
	"github.com/veloarch/velo/compiler/velo"
)

func reduce(t *testing.T, src string, bound int) *velo.Func {
	t.Helper()

	f, err := velo.Parse(src)
	require.NoError(t, err)

	pdom, err := analysis.PostDominators(f)
	require.NoError(t, err)

	dom := analysis.Dominators(f)
	li := analysis.FindLoops(f, dom)

	root, err := BuildTree(f, li)
	require.NoError(t, err)

	in, err := Analyze(context.Background(), f, pdom)
	require.NoError(t, err)

	fis := Prepare(context.Background(), f, root)

	err = Reduce(context.Background(), f, in, root, ConstBound(bound), fis)
	require.NoError(t, err)

	return f
}

func TestReduceDiamond(t *testing.T) {
	f := reduce(t, diamond, 100)

	// both arms collapse into a single straight block
	require.Len(t, f.Blocks, 1)

	b := f.Blocks[0]
	require.Empty(t, b.Succs)

	var guarded, branches int

	for _, i := range b.Instrs {
		if i.Op == velo.BR {
			branches++
		}

		if i.Op.IsReturn() {
			require.False(t, i.IsPredicated(), "return must stay unconditional")
		}

		if i.IsPredicated() && i.Op == velo.SUB {
			guarded++
		}
	}

	require.Equal(t, 0, branches)
	require.Equal(t, 2, guarded, "one guarded sub per former arm")
	require.True(t, b.Instrs[len(b.Instrs)-1].Op.IsReturn())

	t.Logf("reduced:\n%v", f.Dump())
}

func TestReduceDiamondGuardUpdates(t *testing.T) {
	f := reduce(t, diamond, 100)

	is := f.Blocks[0].Instrs

	// only the entry class is on the entry edge here
	require.Equal(t, velo.LIi, is[0].Op)
	require.Equal(t, velo.RGuard, is[0].Ops[0].Reg)
	require.EqualValues(t, 1, is[0].Ops[1].Imm)

	var clear, setTrue, setFalse *velo.Instr

	for _, i := range is {
		switch {
		case i.Op == velo.ANDl && i.Ops[0].Reg == velo.RGuard:
			clear = i
		case i.Op == velo.ORl && !i.Guard.Neg:
			setTrue = i
		case i.Op == velo.ORl && i.Guard.Neg:
			setFalse = i
		}
	}

	require.NotNil(t, clear)
	require.NotNil(t, setTrue)
	require.NotNil(t, setFalse)

	// bits 1 and 2 cleared, taken edge sets bit 2, fallthrough bit 1
	require.EqualValues(t, int64(^uint32(6)), clear.Ops[2].Imm)
	require.EqualValues(t, 4, setTrue.Ops[2].Imm)
	require.Equal(t, velo.P1, setTrue.Guard.Reg)
	require.EqualValues(t, 2, setFalse.Ops[2].Imm)
	require.Equal(t, velo.P1, setFalse.Guard.Reg)
}

func TestReduceLoop(t *testing.T) {
	f := reduce(t, loop, 100)

	// preheader merges up, body merges with the trailing block
	require.Len(t, f.Blocks, 3)

	bb0, body, exit := f.Blocks[0], f.Blocks[1], f.Blocks[2]

	require.Equal(t, []*velo.Block{body}, bb0.Succs)
	require.Len(t, body.Succs, 2)
	require.True(t, body.HasSuccessor(body), "loop keeps its backward edge")
	require.True(t, body.HasSuccessor(exit))

	// the header class rides the entry edge, its bit starts true
	require.Equal(t, velo.LIi, bb0.Instrs[0].Op)
	require.Equal(t, velo.RGuard, bb0.Instrs[0].Ops[0].Reg)
	require.EqualValues(t, 3, bb0.Instrs[0].Ops[1].Imm)

	// counter gets the bound in the preheader
	var counter *velo.Instr

	for _, i := range bb0.Instrs {
		if i.Op == velo.LIi && i.Ops[0].Reg == velo.RCounter {
			counter = i
		}
	}

	require.NotNil(t, counter)
	require.EqualValues(t, 100, counter.Ops[1].Imm)

	// exactly one branch remains in the whole function, backward
	var branches []*velo.Instr

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op == velo.BR {
				branches = append(branches, i)
			}
		}
	}

	require.Len(t, branches, 1)
	require.Equal(t, body, branches[0].BranchTarget())
	require.True(t, branches[0].IsPredicated())
	require.Equal(t, velo.PExtract, branches[0].Guard.Reg)

	// every iteration starts clearing the body predicate
	require.Equal(t, velo.ANDl, body.Instrs[0].Op)
	require.False(t, body.Instrs[0].IsPredicated())
	require.EqualValues(t, int64(^uint32(4)), body.Instrs[0].Ops[2].Imm)

	// the rest of the body is predicated except guard plumbing
	for _, i := range body.Instrs[1:] {
		switch i.Op {
		case velo.LIi, velo.BTEST, velo.PAND:
			continue
		}

		require.True(t, i.IsPredicated(), "instr %v", i)
	}

	require.True(t, exit.Instrs[len(exit.Instrs)-1].Op.IsReturn())

	t.Logf("reduced:\n%v", f.Dump())
}

func TestReduceLoopTotality(t *testing.T) {
	f := reduce(t, loop, 100)

	seen := map[velo.Op]int{}
	init := 0

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			seen[i.Op]++

			if i.Op == velo.LIi && i.Ops[0].Reg == velo.R1 {
				init++
			}
		}
	}

	// every original computation survives exactly once
	require.Equal(t, 1, init)
	require.Equal(t, 1, seen[velo.ADDi])
	require.Equal(t, 1, seen[velo.CMPLT])
	require.Equal(t, 1, seen[velo.RET])
}

func TestReduceNestedConjunction(t *testing.T) {
	// sub in bb1 already carries a guard, linearization must conjoin
	src := `
func guarded_arm
bb0:
	cmplt p1, r3, r4
	(p1) br bb2
bb1:
	cmplt p2, r3, r5
	(p2) sub r1, r3, r4
	br bb3
bb2:
	sub r1, r4, r3
bb3:
	ret
`

	f := reduce(t, src, 100)
	require.Len(t, f.Blocks, 1)

	var pand, conj *velo.Instr

	is := f.Blocks[0].Instrs
	for idx, i := range is {
		if i.Op == velo.PAND {
			pand = i
			conj = is[idx+1]
		}
	}

	require.NotNil(t, pand)
	require.Equal(t, velo.PConj, pand.Ops[0].Reg)
	require.Equal(t, velo.SUB, conj.Op)
	require.Equal(t, velo.PConj, conj.Guard.Reg)
}

// a conditional buried one level deeper inside the loop body, the
// guarded add must fire in the first iteration only
const loopNestedIf = `
func gated_add
bb0:
	li r1, 0
bb1:
	cmplt p1, r1, r2
	(p1) br bb2
	br bb6
bb2:
	cmplt p2, r1, r3
	(p2) br bb3
	br bb5
bb3:
	cmplt p3, r6, r7
	(p3) br bb4
	br bb5
bb4:
	addi r5, r5, 10
bb5:
	addi r1, r1, 1
	br bb1
bb6:
	ret
`

const nestedLoops = `
func nest
bb0:
	li r1, 0
bb1:
	cmplt p1, r1, r2
	(p1) br bb2
	br bb6
bb2:
	li r3, 0
bb3:
	cmplt p2, r3, r4
	(p2) br bb4
	br bb5
bb4:
	addi r3, r3, 1
	br bb3
bb5:
	addi r1, r1, 1
	br bb1
bb6:
	ret
`

// machine interprets the small opcode subset the fixtures and the
// reducer output use, enough to compare results before and after the
// transformation.
type machine struct {
	r   map[velo.Reg]int64
	p   map[velo.Reg]bool
	mem map[int]int64
}

func newMachine() *machine {
	return &machine{
		r:   map[velo.Reg]int64{},
		p:   map[velo.Reg]bool{velo.P0: true},
		mem: map[int]int64{},
	}
}

func (m *machine) guard(g velo.Guard) bool { return m.p[g.Reg] != g.Neg }

func (m *machine) pval(o velo.Operand) bool { return m.p[o.Reg] != o.Neg }

func (m *machine) run(t *testing.T, f *velo.Func) {
	t.Helper()

	bi := 0
	steps := 0

	for bi < len(f.Blocks) {
		b := f.Blocks[bi]
		jumped := false

		for _, i := range b.Instrs {
			steps++
			require.Less(t, steps, 100000, "runaway execution")

			if !m.guard(i.Guard) {
				continue
			}

			switch i.Op {
			case velo.LIi, velo.LIl:
				m.r[i.Ops[0].Reg] = i.Ops[1].Imm
			case velo.ADDi:
				m.r[i.Ops[0].Reg] = m.r[i.Ops[1].Reg] + i.Ops[2].Imm
			case velo.SUB:
				m.r[i.Ops[0].Reg] = m.r[i.Ops[1].Reg] - m.r[i.Ops[2].Reg]
			case velo.ANDl:
				m.r[i.Ops[0].Reg] = int64(uint32(m.r[i.Ops[1].Reg]) & uint32(i.Ops[2].Imm))
			case velo.ORl:
				m.r[i.Ops[0].Reg] = int64(uint32(m.r[i.Ops[1].Reg]) | uint32(i.Ops[2].Imm))
			case velo.CMPLT:
				m.p[i.Ops[0].Reg] = m.r[i.Ops[1].Reg] < m.r[i.Ops[2].Reg]
			case velo.BTEST:
				m.p[i.Ops[0].Reg] = uint32(m.r[i.Ops[1].Reg])>>uint(m.r[i.Ops[2].Reg])&1 != 0
			case velo.PAND:
				m.p[i.Ops[0].Reg] = m.pval(i.Ops[1]) && m.pval(i.Ops[2])
			case velo.SWC:
				m.mem[i.Ops[1].FI] = m.r[i.Ops[0].Reg]
			case velo.LWC:
				m.r[i.Ops[0].Reg] = m.mem[i.Ops[1].FI]
			case velo.BR:
				bi = blockIndex(t, f, i.BranchTarget())
				jumped = true
			case velo.RET:
				return
			default:
				t.Fatalf("op %v not interpreted", i.Op)
			}

			if jumped {
				break
			}
		}

		if !jumped {
			bi++
		}
	}
}

func blockIndex(t *testing.T, f *velo.Func, b *velo.Block) int {
	t.Helper()

	for i, x := range f.Blocks {
		if x == b {
			return i
		}
	}

	t.Fatalf("block %v not in layout", b)

	return -1
}

func runFixture(t *testing.T, src string, init map[velo.Reg]int64) *machine {
	t.Helper()

	f, err := velo.Parse(src)
	require.NoError(t, err)

	m := newMachine()
	for r, v := range init {
		m.r[r] = v
	}

	m.run(t, f)

	return m
}

func runReduced(t *testing.T, src string, init map[velo.Reg]int64) *machine {
	t.Helper()

	f := reduce(t, src, 100)

	m := newMachine()
	for r, v := range init {
		m.r[r] = v
	}

	m.run(t, f)

	return m
}

func TestReduceLoopSemantics(t *testing.T) {
	init := map[velo.Reg]int64{velo.R2: 3}

	before := runFixture(t, loop, init)
	require.EqualValues(t, 3, before.r[velo.R1])

	after := runReduced(t, loop, init)
	require.EqualValues(t, 3, after.r[velo.R1], "loop must still count to the limit")
}

func TestReduceLoopSemanticsZeroTrips(t *testing.T) {
	init := map[velo.Reg]int64{velo.R2: 0}

	after := runReduced(t, loop, init)
	require.EqualValues(t, 0, after.r[velo.R1])
}

// A predicate set deep inside the loop body in one iteration must not
// leak into the following ones.
func TestReduceNestedIfSemantics(t *testing.T) {
	init := map[velo.Reg]int64{velo.R2: 3, velo.R3: 1, velo.R6: 0, velo.R7: 1}

	before := runFixture(t, loopNestedIf, init)
	require.EqualValues(t, 10, before.r[velo.R5])
	require.EqualValues(t, 3, before.r[velo.R1])

	after := runReduced(t, loopNestedIf, init)
	require.EqualValues(t, 10, after.r[velo.R5], "gated add must fire once")
	require.EqualValues(t, 3, after.r[velo.R1])
}

func TestReduceNestedIfInit(t *testing.T) {
	f := reduce(t, loopNestedIf, 100)

	// the loop body block starts with an unconditional clear of all
	// member predicates but the header's own
	var body *velo.Block

	for _, b := range f.Blocks {
		if b.HasSuccessor(b) || len(b.Succs) == 2 {
			body = b
			break
		}
	}

	require.NotNil(t, body)
	require.Equal(t, velo.ANDl, body.Instrs[0].Op)
	require.False(t, body.Instrs[0].IsPredicated())
	require.EqualValues(t, int64(^uint32(0b11100)), body.Instrs[0].Ops[2].Imm)
}

func TestReduceNestedLoops(t *testing.T) {
	f := reduce(t, nestedLoops, 100)

	require.Len(t, f.Blocks, 5)

	// the inner preheader saves the outer counter, the restore comes
	// right after the inner backward branch
	var saves, loads []*velo.Instr

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			switch i.Op {
			case velo.SWC:
				saves = append(saves, i)
			case velo.LWC:
				loads = append(loads, i)
			}
		}
	}

	require.Len(t, saves, 1)
	require.Equal(t, velo.RCounter, saves[0].Ops[0].Reg)
	require.Equal(t, velo.OpdFI, saves[0].Ops[1].Kind)
	require.True(t, f.Frame.IsSinglePath(saves[0].Ops[1].FI))

	require.Len(t, loads, 1)
	require.Equal(t, velo.RCounter, loads[0].Ops[0].Reg)
	require.Equal(t, saves[0].Ops[1].FI, loads[0].Ops[1].FI)

	// one backward branch per loop
	var branches int

	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Op == velo.BR {
				branches++
			}
		}
	}

	require.Equal(t, 2, branches)
}

func TestReduceNestedLoopsSemantics(t *testing.T) {
	init := map[velo.Reg]int64{velo.R2: 2, velo.R4: 2}

	before := runFixture(t, nestedLoops, init)
	require.EqualValues(t, 2, before.r[velo.R1])
	require.EqualValues(t, 2, before.r[velo.R3])

	after := runReduced(t, nestedLoops, init)
	require.EqualValues(t, 2, after.r[velo.R1])
	require.EqualValues(t, 2, after.r[velo.R3])
}

// Counter slots appear only when a loop can clobber an enclosing
// loop's counter.
func TestPrepareCounterSlots(t *testing.T) {
	for _, src := range []string{diamond, loop} {
		f, err := velo.Parse(src)
		require.NoError(t, err)

		dom := analysis.Dominators(f)
		li := analysis.FindLoops(f, dom)

		root, err := BuildTree(f, li)
		require.NoError(t, err)

		fis := Prepare(context.Background(), f, root)
		require.Empty(t, fis)
		require.True(t, f.Frame.SinglePathFIs.None())
	}

	f, err := velo.Parse(nestedLoops)
	require.NoError(t, err)

	dom := analysis.Dominators(f)
	li := analysis.FindLoops(f, dom)

	root, err := BuildTree(f, li)
	require.NoError(t, err)

	fis := Prepare(context.Background(), f, root)
	require.Len(t, fis, 1)
	require.True(t, f.Frame.IsSinglePath(fis[0]))
}
