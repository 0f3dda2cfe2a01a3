package sched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veloarch/velo/compiler/velo"
)

func add(rd, rs1, rs2 velo.Reg) *velo.Instr {
	return velo.NewInstr(velo.ADD, velo.Rd(rd), velo.Rs(rs1), velo.Rs(rs2))
}

func run(t *testing.T, b *velo.Block, bundles bool) []*velo.Instr {
	t.Helper()

	err := Run(context.Background(), b.F, Options{Bundles: bundles})
	require.NoError(t, err)

	for _, i := range b.Instrs {
		t.Logf("%v", i)
	}

	return b.Instrs
}

func TestDelaySlotFill(t *testing.T) {
	f := velo.NewFunc("fill")
	b := f.NewBlock("bb0")

	b.Append(
		add(velo.R5, velo.R3, velo.R4),
		add(velo.R6, velo.R3, velo.R4),
		add(velo.R7, velo.R3, velo.R4),
		add(velo.R8, velo.R3, velo.R4),
		velo.NewRet(),
	)

	out := run(t, b, true)

	// the return issues first, independent work fills its delay slots
	require.Len(t, out, 5)
	require.Equal(t, velo.RET, out[0].Op)

	for _, i := range out {
		require.NotEqual(t, velo.NOP, i.Op)
	}

	require.False(t, out[1].Bundled)
	require.True(t, out[2].Bundled)
	require.False(t, out[3].Bundled)
	require.True(t, out[4].Bundled)
}

func TestReturnValueLatency(t *testing.T) {
	f := velo.NewFunc("retval")
	b := f.NewBlock("bb0")

	b.Append(
		add(velo.R1, velo.R3, velo.R4),
		velo.NewRet(),
	)

	out := run(t, b, true)

	// the return value is computed before control leaves, the empty
	// delay slots are padded
	require.Equal(t, velo.ADD, out[0].Op)
	require.Equal(t, velo.RET, out[1].Op)
	require.Equal(t, velo.NOP, out[2].Op)
	require.Equal(t, velo.NOP, out[3].Op)
}

func TestLoadUseLatency(t *testing.T) {
	f := velo.NewFunc("loaduse")
	b := f.NewBlock("bb0")

	b.Append(
		velo.NewInstr(velo.LWC, velo.Rd(velo.R1), velo.Rs(velo.RSP), velo.Imm(0)),
		add(velo.R2, velo.R1, velo.R1),
		velo.NewInstr(velo.RET),
	)

	out := run(t, b, true)

	// the consumer lands two cycles after the load
	require.Equal(t, velo.LWC, out[0].Op)
	require.Equal(t, velo.RET, out[1].Op)
	require.Equal(t, velo.NOP, out[2].Op)
	require.Equal(t, velo.ADD, out[3].Op)
}

func TestWideIssuesAlone(t *testing.T) {
	f := velo.NewFunc("wide")
	b := f.NewBlock("bb0")

	b.Append(
		velo.NewInstr(velo.LIl, velo.Rd(velo.R1), velo.Imm(1<<20)),
		add(velo.R2, velo.R3, velo.R4),
		add(velo.R5, velo.R3, velo.R4),
		velo.NewInstr(velo.RET),
	)

	out := run(t, b, true)

	require.Equal(t, velo.RET, out[0].Op)
	require.Equal(t, velo.LIl, out[1].Op)
	require.False(t, out[1].Bundled)
	require.False(t, out[2].Bundled, "nothing may share a cycle with a long immediate")
	require.True(t, out[3].Bundled)
}

func TestBundleWidth(t *testing.T) {
	f := velo.NewFunc("width")
	b := f.NewBlock("bb0")

	for r := velo.R1; r <= velo.R12; r++ {
		b.Append(add(r, velo.R20, velo.R20))
	}

	b.Append(velo.NewInstr(velo.RET))

	out := run(t, b, true)

	width := 1

	for idx := 1; idx < len(out); idx++ {
		if out[idx].Bundled {
			width++
			require.LessOrEqual(t, width, IssueWidth, "at %d", idx)

			continue
		}

		width = 1
	}
}

func TestInlineAsmRegion(t *testing.T) {
	f := velo.NewFunc("withasm")
	b := f.NewBlock("bb0")

	asm := velo.NewInstr(velo.ASM, velo.SymOp("mfs $r1 = $s0"))

	b.Append(
		add(velo.R2, velo.R3, velo.R4),
		asm,
		add(velo.R5, velo.R3, velo.R4),
		velo.NewInstr(velo.RET),
	)

	out := run(t, b, true)

	require.Equal(t, velo.ADD, out[0].Op)
	require.Same(t, asm, out[1])
	require.False(t, out[1].Bundled)
	require.False(t, out[2].Bundled, "inline assembly never shares a bundle")
}

func TestStoreLoadOrder(t *testing.T) {
	f := velo.NewFunc("memorder")
	b := f.NewBlock("bb0")

	st := velo.NewInstr(velo.SWC, velo.Rs(velo.R1), velo.Rs(velo.RSP), velo.Imm(0))
	ld := velo.NewInstr(velo.LWC, velo.Rd(velo.R2), velo.Rs(velo.RSP), velo.Imm(0))

	b.Append(st, ld, velo.NewInstr(velo.RET))

	out := run(t, b, true)

	si, li := -1, -1
	for idx, i := range out {
		switch i {
		case st:
			si = idx
		case ld:
			li = idx
		}
	}

	require.NotEqual(t, -1, si)
	require.NotEqual(t, -1, li)
	require.Less(t, si, li, "store stays before the aliasing load")
}

func TestDisjointGuardsOverlap(t *testing.T) {
	f := velo.NewFunc("disjoint")
	b := f.NewBlock("bb0")

	g := velo.Guard{Reg: velo.P1}

	b.Append(
		velo.NewGuarded(g, velo.ADD, velo.Rd(velo.R1), velo.Rs(velo.R3), velo.Rs(velo.R4)),
		velo.NewGuarded(g.Reverse(), velo.SUB, velo.Rd(velo.R1), velo.Rs(velo.R4), velo.Rs(velo.R3)),
		velo.NewInstr(velo.RET),
	)

	out := run(t, b, true)

	// opposite guards on the same destination are independent and may
	// share a bundle
	require.Len(t, out, 4)
	require.Equal(t, velo.RET, out[0].Op)
	require.Equal(t, velo.NOP, out[1].Op)
	require.False(t, out[2].Bundled)
	require.True(t, out[3].Bundled)
}

func TestNoBundling(t *testing.T) {
	f := velo.NewFunc("nobundle")
	b := f.NewBlock("bb0")

	tgt := f.NewBlock("bb1")
	tgt.Append(velo.NewInstr(velo.RET))

	b.Append(
		add(velo.R1, velo.R3, velo.R4),
		velo.NewInstr(velo.BR, velo.BlockOp(tgt)),
	)
	b.AddSuccessor(tgt)

	out := run(t, b, false)

	require.Equal(t, velo.ADD, out[0].Op)
	require.Equal(t, velo.BR, out[1].Op)
	require.Equal(t, velo.NOP, out[2].Op)
	require.Equal(t, velo.NOP, out[3].Op)
	require.Equal(t, velo.NOP, tgt.Instrs[1].Op)
	require.Equal(t, velo.NOP, tgt.Instrs[2].Op)
}

func TestQueueILPPreference(t *testing.T) {
	// two independent subtrees, one wide and one a serial chain
	is := []*velo.Instr{
		add(velo.R4, velo.R1, velo.R2),
		add(velo.R5, velo.R1, velo.R2),
		add(velo.R6, velo.R4, velo.R5),
		add(velo.R7, velo.R1, velo.R2),
		add(velo.R8, velo.R7, velo.R7),
		add(velo.R9, velo.R8, velo.R8),
	}

	g := BuildDAG(is)
	dfs := ComputeDFS(g)

	wide := dfs.SubtreeID(g.Units[2])
	chain := dfs.SubtreeID(g.Units[5])
	require.NotEqual(t, wide, chain)
	require.True(t, dfs.ILP(wide).Greater(dfs.ILP(chain)))

	q := NewQueue(g, dfs, false)
	releasePreds(g.Exit, 0)

	avail := q.Available(0)
	require.Len(t, avail, 2)
	require.Same(t, g.Units[2], avail[0], "the wide subtree issues first by default")

	g = BuildDAG(is)
	dfs = ComputeDFS(g)
	q = NewQueue(g, dfs, true)
	releasePreds(g.Exit, 0)

	avail = q.Available(0)
	require.Len(t, avail, 2)
	require.Same(t, g.Units[5], avail[0], "minimizing prefers the serial chain")
}
