package velo

import (
	"tlog.app/go/errors"
)

var ErrBranchShape = errors.New("unanalyzable branch shape")

// AnalyzeBranch inspects the terminators of b.
//
// It returns the taken target tbb and the not-taken target fbb along
// with the branch guard. fbb == nil means the block falls through (or
// branches unconditionally to tbb). On an unconditional branch or
// fallthrough cond is the always guard.
func AnalyzeBranch(b *Block) (tbb, fbb *Block, cond Guard, err error) {
	cond = AlwaysGuard

	t := b.FirstTerminator()
	term := b.Instrs[t:]

	switch len(term) {
	case 0:
		return nil, nil, cond, nil
	case 1:
		i := term[0]
		if i.Op != BR {
			if i.Op.IsCFL() {
				return nil, nil, cond, nil
			}

			return nil, nil, cond, errors.Wrap(ErrBranchShape, "%v: %v", b, i.Op)
		}

		if i.IsPredicated() {
			// conditional branch, fallthrough to the layout successor
			return i.BranchTarget(), nil, i.Guard, nil
		}

		return i.BranchTarget(), nil, cond, nil
	case 2:
		c, u := term[0], term[1]
		if c.Op != BR || u.Op != BR || !c.IsPredicated() || u.IsPredicated() {
			return nil, nil, cond, errors.Wrap(ErrBranchShape, "%v", b)
		}

		return c.BranchTarget(), u.BranchTarget(), c.Guard, nil
	}

	return nil, nil, cond, errors.Wrap(ErrBranchShape, "%v: %d terminators", b, len(term))
}

// RemoveBranch deletes all branch terminators of b and returns how
// many were removed.
func RemoveBranch(b *Block) int {
	n := 0

	for j := len(b.Instrs) - 1; j >= 0; j-- {
		if b.Instrs[j].Op == BR {
			b.Remove(j)
			n++
		}
	}

	return n
}

// InsertGoto appends an unconditional branch to dst.
func InsertGoto(b, dst *Block) {
	b.Append(NewInstr(BR, BlockOp(dst)))
}
