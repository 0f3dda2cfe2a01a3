package velo

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

// Block is a basic block of machine instructions.
type Block struct {
	Num  int
	Name string

	Instrs []*Instr

	Succs []*Block
	Preds []*Block

	F *Func
}

func (b *Block) Append(is ...*Instr) {
	b.Instrs = append(b.Instrs, is...)
}

// Insert places is before position at.
func (b *Block) Insert(at int, is ...*Instr) {
	b.Instrs = append(b.Instrs[:at], append(append([]*Instr{}, is...), b.Instrs[at:]...)...)
}

func (b *Block) Remove(at int) *Instr {
	i := b.Instrs[at]
	b.Instrs = append(b.Instrs[:at], b.Instrs[at+1:]...)

	return i
}

// FirstTerminator returns the index of the first terminator
// instruction, or len(b.Instrs) if there is none.
func (b *Block) FirstTerminator() int {
	for j := range b.Instrs {
		if b.Instrs[j].Op.IsTerminator() {
			return j
		}
	}

	return len(b.Instrs)
}

func (b *Block) AddSuccessor(s *Block) {
	b.Succs = append(b.Succs, s)
	s.Preds = append(s.Preds, b)
}

func (b *Block) RemoveSuccessor(s *Block) {
	b.Succs = removeBlock(b.Succs, s)
	s.Preds = removeBlock(s.Preds, b)
}

// TransferSuccessors moves all successors of from onto b.
func (b *Block) TransferSuccessors(from *Block) {
	for len(from.Succs) != 0 {
		s := from.Succs[0]
		from.RemoveSuccessor(s)
		b.AddSuccessor(s)
	}
}

func (b *Block) HasSuccessor(s *Block) bool {
	for _, x := range b.Succs {
		if x == s {
			return true
		}
	}

	return false
}

// Splice moves all instructions of from to the end of b.
func (b *Block) Splice(from *Block) {
	b.Instrs = append(b.Instrs, from.Instrs...)
	from.Instrs = nil
}

func removeBlock(l []*Block, x *Block) []*Block {
	for i, b := range l {
		if b == x {
			return append(l[:i], l[i+1:]...)
		}
	}

	return l
}

func (b *Block) String() string {
	if b == nil {
		return "bb<nil>"
	}
	if b.Name != "" {
		return b.Name
	}

	return fmt.Sprintf("bb%d", b.Num)
}

func (b *Block) TlogAppend(buf []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(buf, b.String())
}
