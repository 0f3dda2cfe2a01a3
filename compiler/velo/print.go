package velo

import (
	"fmt"
	"strings"
)

func (o Operand) String() string {
	switch o.Kind {
	case OpdReg:
		if o.Neg {
			return "!" + o.Reg.String()
		}

		return o.Reg.String()
	case OpdImm:
		return fmt.Sprintf("%d", o.Imm)
	case OpdFI:
		return fmt.Sprintf("fi%d", o.FI)
	case OpdBlock:
		return o.Block.String()
	case OpdSym:
		return "@" + o.Sym
	}

	return "?"
}

func (g Guard) String() string {
	if g.Neg {
		return "(!" + g.Reg.String() + ")"
	}

	return "(" + g.Reg.String() + ")"
}

func (i *Instr) String() string {
	var b strings.Builder

	if i.Bundled {
		b.WriteString("| ")
	}

	if i.IsPredicated() {
		b.WriteString(i.Guard.String())
		b.WriteByte(' ')
	}

	b.WriteString(i.Op.String())

	sep := " "

	for _, o := range i.Ops {
		if o.Implicit {
			continue
		}

		b.WriteString(sep)
		b.WriteString(o.String())
		sep = ", "
	}

	return b.String()
}

// Dump renders the function in its textual form.
func (f *Func) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "func %s\n", f.Name)

	for _, bb := range f.Blocks {
		fmt.Fprintf(&b, "%s:", bb)

		if len(bb.Succs) != 0 {
			b.WriteString(" ; succs:")

			for _, s := range bb.Succs {
				fmt.Fprintf(&b, " %s", s)
			}
		}

		b.WriteByte('\n')

		for _, i := range bb.Instrs {
			fmt.Fprintf(&b, "\t%s\n", i)
		}
	}

	return b.String()
}
