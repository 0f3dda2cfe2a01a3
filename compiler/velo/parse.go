package velo

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

// Parse reads a function in the textual form produced by Func.Dump.
//
// A function starts with a "func name" line followed by labeled
// blocks. CFG edges are reconstructed from branch targets and layout
// fallthrough.
func Parse(src string) (*Func, error) {
	p := parser{
		blocks: map[string]*Block{},
	}

	lines := strings.Split(src, "\n")

	for ln, raw := range lines {
		line := raw

		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		err := p.line(line)
		if err != nil {
			return nil, errors.Wrap(err, "line %d", ln+1)
		}
	}

	if p.f == nil {
		return nil, errors.New("no function")
	}

	err := p.link()
	if err != nil {
		return nil, err
	}

	return p.f, nil
}

type parser struct {
	f      *Func
	b      *Block
	blocks map[string]*Block
}

func (p *parser) line(line string) error {
	if name, ok := strings.CutPrefix(line, "func "); ok {
		if p.f != nil {
			return errors.New("unexpected func")
		}

		p.f = NewFunc(strings.TrimSpace(name))

		return nil
	}

	if p.f == nil {
		return errors.New("expected func")
	}

	if label, ok := strings.CutSuffix(line, ":"); ok {
		b := p.block(label)
		if b.Num >= 0 {
			return errors.New("duplicate label: %v", label)
		}

		b.Num = len(p.f.Blocks)
		p.f.Blocks = append(p.f.Blocks, b)
		p.b = b

		return nil
	}

	if p.b == nil {
		return errors.New("instruction outside of a block")
	}

	return p.instr(line)
}

// block returns the named block, creating a forward reference if
// needed. Blocks enter the layout when their label is seen.
func (p *parser) block(name string) *Block {
	b, ok := p.blocks[name]
	if !ok {
		b = &Block{Num: -1, Name: name, F: p.f}
		p.blocks[name] = b
	}

	return b
}

func (p *parser) instr(line string) error {
	g := AlwaysGuard

	if strings.HasPrefix(line, "(") {
		end := strings.IndexByte(line, ')')
		if end < 0 {
			return errors.New("unterminated guard")
		}

		gs := line[1:end]
		line = strings.TrimSpace(line[end+1:])

		if neg, ok := strings.CutPrefix(gs, "!"); ok {
			gs = neg
			g.Neg = true
		}

		r, err := parseReg(gs)
		if err != nil {
			return errors.Wrap(err, "guard")
		}
		if !r.IsPred() {
			return errors.New("guard %v: not a predicate register", r)
		}

		g.Reg = r
	}

	mnem, rest, _ := strings.Cut(line, " ")

	op, ok := OpByName(mnem)
	if !ok {
		return errors.New("unknown op: %v", mnem)
	}

	var i *Instr

	switch op {
	case CALL:
		i = NewCall(strings.TrimPrefix(strings.TrimSpace(rest), "@"))
	case RET:
		i = NewRet()
	default:
		i = NewInstr(op)

		if rest = strings.TrimSpace(rest); rest != "" {
			for n, tok := range strings.Split(rest, ",") {
				o, err := p.operand(strings.TrimSpace(tok))
				if err != nil {
					return err
				}

				if n == 0 && op.HasDef() {
					o.Def = true
				}

				i.Ops = append(i.Ops, o)
			}
		}
	}

	i.Guard = g

	p.b.Append(i)

	return nil
}

func (p *parser) operand(tok string) (Operand, error) {
	if tok == "" {
		return Operand{}, errors.New("empty operand")
	}

	switch {
	case strings.HasPrefix(tok, "@"):
		return SymOp(tok[1:]), nil
	case strings.HasPrefix(tok, "fi"):
		fi, err := strconv.Atoi(tok[2:])
		if err != nil {
			return Operand{}, errors.Wrap(err, "frame index %v", tok)
		}

		return FIOp(fi), nil
	}

	if t, ok := strings.CutPrefix(tok, "!"); ok {
		r, err := parseReg(t)
		if err != nil {
			return Operand{}, err
		}

		return Ps(r, true), nil
	}

	if r, err := parseReg(tok); err == nil {
		return Rs(r), nil
	}

	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return Imm(v), nil
	}

	// anything else is a block label
	return BlockOp(p.block(tok)), nil
}

func parseReg(s string) (Reg, error) {
	if len(s) < 2 {
		return NoReg, errors.New("bad register: %v", s)
	}

	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return NoReg, errors.New("bad register: %v", s)
	}

	switch {
	case s[0] == 'r' && n < 32:
		return R0 + Reg(n), nil
	case s[0] == 'p' && n < 8:
		return P0 + Reg(n), nil
	}

	return NoReg, errors.New("bad register: %v", s)
}

// link derives CFG edges from terminators and fallthrough.
func (p *parser) link() error {
	for li, b := range p.f.Blocks {
		falls := true

		for _, i := range b.Instrs {
			if i.Op == BR {
				t := i.BranchTarget()
				if t == nil {
					return errors.New("%v: branch without target", b)
				}

				if !b.HasSuccessor(t) {
					b.AddSuccessor(t)
				}

				if !i.IsPredicated() {
					falls = false
				}
			} else if i.Op.IsBarrier() {
				falls = false
			}
		}

		if falls && li+1 < len(p.f.Blocks) {
			next := p.f.Blocks[li+1]
			if !b.HasSuccessor(next) {
				b.AddSuccessor(next)
			}
		}
	}

	for name, b := range p.blocks {
		if b.Num < 0 {
			return errors.New("undefined label: %v", name)
		}
	}

	p.f.RenumberBlocks()

	return nil
}
