package velo

// Func is a machine function: a list of basic blocks in layout order
// plus the frame of the function.
type Func struct {
	Name string

	Blocks []*Block

	Frame Frame
}

func NewFunc(name string) *Func {
	return &Func{Name: name, Frame: NewFrame()}
}

func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}

	return f.Blocks[0]
}

func (f *Func) NewBlock(name string) *Block {
	b := &Block{Num: len(f.Blocks), Name: name, F: f}
	f.Blocks = append(f.Blocks, b)

	return b
}

// RemoveBlock unlinks b from the layout. CFG edges are not touched.
func (f *Func) RemoveBlock(b *Block) {
	f.Blocks = removeBlock(f.Blocks, b)
}

// MoveAfter places b directly after pos in layout order.
func (f *Func) MoveAfter(b, pos *Block) {
	f.Blocks = removeBlock(f.Blocks, b)

	for i, x := range f.Blocks {
		if x == pos {
			f.Blocks = append(f.Blocks[:i+1], append([]*Block{b}, f.Blocks[i+1:]...)...)
			return
		}
	}

	f.Blocks = append(f.Blocks, b)
}

// RenumberBlocks reassigns Num to match layout order.
func (f *Func) RenumberBlocks() {
	for i, b := range f.Blocks {
		b.Num = i
	}
}

// LayoutIndex returns the position of b in layout order, or -1.
func (f *Func) LayoutIndex(b *Block) int {
	for i, x := range f.Blocks {
		if x == b {
			return i
		}
	}

	return -1
}

// NextBlock returns the layout successor of b, or nil.
func (f *Func) NextBlock(b *Block) *Block {
	i := f.LayoutIndex(b)
	if i < 0 || i+1 >= len(f.Blocks) {
		return nil
	}

	return f.Blocks[i+1]
}
