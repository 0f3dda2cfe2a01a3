package velo

import (
	"github.com/veloarch/velo/compiler/set"
)

type (
	// FrameObject is a slot in the function frame. Fixed objects are
	// incoming arguments addressed relative to the frame top, their
	// Offset is assigned by the caller convention.
	FrameObject struct {
		Size   int
		Align  int
		Offset int

		Fixed bool
		Spill bool
		Dead  bool
	}

	CalleeSavedSlot struct {
		Reg Reg
		FI  int
	}

	// Frame holds the stack layout of a function.
	Frame struct {
		Objects []FrameObject

		FixedObjects int

		HasCalls         bool
		MaxCallFrameSize int

		// StackSize is the shadow stack frame size after assignment.
		StackSize int

		// StackCacheBytes is the reserved stack cache frame size.
		StackCacheBytes int

		// SCFIs holds frame indices assigned to the stack cache.
		SCFIs set.Bitmap

		// SinglePathFIs holds loop counter spill slots created by
		// the single-path preparation.
		SinglePathFIs set.Bitmap

		// CalleeSavedFIs holds spill slots of callee saved registers.
		CalleeSavedFIs set.Bitmap

		// CalleeSaved pairs each saved register with its slot.
		CalleeSaved []CalleeSavedSlot

		// ScavengeFI is the register scavenging slot, or -1.
		ScavengeFI int

		// UseFP is set when frame lowering decided to maintain a
		// frame pointer.
		UseFP bool
	}
)

func NewFrame() Frame {
	return Frame{ScavengeFI: -1}
}

// CreateStackObject allocates a new frame object and returns its index.
func (fr *Frame) CreateStackObject(size, align int, spill bool) int {
	fr.Objects = append(fr.Objects, FrameObject{Size: size, Align: align, Spill: spill})

	return len(fr.Objects) - 1
}

// CreateFixedObject allocates an incoming argument slot at the given
// offset from the frame top.
func (fr *Frame) CreateFixedObject(size, off int) int {
	fr.Objects = append(fr.Objects, FrameObject{Size: size, Align: 4, Offset: off, Fixed: true})
	fr.FixedObjects++

	return len(fr.Objects) - 1
}

func (fr *Frame) IsStackCache(fi int) bool { return fr.SCFIs.IsSet(fi) }

func (fr *Frame) IsSinglePath(fi int) bool { return fr.SinglePathFIs.IsSet(fi) }

func (fr *Frame) IsCalleeSaved(fi int) bool { return fr.CalleeSavedFIs.IsSet(fi) }

func (fr *Frame) HasFP() bool { return fr.UseFP }
