// Package frame lowers symbolic stack frame references: it partitions
// frame objects between the stack cache and the shadow stack, emits
// prologue and epilogue code, and rewrites frame indices into real
// base register plus offset addressing.
package frame

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

var ErrCacheCapacity = errors.New("stack cache capacity exceeded")

// Assign partitions all frame objects of f. Eligible objects go to
// the stack cache greedily in index order while the block-rounded
// footprint still fits capacity, everything else goes to the shadow
// stack. Fixed objects are re-biased by the final shadow frame size.
func Assign(ctx context.Context, f *velo.Func, cacheSize, blockSize int) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "assign frame objects", "func", f.Name)
	defer tr.Finish("err", &err)

	fr := &f.Frame

	scOff := 0
	ssOff := fr.MaxCallFrameSize // outgoing call frames sit at the stack bottom

	for fi := range fr.Objects {
		o := &fr.Objects[fi]

		if o.Fixed || o.Dead {
			continue
		}

		if cacheEligible(fr, fi) && cacheSize > 0 {
			off := align(scOff, o.Align)

			if align(off+o.Size, blockSize) <= cacheSize {
				fr.SCFIs.Set(fi)
				o.Offset = off
				scOff = off + o.Size

				tr.V("objects").Printw("stack cache object", "fi", fi, "off", off, "size", o.Size)

				continue
			}

			if fr.IsSinglePath(fi) {
				return errors.Wrap(ErrCacheCapacity, "%v: guard spill slot fi%d", f.Name, fi)
			}
		}

		off := align(ssOff, o.Align)
		o.Offset = off
		ssOff = off + o.Size

		tr.V("objects").Printw("shadow stack object", "fi", fi, "off", off, "size", o.Size)
	}

	fr.StackCacheBytes = align(scOff, blockSize)
	fr.StackSize = align(ssOff, 8)

	for fi := range fr.Objects {
		o := &fr.Objects[fi]

		if o.Fixed {
			o.Offset += fr.StackSize
		}
	}

	tr.Printw("frame assigned",
		"cache_bytes", fr.StackCacheBytes,
		"stack_size", fr.StackSize,
		"cached", fr.SCFIs.Size())

	return nil
}

// cacheEligible reports whether the object may live in the stack
// cache. Callee saved, spill, scavenging and guard spill slots
// qualify by construction.
func cacheEligible(fr *velo.Frame, fi int) bool {
	return fr.IsCalleeSaved(fi) ||
		fr.IsSinglePath(fi) ||
		fi == fr.ScavengeFI ||
		fr.Objects[fi].Spill
}

func align(v, a int) int {
	if a <= 1 {
		return v
	}

	return (v + a - 1) &^ (a - 1)
}
