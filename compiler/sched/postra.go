package sched

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/veloarch/velo/compiler/velo"
)

// IssueWidth is the number of slots issued per cycle.
const IssueWidth = 2

// Options selects the scheduler behavior.
type Options struct {
	// Bundles enables packing into issue bundles. Disabled, the
	// stream is kept as is and only delay slots are padded.
	Bundles bool

	// MinimizeILP inverts the subtree parallelism preference of the
	// issue priority.
	MinimizeILP bool
}

// Run schedules every block of f region by region.
func Run(ctx context.Context, f *velo.Func, opt Options) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "schedule", "func", f.Name, "bundles", opt.Bundles)
	defer tr.Finish("err", &err)

	if !opt.Bundles {
		padDelaySlots(f)
		return nil
	}

	for _, b := range f.Blocks {
		var out []*velo.Instr

		for _, reg := range splitRegions(b.Instrs) {
			out = append(out, scheduleRegion(tr, reg, opt)...)
		}

		b.Instrs = out
	}

	return nil
}

// splitRegions cuts the instruction stream at scheduling boundaries.
// A control flow instruction ends its region and stays inside it, so
// its delay slots can be filled. Inline assembly is a region of its
// own.
func splitRegions(is []*velo.Instr) [][]*velo.Instr {
	var regions [][]*velo.Instr

	start := 0

	for idx, i := range is {
		switch {
		case i.Op.IsInlineAsm():
			if start < idx {
				regions = append(regions, is[start:idx])
			}

			regions = append(regions, is[idx:idx+1])
			start = idx + 1
		case i.Op.IsCFL():
			regions = append(regions, is[start:idx+1])
			start = idx + 1
		}
	}

	if start < len(is) {
		regions = append(regions, is[start:])
	}

	return regions
}

// scheduleRegion runs the bottom up list scheduler over one region
// and rebuilds the instruction sequence with bundle marks and nops.
func scheduleRegion(tr tlog.Span, is []*velo.Instr, opt Options) []*velo.Instr {
	if len(is) < 2 {
		return is
	}

	g := BuildDAG(is)
	dfs := ComputeDFS(g)
	q := NewQueue(g, dfs, opt.MinimizeILP)

	// region end is cycle zero, release against it
	releasePreds(g.Exit, 0)

	var cycles [][]*SUnit

	for cycle := 0; !q.Empty(); cycle++ {
		bundle := selectBundle(q.Available(cycle))

		for _, su := range bundle {
			q.Schedule(su, cycle)
		}

		cycles = append(cycles, bundle)
	}

	out := make([]*velo.Instr, 0, len(is))

	for c := len(cycles) - 1; c >= 0; c-- {
		bundle := cycles[c]

		if len(bundle) == 0 {
			out = append(out, velo.NewInstr(velo.NOP))
			continue
		}

		for slot, su := range bundle {
			su.Instr.Bundled = slot > 0
			out = append(out, su.Instr)
		}
	}

	if tr.If("dump_bundles") {
		for _, i := range out {
			tr.Printw("scheduled", "i", i.String())
		}
	}

	return out
}

// selectBundle fills one issue cycle from the available units, best
// priority first. Double width instructions issue alone. A unit that
// cannot take the next free slot may swap with the first slot
// occupant when both allow it.
func selectBundle(avail []*SUnit) []*SUnit {
	var bundle []*SUnit
	width := 0

	for _, su := range avail {
		w := su.Instr.Op.IssueWidth()

		if width+w > IssueWidth {
			continue
		}

		if w == IssueWidth {
			if len(bundle) != 0 {
				continue
			}

			return []*SUnit{su}
		}

		slot := len(bundle)

		switch {
		case su.Instr.Op.CanIssueInSlot(slot):
			bundle = append(bundle, su)
		case slot == 1 && bundle[0].Instr.Op.CanIssueInSlot(1) && su.Instr.Op.CanIssueInSlot(0):
			bundle = append(bundle, bundle[0])
			bundle[0] = su
		default:
			continue
		}

		width += w

		if width == IssueWidth {
			break
		}
	}

	return bundle
}

// padDelaySlots inserts nops after every control flow instruction, the
// unoptimized way to keep the delayed branches correct.
func padDelaySlots(f *velo.Func) {
	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			d := b.Instrs[idx].Op.DelaySlots()

			for j := 0; j < d; j++ {
				idx++
				b.Insert(idx, velo.NewInstr(velo.NOP))
			}
		}
	}
}
