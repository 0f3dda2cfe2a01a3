// Package sched is the post allocation bundling scheduler. It packs
// independent instructions of a scheduling region into two slot issue
// bundles, fills branch delay slots and pads the rest with nops.
package sched

import (
	"github.com/veloarch/velo/compiler/velo"
)

type (
	DepKind uint8

	// Dep is a precedence edge between scheduling units.
	Dep struct {
		Unit    *SUnit
		Kind    DepKind
		Latency int

		// Artificial edges order units without a data reason,
		// the delay slot edge to the exit is one.
		Artificial bool
	}

	// SUnit is one instruction in the region dependency graph. The
	// virtual exit unit has no instruction.
	SUnit struct {
		Index int
		Instr *velo.Instr

		Preds []Dep
		Succs []Dep

		// ScheduleLow units are picked as early as the bottom up
		// order allows, the region branch lands delay slots
		// before the region end this way.
		ScheduleLow bool

		Scheduled bool

		// EarliestCycle is the first cycle the unit may issue in,
		// counted bottom up from the region end.
		EarliestCycle int

		succsLeft int
	}

	DAG struct {
		Units []*SUnit
		Exit  *SUnit
	}
)

const (
	DepData DepKind = iota
	DepAnti
	DepOutput
	DepOrder
)

func addDep(from, to *SUnit, k DepKind, lat int, artificial bool) {
	for _, d := range from.Succs {
		if d.Unit == to && d.Kind == k {
			return
		}
	}

	from.Succs = append(from.Succs, Dep{Unit: to, Kind: k, Latency: lat, Artificial: artificial})
	to.Preds = append(to.Preds, Dep{Unit: from, Kind: k, Latency: lat, Artificial: artificial})
}

// useLatency is the cycles between an instruction and a consumer of
// its result. Loads have an extra use cycle.
func useLatency(op velo.Op) int {
	if op.IsLoad() {
		return 2
	}

	return 1
}

// BuildDAG builds the dependency graph of one scheduling region, the
// instructions is[0:n] where the last one may be the region exit
// control flow instruction.
func BuildDAG(is []*velo.Instr) *DAG {
	d := &DAG{
		Exit: &SUnit{Index: len(is)},
	}

	// a register can have several live defs under disjoint guards
	lastDefs := map[velo.Reg][]*SUnit{}
	lastUses := map[velo.Reg][]*SUnit{}

	var lastStore *SUnit
	var loadsSince []*SUnit

	for idx, i := range is {
		su := &SUnit{Index: idx, Instr: i}
		d.Units = append(d.Units, su)

		regDep := func(r velo.Reg) {
			for _, def := range lastDefs[r] {
				if !disjointGuards(def.Instr, i) {
					addDep(def, su, DepData, useLatency(def.Instr.Op), false)
				}
			}
		}

		// guard register is read too
		if i.IsPredicated() {
			regDep(i.Guard.Reg)
			lastUses[i.Guard.Reg] = append(lastUses[i.Guard.Reg], su)
		}

		i.Uses(func(o *velo.Operand) {
			regDep(o.Reg)
			lastUses[o.Reg] = append(lastUses[o.Reg], su)
		})

		i.Defs(func(o *velo.Operand) {
			for _, u := range lastUses[o.Reg] {
				if u != su && !disjointGuards(u.Instr, i) {
					addDep(u, su, DepAnti, 0, false)
				}
			}

			for _, def := range lastDefs[o.Reg] {
				if def != su && !disjointGuards(def.Instr, i) {
					addDep(def, su, DepOutput, 1, false)
				}
			}

			if i.IsPredicated() {
				lastDefs[o.Reg] = append(lastDefs[o.Reg], su)
			} else {
				lastDefs[o.Reg] = lastDefs[o.Reg][:0]
				lastDefs[o.Reg] = append(lastDefs[o.Reg], su)
			}

			lastUses[o.Reg] = nil
		})

		switch {
		case i.Op.IsStore():
			if lastStore != nil {
				addDep(lastStore, su, DepOrder, 1, false)
			}

			for _, l := range loadsSince {
				addDep(l, su, DepOrder, 1, false)
			}

			lastStore = su
			loadsSince = nil
		case i.Op.IsLoad():
			if lastStore != nil {
				addDep(lastStore, su, DepOrder, 1, false)
			}

			loadsSince = append(loadsSince, su)
		case i.Op.IsBarrier() || i.Op.IsCall():
			// calls and barriers order all memory accesses
			if lastStore != nil {
				addDep(lastStore, su, DepOrder, 1, false)
			}

			for _, l := range loadsSince {
				addDep(l, su, DepOrder, 1, false)
			}

			lastStore = su
			loadsSince = nil
		}
	}

	if n := len(d.Units); n != 0 {
		exitInstr := d.Units[n-1]

		if exitInstr.Instr.Op.IsCFL() {
			exitInstr.ScheduleLow = true

			removeImplicitCFLDeps(d, exitInstr)

			// the branch issues delay slots before the region end
			addDep(exitInstr, d.Exit, DepOrder, exitInstr.Instr.Op.DelaySlots(), true)
		}
	}

	// single sink: everything without successors feeds the exit
	for _, su := range d.Units {
		if len(su.Succs) == 0 {
			addDep(su, d.Exit, DepOrder, 0, true)
		}

		su.succsLeft = len(su.Succs)
	}

	return d
}

// removeImplicitCFLDeps prunes edges into the region exit instruction
// that exist only because of implicit convention operands, so truly
// independent instructions may fill its delay slots. The pruned units
// are re-attached to the virtual exit instead, with the delay slots
// respected.
func removeImplicitCFLDeps(g *DAG, exit *SUnit) {
	delay := exit.Instr.Op.DelaySlots()

	keep := exit.Preds[:0]

	for _, d := range exit.Preds {
		if d.Kind == DepData && onlyImplicitUse(exit.Instr, d.Unit) {
			dropSucc(d.Unit, exit)

			// result must still be ready when control leaves
			addDep(d.Unit, g.Exit, DepOrder, delay+1, true)

			continue
		}

		keep = append(keep, d)
	}

	exit.Preds = keep
}

// onlyImplicitUse reports whether every use the exit instruction makes
// of the unit's defined registers is an implicit convention operand.
func onlyImplicitUse(exit *velo.Instr, def *SUnit) bool {
	only := true

	def.Instr.Defs(func(o *velo.Operand) {
		if u := exit.FindUse(o.Reg); u != nil && !u.Implicit {
			only = false
		}
	})

	return only
}

// disjointGuards reports whether two instructions can never execute
// together, being guarded by opposite values of one predicate.
func disjointGuards(a, b *velo.Instr) bool {
	return a.Guard.Reg == b.Guard.Reg && a.Guard.Reg != velo.P0 && a.Guard.Neg != b.Guard.Neg
}

func dropSucc(from, to *SUnit) {
	keep := from.Succs[:0]

	for _, d := range from.Succs {
		if d.Unit != to {
			keep = append(keep, d)
		}
	}

	from.Succs = keep
}
