package singlepath

import (
	"context"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/veloarch/velo/compiler/analysis"
	"github.com/veloarch/velo/compiler/set"
	"github.com/veloarch/velo/compiler/velo"
)

// NumPredBits is the width of the predicate bitmask held in the guard
// register. More predicates than that cannot be represented.
const NumPredBits = 32

type (
	// Edge is a control flow edge a block may be control dependent on.
	// Src == nil is the synthetic entry edge: the block executes
	// whenever the function does.
	Edge struct {
		Src *velo.Block
		Dst *velo.Block
	}

	// PredDef describes the predicate definitions a branching block is
	// responsible for. Taken branches set the True predicates, not
	// taken ones set the False predicates. Cond is the branch guard.
	PredDef struct {
		True  set.Bitmap
		False set.Bitmap
		Cond  velo.Guard
	}

	// Info holds the control dependence decomposition of a function:
	// the predicate id every block executes under and the definition
	// sites of every predicate.
	Info struct {
		F *velo.Func

		CD map[*velo.Block][]Edge

		NumPreds int

		// Use maps a block to the predicate guarding its execution.
		// Predicate 0 is "always".
		Use map[*velo.Block]int

		// Entry holds the predicates whose dependence set contains
		// the entry edge, they start true on function entry.
		Entry set.Bitmap

		Defs map[*velo.Block]*PredDef

		classes [][]Edge
	}
)

var (
	ErrNonBinaryBranch   = errors.New("branch is not a binary condition")
	ErrTooManyPredicates = errors.New("predicate count exceeds bitmask width")
)

// Analyze computes control dependence of f and decomposes it into
// predicates.
func Analyze(ctx context.Context, f *velo.Func, pdom *analysis.DomTree) (in *Info, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "single path analyze", "func", f.Name)
	defer tr.Finish("err", &err)

	in = &Info{
		F:    f,
		Use:  map[*velo.Block]int{},
		Defs: map[*velo.Block]*PredDef{},
	}

	in.CD = controlDependence(f, pdom)

	if tr.If("dump_cd") {
		for _, b := range f.Blocks {
			tr.Printw("control dependence", "block", b, "edges", in.CD[b])
		}
	}

	err = in.decompose()
	if err != nil {
		return nil, errors.Wrap(err, "decompose")
	}

	err = in.collectPredDefs()
	if err != nil {
		return nil, errors.Wrap(err, "pred defs")
	}

	if tr.If("dump_preds") {
		for _, b := range f.Blocks {
			tr.Printw("block predicate", "block", b, "pred", in.Use[b], "defs", in.Defs[b])
		}
	}

	return in, nil
}

// controlDependence marks, for every edge src->dst where dst does not
// postdominate src, all blocks on the postdominator path from dst up
// to the immediate postdominator of src as dependent on that edge.
// The synthetic entry edge is applied along the whole path from the
// entry to the exit.
func controlDependence(f *velo.Func, pdom *analysis.DomTree) map[*velo.Block][]Edge {
	cd := map[*velo.Block][]Edge{}

	add := func(b *velo.Block, e Edge) {
		for _, x := range cd[b] {
			if x == e {
				return
			}
		}

		cd[b] = append(cd[b], e)
	}

	entry := f.Entry()

	for t := entry; t != nil; t = pdom.IDom(t) {
		add(t, Edge{Dst: entry})
	}

	for _, src := range f.Blocks {
		for _, dst := range src.Succs {
			if pdom.Dominates(dst, src) {
				continue
			}

			stop := pdom.IDom(src)

			for t := dst; t != nil && t != stop; t = pdom.IDom(t) {
				add(t, Edge{Src: src, Dst: dst})
			}
		}
	}

	for _, b := range f.Blocks {
		sortEdges(cd[b])
	}

	return cd
}

// decompose groups blocks by set-equal dependence sets, assigning
// predicate ids in layout order. The first class seen is the entry
// class and gets predicate 0.
func (in *Info) decompose() error {
	for _, b := range in.F.Blocks {
		s := in.CD[b]

		id := -1

		for i, c := range in.classes {
			if edgesEqual(c, s) {
				id = i
				break
			}
		}

		if id < 0 {
			id = len(in.classes)
			in.classes = append(in.classes, s)
		}

		in.Use[b] = id
	}

	in.NumPreds = len(in.classes)

	if in.NumPreds > NumPredBits {
		return errors.Wrap(ErrTooManyPredicates, "%v: %d", in.F.Name, in.NumPreds)
	}

	return nil
}

// collectPredDefs records, for every source block of a dependence
// edge, which predicates its branch outcome defines. Predicates with
// the entry edge in their set have no defining branch for it, they
// are collected into the entry set instead.
func (in *Info) collectPredDefs() error {
	for id, c := range in.classes {
		for _, e := range c {
			if e.Src == nil {
				in.Entry.Set(id)
				continue
			}

			tbb, _, cond, err := velo.AnalyzeBranch(e.Src)
			if err != nil {
				return errors.Wrap(err, "%v", e.Src)
			}
			if cond.Always() {
				return errors.Wrap(ErrNonBinaryBranch, "%v", e.Src)
			}

			d := in.Defs[e.Src]
			if d == nil {
				d = &PredDef{Cond: cond}
				in.Defs[e.Src] = d
			}

			if e.Dst == tbb {
				d.True.Set(id)
			} else {
				d.False.Set(id)
			}
		}
	}

	return nil
}

// EdgeSet returns the dependence set decomposed into predicate id.
func (in *Info) EdgeSet(id int) []Edge { return in.classes[id] }

func sortEdges(es []Edge) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].key(), es[j].key()
		return a < b
	})
}

func edgesEqual(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func (e Edge) key() int64 {
	s := int64(-1)
	if e.Src != nil {
		s = int64(e.Src.Num)
	}

	return s<<32 | int64(e.Dst.Num)
}

func (e Edge) TlogAppend(buf []byte) []byte {
	var enc tlwire.Encoder

	src := "entry"
	if e.Src != nil {
		src = e.Src.String()
	}

	buf = enc.AppendMap(buf, 2)
	buf = enc.AppendKeyString(buf, "src", src)
	buf = enc.AppendKeyString(buf, "dst", e.Dst.String())

	return buf
}
