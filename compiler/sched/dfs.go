package sched

type (
	// ILPValue is the parallelism estimate of a dependency subtree:
	// instruction count over critical path length.
	ILPValue struct {
		InstrCount int
		Length     int
	}

	// DFSResult partitions the region DAG into dependency subtrees of
	// bounded size with a connection level per subtree, outer trees
	// have a lower level.
	DFSResult struct {
		tree []int // unit index -> subtree

		level []int
		ilp   []ILPValue
		size  []int

		scheduled []int // units scheduled so far, per subtree
	}
)

// subtreeLimit bounds how many instructions join one subtree.
const subtreeLimit = 8

// Greater compares ILP values by cross multiplication, avoiding the
// division.
func (a ILPValue) Greater(b ILPValue) bool {
	al, bl := a.Length, b.Length
	if al == 0 {
		al = 1
	}
	if bl == 0 {
		bl = 1
	}

	return a.InstrCount*bl > b.InstrCount*al
}

// ComputeDFS groups units into subtrees by joining each unit with the
// subtree of a data predecessor while that subtree is small, then
// computes per-tree ILP and connection levels.
func ComputeDFS(g *DAG) *DFSResult {
	n := len(g.Units)

	parent := make([]int, n)
	size := make([]int, n)

	for i := range parent {
		parent[i] = i
		size[i] = 1
	}

	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}

		return x
	}

	// units come in program order, predecessors are already placed
	for _, su := range g.Units {
		for _, d := range su.Preds {
			if d.Kind != DepData {
				continue
			}

			r := find(d.Unit.Index)

			if r != find(su.Index) && size[r] < subtreeLimit {
				size[r] += size[find(su.Index)]
				parent[find(su.Index)] = r
			}
		}
	}

	res := &DFSResult{
		tree: make([]int, n),
	}

	compact := map[int]int{}

	for i := range g.Units {
		r := find(i)

		id, ok := compact[r]
		if !ok {
			id = len(compact)
			compact[r] = id

			res.level = append(res.level, 0)
			res.ilp = append(res.ilp, ILPValue{})
			res.size = append(res.size, 0)
			res.scheduled = append(res.scheduled, 0)
		}

		res.tree[i] = id
		res.size[id]++
	}

	// critical path per tree and levels over cross tree edges
	depth := make([]int, n)

	for i, su := range g.Units {
		t := res.tree[i]

		for _, d := range su.Preds {
			p := d.Unit.Index

			if res.tree[p] == t {
				if x := depth[p] + 1; x > depth[i] {
					depth[i] = x
				}
			} else if x := res.level[res.tree[p]] + 1; x > res.level[t] {
				res.level[t] = x
			}
		}

		if depth[i]+1 > res.ilp[t].Length {
			res.ilp[t].Length = depth[i] + 1
		}

		res.ilp[t].InstrCount = res.size[t]
	}

	return res
}

func (r *DFSResult) SubtreeID(su *SUnit) int { return r.tree[su.Index] }

func (r *DFSResult) SubtreeLevel(t int) int { return r.level[t] }

func (r *DFSResult) ILP(t int) ILPValue { return r.ilp[t] }

// MarkScheduled counts a unit against its subtree.
func (r *DFSResult) MarkScheduled(su *SUnit) { r.scheduled[r.tree[su.Index]]++ }

// FullyScheduled reports whether the subtree has no unscheduled units
// left beyond the one under comparison.
func (r *DFSResult) FullyScheduled(t int) bool {
	return r.scheduled[t] >= r.size[t]
}
