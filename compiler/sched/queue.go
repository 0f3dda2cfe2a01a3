package sched

import (
	"sort"
)

// Queue tracks unscheduled units of a region during the bottom up
// walk. A unit is pending until all its successors are scheduled and
// its earliest cycle is reached, then it becomes available.
type Queue struct {
	dfs *DFSResult

	minILP bool

	pending []*SUnit
}

func NewQueue(g *DAG, dfs *DFSResult, minILP bool) *Queue {
	q := &Queue{dfs: dfs, minILP: minILP}

	q.pending = append(q.pending, g.Units...)

	return q
}

func (q *Queue) Empty() bool { return len(q.pending) == 0 }

// Available returns the units ready to issue at the given cycle, best
// priority first.
func (q *Queue) Available(cycle int) []*SUnit {
	var avail []*SUnit

	for _, su := range q.pending {
		if su.succsLeft == 0 && su.EarliestCycle <= cycle {
			avail = append(avail, su)
		}
	}

	sort.SliceStable(avail, func(i, j int) bool {
		return q.better(avail[i], avail[j])
	})

	return avail
}

// better is the issue priority. The region control flow instruction
// goes first so it lands in front of its delay slots, then units of
// outer subtrees, then subtrees still in flight, then higher ILP,
// lower when minimizing. Ties keep the original program order,
// bottom up.
func (q *Queue) better(a, b *SUnit) bool {
	if a.ScheduleLow != b.ScheduleLow {
		return a.ScheduleLow
	}

	ta, tb := q.dfs.SubtreeID(a), q.dfs.SubtreeID(b)

	if ta != tb {
		la, lb := q.dfs.SubtreeLevel(ta), q.dfs.SubtreeLevel(tb)
		if la != lb {
			return la < lb
		}

		fa, fb := q.dfs.FullyScheduled(ta), q.dfs.FullyScheduled(tb)
		if fa != fb {
			return !fa
		}

		if ia, ib := q.dfs.ILP(ta), q.dfs.ILP(tb); ia != ib {
			if q.minILP {
				return ib.Greater(ia)
			}

			return ia.Greater(ib)
		}
	}

	return a.Index > b.Index
}

// Schedule commits a unit at the given cycle and releases its
// predecessors.
func (q *Queue) Schedule(su *SUnit, cycle int) {
	su.Scheduled = true
	q.dfs.MarkScheduled(su)

	for i, x := range q.pending {
		if x == su {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}

	releasePreds(su, cycle)
}

func releasePreds(su *SUnit, cycle int) {
	for _, d := range su.Preds {
		p := d.Unit
		p.succsLeft--

		if c := cycle + d.Latency; c > p.EarliestCycle {
			p.EarliestCycle = c
		}
	}
}
