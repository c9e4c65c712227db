package opt

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"gopkg.in/dnaeon/go-priorityqueue.v1"
)

// BranchAndBoundName is the registry name of the built-in exact backend.
const BranchAndBoundName = "bnb"

const bnbTol = 1e-9

// BranchAndBound is a best-first branch and bound over the open columns.
//
// A node fixes the decision for the first depth free columns of a branching
// order (descending initial gain) and records which of them it opened. Its
// bound is the weight it already covers plus the sum of the largest
// remaining marginal gains it could still afford, which never underestimates
// because coverage is submodular.
type BranchAndBound struct{}

func (b *BranchAndBound) Name() string { return BranchAndBoundName }

type bnbNode struct {
	depth  int
	chosen []int32
}

// bnbSearch holds the scratch state of one Solve call.
type bnbSearch struct {
	md      *Model
	order   []int32 // free columns in branching order
	base    []int32 // cover count per row from fixed columns
	counter []int32
	gains   []float64
	nfixed  int
}

func (b *BranchAndBound) Solve(ctx context.Context, md *Model, lim Limits) (Result, error) {
	if md.Budget < 0 {
		return Result{Status: Infeasible}, nil
	}
	s := newBnbSearch(md)

	var deadline time.Time
	if lim.TimeLimit > 0 {
		deadline = time.Now().Add(lim.TimeLimit)
	}

	incumbent := s.greedy()
	best := s.objective(incumbent)

	root := bnbNode{}
	_, rootBound := s.eval(root)
	open := math.Max(rootBound, best)

	nodes := []bnbNode{root}
	pq := priorityqueue.New[int, float64](priorityqueue.MaxHeap)
	if rootBound > best+bnbTol && len(s.order) > 0 && md.Budget > 0 {
		pq.Put(0, rootBound)
	}

	status := Optimal
	withinGap := false
	expanded := 0
	for pq.Len() > 0 {
		if expanded%64 == 0 {
			if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
				status = TimeLimit
				break
			}
		}
		if lim.NodeLimit > 0 && expanded >= lim.NodeLimit {
			status = TimeLimit
			break
		}
		item := pq.Get()
		nd := nodes[item.Value]
		nodes[item.Value] = bnbNode{}
		open = item.Priority
		if open <= best+bnbTol {
			break
		}
		if lim.Gap > 0 && open-best <= lim.Gap*math.Max(math.Abs(best), bnbTol) {
			withinGap = true
			break
		}
		expanded++

		c := s.order[nd.depth]
		next := nd.depth + 1

		if len(nd.chosen) < md.Budget {
			in := bnbNode{depth: next, chosen: append(slices.Clip(nd.chosen), c)}
			obj, bound := s.eval(in)
			if obj > best+bnbTol {
				best = obj
				incumbent = in.chosen
			}
			if bound > best+bnbTol && next < len(s.order) && len(in.chosen) < md.Budget {
				nodes = append(nodes, in)
				pq.Put(len(nodes)-1, bound)
			}
		}

		out := bnbNode{depth: next, chosen: nd.chosen}
		if _, bound := s.eval(out); bound > best+bnbTol && next < len(s.order) {
			nodes = append(nodes, out)
			pq.Put(len(nodes)-1, bound)
		}
	}

	res := Result{Status: status, Objective: best, Bound: best, Open: s.openVector(incumbent)}
	if status == TimeLimit || withinGap {
		res.Bound = math.Max(open, best)
	}
	return res, nil
}

func newBnbSearch(md *Model) *bnbSearch {
	s := &bnbSearch{
		md:      md,
		base:    make([]int32, len(md.Rows)),
		counter: make([]int32, len(md.Rows)),
		gains:   make([]float64, 0, len(md.Cols)),
	}
	for c, f := range md.Fixed {
		if !f {
			continue
		}
		s.nfixed++
		for _, r := range md.Cols[c] {
			s.base[r]++
		}
	}

	gain := make([]float64, len(md.Cols))
	for c := range md.Cols {
		if md.Fixed[c] || len(md.Cols[c]) == 0 {
			continue
		}
		for _, r := range md.Cols[c] {
			if s.base[r] == 0 {
				gain[c] += md.Weight[r]
			}
		}
		if gain[c] > 0 {
			s.order = append(s.order, int32(c))
		}
	}
	slices.SortStableFunc(s.order, func(a, b int32) int {
		return cmp.Compare(gain[b], gain[a])
	})
	return s
}

// eval returns the objective of opening exactly n.chosen on top of the fixed
// columns, and an upper bound over every completion of n.
func (s *bnbSearch) eval(n bnbNode) (objective, bound float64) {
	md := s.md
	copy(s.counter, s.base)
	for _, c := range n.chosen {
		for _, r := range md.Cols[c] {
			s.counter[r]++
		}
	}
	value := 0.0
	for r, k := range s.counter {
		if k > 0 {
			value += md.Weight[r]
		}
	}
	opened := float64(s.nfixed + len(n.chosen))
	objective = value - md.Penalty*opened

	left := md.Budget - len(n.chosen)
	s.gains = s.gains[:0]
	if left > 0 {
		for _, c := range s.order[n.depth:] {
			g := 0.0
			for _, r := range md.Cols[c] {
				if s.counter[r] == 0 {
					g += md.Weight[r]
				}
			}
			if g > 0 {
				s.gains = append(s.gains, g)
			}
		}
	}
	slices.SortFunc(s.gains, func(a, b float64) int { return cmp.Compare(b, a) })
	bound = value
	for k := 0; k < left && k < len(s.gains); k++ {
		bound += s.gains[k]
	}
	// The parsimony term can only grow with more columns.
	bound -= md.Penalty * opened
	return objective, bound
}

func (s *bnbSearch) objective(chosen []int32) float64 {
	obj, _ := s.eval(bnbNode{depth: len(s.order), chosen: chosen})
	return obj
}

// greedy builds the root incumbent: repeatedly open the free column with the
// largest gain while it beats the parsimony penalty.
func (s *bnbSearch) greedy() []int32 {
	md := s.md
	counter := slices.Clone(s.base)
	taken := make([]bool, len(md.Cols))
	var chosen []int32
	for len(chosen) < md.Budget {
		bestC, bestG := int32(-1), md.Penalty+bnbTol
		for _, c := range s.order {
			if taken[c] {
				continue
			}
			g := 0.0
			for _, r := range md.Cols[c] {
				if counter[r] == 0 {
					g += md.Weight[r]
				}
			}
			if g > bestG || (g == bestG && bestC >= 0 && c < bestC) {
				bestC, bestG = c, g
			}
		}
		if bestC < 0 {
			break
		}
		taken[bestC] = true
		chosen = append(chosen, bestC)
		for _, r := range md.Cols[bestC] {
			counter[r]++
		}
	}
	return chosen
}

func (s *bnbSearch) openVector(chosen []int32) []bool {
	open := slices.Clone(s.md.Fixed)
	for _, c := range chosen {
		open[c] = true
	}
	return open
}
