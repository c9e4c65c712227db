package opt

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"sitecover/internal/cover"
)

// ExactOptions configure SolveExact.
type ExactOptions struct {
	// Parsimonious adds ParsimonyPenalty per open site so that, among
	// selections covering the same weight, the smallest one wins.
	Parsimonious bool
	TimeLimit    time.Duration
	Gap          float64
	NodeLimit    int
	Backend      string // registry name; empty selects BranchAndBoundName
	// Parallel > 1 solves that many budgets at once, each on its own model
	// copy and backend instance.
	Parallel int
}

// SolveExact solves the MCLP for every budget in budgets and returns one
// Record per distinct budget. Sites in alreadyOpen are forced open and do
// not count against the budget.
//
// The backend is resolved before anything else so a misconfigured name
// fails without doing work. Time limits are not errors: the Record carries
// Termination TimeLimit and the best bound the backend proved.
func SolveExact(ctx context.Context, m *cover.Mapping, w []float64, budgets []int, alreadyOpen []int, opts ExactOptions) (map[int]Record, error) {
	name := opts.Backend
	if name == "" {
		name = BranchAndBoundName
	}
	backend, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	bs, err := normalizeBudgets(budgets)
	if err != nil {
		return nil, err
	}
	if len(w) != m.N {
		return nil, errors.NotValidf("weights length %d for mapping over %d demand points", len(w), m.N)
	}

	start := time.Now()
	penalty := 0.0
	if opts.Parsimonious {
		penalty = ParsimonyPenalty(w, bs[len(bs)-1])
	}
	md := NewModel(m, w, alreadyOpen, penalty)
	build := time.Since(start)

	lim := Limits{TimeLimit: opts.TimeLimit, Gap: opts.Gap, NodeLimit: opts.NodeLimit}
	out := make(map[int]Record, len(bs))

	// The first budget carries the model build, later ones only the budget
	// row re-application.
	solve := func(ctx context.Context, be Backend, k, b int) (Record, error) {
		t0 := time.Now()
		mb := md.WithBudget(b)
		modeling := time.Since(t0)
		if k == 0 {
			modeling += build
		}
		rec, err := solveBudget(ctx, be, mb, lim)
		rec.ModelingTime = modeling
		return rec, err
	}

	if opts.Parallel <= 1 || len(bs) == 1 {
		for k, b := range bs {
			rec, err := solve(ctx, backend, k, b)
			if err != nil {
				return nil, err
			}
			out[b] = rec
		}
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for k, b := range bs {
		g.Go(func() error {
			be, err := Lookup(name)
			if err != nil {
				return err
			}
			rec, err := solve(gctx, be, k, b)
			if err != nil {
				return err
			}
			mu.Lock()
			out[b] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParsimonyPenalty is the per-site objective penalty for a sweep whose
// largest budget is maxBudget: 1/(maxBudget+1), scaled down by the smallest
// positive weight when that is below 1. At most maxBudget sites are charged,
// so the total penalty stays below one unit of the finest weight and never
// outweighs covering one more demand point. With integer weights this makes
// the penalty a pure tie-break between equal coverage; fractional weights
// whose subset sums differ by less than the smallest weight can still lose
// that difference to it.
func ParsimonyPenalty(w []float64, maxBudget int) float64 {
	scale := 1.0
	for _, v := range w {
		if v > 0 && v < scale {
			scale = v
		}
	}
	return scale / float64(max(maxBudget, 0)+1)
}

func solveBudget(ctx context.Context, be Backend, md *Model, lim Limits) (Record, error) {
	start := time.Now()
	res, err := be.Solve(ctx, md, lim)
	if err != nil {
		return Record{}, errors.Annotatef(err, "solver %s at budget %d", be.Name(), md.Budget)
	}
	rec := Record{
		Budget:      md.Budget,
		Termination: res.Status,
		SolvingTime: time.Since(start),
	}
	if res.Status == Infeasible || len(res.Open) != len(md.Sites) {
		rec.UpperBound = res.Bound
		return rec, nil
	}
	for c, o := range res.Open {
		if o {
			rec.Solution = append(rec.Solution, md.Sites[c])
		}
	}
	rec.Value, _ = md.Evaluate(res.Open)
	// Bound limits the penalized objective; every feasible selection opens
	// at most NumFixed+Budget columns.
	rec.UpperBound = res.Bound + md.Penalty*float64(md.NumFixed()+md.Budget)
	if rec.UpperBound < rec.Value {
		rec.UpperBound = rec.Value
	}
	return rec, nil
}

// normalizeBudgets returns the distinct budgets in ascending order.
func normalizeBudgets(budgets []int) ([]int, error) {
	if len(budgets) == 0 {
		return nil, errors.NotValidf("empty budget list")
	}
	bs := slices.Clone(budgets)
	slices.Sort(bs)
	if bs[0] < 0 {
		return nil, errors.NotValidf("negative budget %d", bs[0])
	}
	return slices.Compact(bs), nil
}
