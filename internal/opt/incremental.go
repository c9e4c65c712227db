package opt

import (
	"context"
	"slices"

	"github.com/juju/errors"

	"sitecover/internal/cover"
)

// Step is one row of an incremental build plan: the sites to open on top of
// the existing network when budget new sites are affordable.
type Step struct {
	Budget     int
	Solution   []int     // new sites, in opening order
	Increments []float64 // weight each of them adds
	Served     int       // demand points served by existing and new sites
	Coverage   float64   // fraction of total weight served
}

// Table is the result of Incremental.
type Table struct {
	CoveredExisting float64 // fraction of total weight served before any new site
	Exact           Record  // optimum for the largest budget
	Steps           []Step  // budgets 0..maxAdditional
}

// Incremental turns one exact optimum into an ordered rollout. It solves
// the coverage left over by existing sites exactly for maxAdditional new
// sites, then runs Greedy restricted to the optimal sites so each
// intermediate budget opens a prefix of that optimum in the order that
// adds the most weight first.
func Incremental(ctx context.Context, existing, candidates map[int][]int, population []float64, maxAdditional int, opts ExactOptions) (*Table, error) {
	if maxAdditional < 0 {
		return nil, errors.NotValidf("max additional sites %d", maxAdditional)
	}
	covered := cover.CoveredBy(existing, cover.AllSites(existing))

	m, err := cover.Build(candidates, population, covered)
	if err != nil {
		return nil, errors.Annotate(err, "candidate coverage")
	}
	if err := cover.Check(m, population, false); err != nil {
		return nil, err
	}

	exact, err := SolveExact(ctx, m, population, []int{maxAdditional}, nil, opts)
	if err != nil {
		return nil, err
	}
	best := exact[maxAdditional]

	budgets := make([]int, maxAdditional+1)
	for b := range budgets {
		budgets[b] = b
	}
	plan := Greedy(m.Restrict(best.Solution), population, budgets)

	t := &Table{
		CoveredExisting: cover.Fraction(population, covered),
		Exact:           best,
		Steps:           make([]Step, 0, len(budgets)),
	}
	for _, b := range budgets {
		rec := plan[b]
		served := append(slices.Clone(covered), cover.CoveredBy(candidates, rec.Solution)...)
		slices.Sort(served)
		served = slices.Compact(served)
		t.Steps = append(t.Steps, Step{
			Budget:     b,
			Solution:   rec.Solution,
			Increments: rec.Increments,
			Served:     len(served),
			Coverage:   cover.Fraction(population, served),
		})
	}
	return t, nil
}

// Scenario is one accessibility variant evaluated by IncrementalSweep, for
// example a different travel-distance threshold.
type Scenario struct {
	Name       string
	Existing   map[int][]int
	Candidates map[int][]int
}

// IncrementalSweep runs Incremental for each scenario. Every scenario gets
// its own copy of population and its own mapping.
func IncrementalSweep(ctx context.Context, scenarios []Scenario, population []float64, maxAdditional int, opts ExactOptions) (map[string]*Table, error) {
	out := make(map[string]*Table, len(scenarios))
	for _, sc := range scenarios {
		if _, dup := out[sc.Name]; dup {
			return nil, errors.NotValidf("duplicate scenario %q", sc.Name)
		}
		t, err := Incremental(ctx, sc.Existing, sc.Candidates, slices.Clone(population), maxAdditional, opts)
		if err != nil {
			return nil, errors.Annotatef(err, "scenario %s", sc.Name)
		}
		out[sc.Name] = t
	}
	return out, nil
}
