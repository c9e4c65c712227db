package opt

import (
	"slices"
	"time"

	"github.com/juju/errors"

	"sitecover/internal/cover"
)

// swapTol keeps float noise from cycling equal-weight swaps.
const swapTol = 1e-9

// LocalSearchResult is the 1-swap local optimum reached from a starting
// selection.
type LocalSearchResult struct {
	Solution []int // site identifiers; slot order of the input is kept
	Value    float64
	Counter  []int32
	Trace    []TracePoint // starts at the input value, ends with the final one
}

// LocalSearch improves solution by first-improvement 1-swaps between open
// sites and the closed sites of all until no swap increases covered weight.
// counter must hold, per demand index, how many sites of solution cover it,
// and value the weight they cover. The inputs are not modified.
func LocalSearch(m *cover.Mapping, w []float64, solution []int, counter []int32, value float64, all []int) (LocalSearchResult, error) {
	if len(counter) != m.N {
		return LocalSearchResult{}, errors.NotValidf("counter length %d for %d demand points", len(counter), m.N)
	}
	sol := make([]int, len(solution))
	inSol := make([]bool, m.NumSites())
	for k, j := range solution {
		p, ok := m.SitePos(j)
		if !ok {
			return LocalSearchResult{}, errors.NotValidf("solution site %d not in mapping", j)
		}
		sol[k] = p
		inSol[p] = true
	}
	var cand []int
	for _, j := range all {
		// Sites outside the mapping cover nothing and can never win a swap.
		if p, ok := m.SitePos(j); ok && !inSol[p] {
			cand = append(cand, p)
			inSol[p] = true
		}
	}

	cov := slices.Clone(counter)
	value, trace := localSearch(m, w, sol, cand, cov, value)
	return LocalSearchResult{
		Solution: m.SiteIDs(sol),
		Value:    value,
		Counter:  cov,
		Trace:    trace,
	}, nil
}

// localSearch works in place on positions: sol and cand swap members and
// cov is kept consistent with sol.
func localSearch(m *cover.Mapping, w []float64, sol, cand []int, cov []int32, value float64) (float64, []TracePoint) {
	weightAt := func(p int, level int32) float64 {
		s := 0.0
		for _, i := range m.JI[p] {
			if cov[i] == level {
				s += w[i]
			}
		}
		return s
	}

	start := time.Now()
	trace := []TracePoint{{Elapsed: 0, Objective: value}}
	for changed := true; changed; {
		changed = false
		for k := range sol {
			out := weightAt(sol[k], 1)
			for _, i := range m.JI[sol[k]] {
				cov[i]--
			}
			for c := range cand {
				in := weightAt(cand[c], 0)
				if in <= out+swapTol {
					continue
				}
				value += in - out
				out = in
				sol[k], cand[c] = cand[c], sol[k]
				// The new occupant of slot k stays lifted out of cov
				// while the remaining candidates are compared to it.
				changed = true
				trace = append(trace, TracePoint{Elapsed: time.Since(start), Objective: value})
			}
			for _, i := range m.JI[sol[k]] {
				cov[i]++
			}
		}
	}
	trace = append(trace, TracePoint{Elapsed: time.Since(start), Objective: value})
	return value, trace
}
