package opt

import (
	"slices"
	"time"

	"sitecover/internal/cover"
)

// GreedyLS is Greedy Addition with Substitution: at every budget checkpoint
// the carried selection is first extended greedily and then improved by
// LocalSearch over all sites of m. The improved selection is what the next
// checkpoint extends, so unlike Greedy a larger budget does not necessarily
// contain the selection of a smaller one.
func GreedyLS(m *cover.Mapping, w []float64, budgets []int) map[int]Record {
	bs := slices.Clone(budgets)
	slices.Sort(bs)
	bs = slices.Compact(bs)

	g := newGreedyState(m, w)
	out := make(map[int]Record, len(bs))
	start := time.Now()
	for _, b := range bs {
		g.fill(b)

		sol := slices.Clone(g.selected)
		var cand []int
		for p := range m.Sites {
			if !g.open[p] {
				cand = append(cand, p)
			}
		}
		value, trace := localSearch(m, w, sol, cand, g.counter, g.value)
		g.value = value
		g.reset(sol)

		out[b] = Record{
			Budget:      b,
			Solution:    m.SiteIDs(sol),
			Value:       value,
			Counter:     slices.Clone(g.counter),
			Trace:       trace,
			SolvingTime: time.Since(start),
		}
		start = time.Now()
	}
	return out
}
