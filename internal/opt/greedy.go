package opt

import (
	"slices"
	"time"

	"sitecover/internal/cover"
)

// greedyState is the selection carried across the budget checkpoints of a
// sweep. All site references are dense positions in m.
type greedyState struct {
	m *cover.Mapping
	w []float64

	counter    []int32 // open sites covering each demand index
	selected   []int
	open       []bool
	gain       []float64 // last computed marginal gain per site
	mayChange  []int
	increments []float64
	value      float64
	exhausted  bool

	stamp []int
	epoch int
}

func newGreedyState(m *cover.Mapping, w []float64) *greedyState {
	return &greedyState{
		m:         m,
		w:         w,
		counter:   make([]int32, m.N),
		open:      make([]bool, m.NumSites()),
		gain:      make([]float64, m.NumSites()),
		mayChange: m.Positions(),
		stamp:     make([]int, m.NumSites()),
	}
}

// fill adds sites until b are selected or no site improves coverage.
func (g *greedyState) fill(b int) {
	b = min(b, g.m.NumSites())
	for !g.exhausted && len(g.selected) < b {
		g.step()
	}
}

func (g *greedyState) step() {
	for _, p := range g.mayChange {
		if !g.open[p] {
			g.gain[p] = g.uncovered(p)
		}
	}
	best := -1
	for p, v := range g.gain {
		if g.open[p] {
			continue
		}
		if best < 0 || v > g.gain[best] {
			best = p
		}
	}
	if best < 0 || g.gain[best] <= 0 {
		g.exhausted = true
		return
	}

	inc := g.gain[best]
	g.open[best] = true
	g.selected = append(g.selected, best)
	g.increments = append(g.increments, inc)
	g.value += inc
	for _, i := range g.m.JI[best] {
		g.counter[i]++
	}

	// Only sites sharing demand with the new one can have a different gain.
	g.epoch++
	g.mayChange = g.mayChange[:0]
	for _, i := range g.m.JI[best] {
		for _, q := range g.m.IJ[i] {
			if g.stamp[q] != g.epoch {
				g.stamp[q] = g.epoch
				g.mayChange = append(g.mayChange, int(q))
			}
		}
	}
}

// uncovered is the weight site p would add given the current counter.
func (g *greedyState) uncovered(p int) float64 {
	s := 0.0
	for _, i := range g.m.JI[p] {
		if g.counter[i] == 0 {
			s += g.w[i]
		}
	}
	return s
}

// reset makes every site a candidate again and clears exhaustion; used when
// the selection was changed outside of step.
func (g *greedyState) reset(selected []int) {
	clear(g.open)
	for _, p := range selected {
		g.open[p] = true
	}
	g.selected = selected
	g.mayChange = append(g.mayChange[:0], g.m.Positions()...)
	g.exhausted = false
}

// Greedy runs Greedy Addition over the budgets in ascending order. The
// selection for a larger budget always extends the one for a smaller
// budget; once no site adds weight, later budgets repeat the last
// selection. Ties go to the lowest site position. Negative budgets get an
// empty selection.
func Greedy(m *cover.Mapping, w []float64, budgets []int) map[int]Record {
	bs := slices.Clone(budgets)
	slices.Sort(bs)
	bs = slices.Compact(bs)

	g := newGreedyState(m, w)
	out := make(map[int]Record, len(bs))
	start := time.Now()
	for _, b := range bs {
		g.fill(b)
		out[b] = Record{
			Budget:      b,
			Solution:    m.SiteIDs(g.selected),
			Value:       g.value,
			Increments:  slices.Clone(g.increments),
			Counter:     slices.Clone(g.counter),
			SolvingTime: time.Since(start),
		}
		start = time.Now()
	}
	return out
}
