package opt

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecover/internal/cover"
)

// coverCount recomputes the per-demand counter and covered weight of sites.
func coverCount(m *cover.Mapping, w []float64, sites []int) ([]int32, float64) {
	counter := make([]int32, m.N)
	for _, j := range sites {
		p, _ := m.SitePos(j)
		for _, i := range m.JI[p] {
			counter[i]++
		}
	}
	v := 0.0
	for i, c := range counter {
		if c > 0 {
			v += w[i]
		}
	}
	return counter, v
}

func TestGreedyScenario(t *testing.T) {
	w := []float64{10, 20, 5}
	m := buildMapping(t, map[int][]int{0: {0, 1}, 1: {1, 2}}, w)

	recs := Greedy(m, w, []int{2, 1, 0})
	require.Len(t, recs, 3)
	assert.Empty(t, recs[0].Solution)
	assert.Equal(t, []int{0}, recs[1].Solution)
	assert.Equal(t, []float64{30}, recs[1].Increments)
	assert.Equal(t, []int{0, 1}, recs[2].Solution)
	assert.Equal(t, []float64{30, 5}, recs[2].Increments)
	assert.InDelta(t, 35.0, recs[2].Value, 1e-9)
	assert.Equal(t, []int32{1, 2, 1}, recs[2].Counter)
}

func TestGreedyTieBreakAndExhaustion(t *testing.T) {
	w := []float64{4, 1}
	m := buildMapping(t, map[int][]int{5: {0}, 3: {0}, 8: {1}}, w)

	recs := Greedy(m, w, []int{1, 2, 5})
	// sites 3 and 5 tie, the lower position (site 3) wins
	assert.Equal(t, []int{3}, recs[1].Solution)
	assert.Equal(t, []int{3, 8}, recs[2].Solution)
	// nothing improves after two sites, larger budgets repeat
	assert.Equal(t, recs[2].Solution, recs[5].Solution)
	assert.Equal(t, recs[2].Increments, recs[5].Increments)
	assert.InDelta(t, 5.0, recs[5].Value, 1e-9)
}

func TestGreedyPropertiesOnRandomInstance(t *testing.T) {
	cov, w := randomInstance(12, 35, 3)
	m := buildMapping(t, cov, w)
	budgets := []int{0, 1, 2, 3, 4, 5}

	greedy := Greedy(m, w, budgets)
	exact, err := SolveExact(context.Background(), m, w, budgets, nil, ExactOptions{})
	require.NoError(t, err)

	prev := []int{}
	for _, b := range budgets {
		g := greedy[b]
		assert.LessOrEqual(t, g.Value, exact[b].Value+1e-9, "budget %d", b)
		assert.LessOrEqual(t, len(g.Solution), b)
		// larger budgets extend smaller ones
		assert.Equal(t, prev, g.Solution[:len(prev)])
		prev = g.Solution

		counter, v := coverCount(m, w, g.Solution)
		assert.Equal(t, counter, g.Counter)
		assert.InDelta(t, v, g.Value, 1e-9)
		sum := 0.0
		for k, inc := range g.Increments {
			assert.Greater(t, inc, 0.0)
			if k > 0 {
				assert.LessOrEqual(t, inc, g.Increments[k-1]+1e-9)
			}
			sum += inc
		}
		assert.InDelta(t, g.Value, sum, 1e-9)
	}
}

func TestLocalSearchEscapesGreedyTrap(t *testing.T) {
	w := []float64{0, 1, 1, 1, 1, 1, 1}
	m := buildMapping(t, trapCoverage, w)

	start := Greedy(m, w, []int{2})[2]
	require.Equal(t, []int{1, 2}, start.Solution)
	require.InDelta(t, 5.0, start.Value, 1e-9)

	res, err := LocalSearch(m, w, start.Solution, start.Counter, start.Value, []int{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, res.Value, 1e-9)
	assert.ElementsMatch(t, []int{2, 3}, res.Solution)

	counter, v := coverCount(m, w, res.Solution)
	assert.Equal(t, counter, res.Counter)
	assert.InDelta(t, v, res.Value, 1e-9)

	require.GreaterOrEqual(t, len(res.Trace), 3)
	assert.InDelta(t, 5.0, res.Trace[0].Objective, 1e-9)
	assert.InDelta(t, 6.0, res.Trace[len(res.Trace)-1].Objective, 1e-9)
	for k := 1; k < len(res.Trace); k++ {
		assert.GreaterOrEqual(t, res.Trace[k].Objective, res.Trace[k-1].Objective)
	}

	// the inputs are left alone
	assert.Equal(t, []int{1, 2}, start.Solution)
	assert.Equal(t, []int32{0, 2, 2, 1, 1, 1, 0}, start.Counter)
}

func TestLocalSearchNeverRegresses(t *testing.T) {
	cov, w := randomInstance(15, 50, 11)
	m := buildMapping(t, cov, w)
	all := cover.AllSites(cov)

	for _, b := range []int{1, 3, 5} {
		g := Greedy(m, w, []int{b})[b]
		res, err := LocalSearch(m, w, g.Solution, g.Counter, g.Value, all)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Value, g.Value-1e-9)
		assert.Len(t, res.Solution, len(g.Solution))
		_, v := coverCount(m, w, res.Solution)
		assert.InDelta(t, v, res.Value, 1e-9)
	}
}

func TestLocalSearchRejectsUnknownSites(t *testing.T) {
	w := []float64{1}
	m := buildMapping(t, map[int][]int{0: {0}}, w)
	_, err := LocalSearch(m, w, []int{42}, make([]int32, 1), 0, nil)
	assert.True(t, errors.IsNotValid(err))
	_, err = LocalSearch(m, w, nil, nil, 0, nil)
	assert.True(t, errors.IsNotValid(err))
}

func TestGreedyLS(t *testing.T) {
	w := []float64{0, 1, 1, 1, 1, 1, 1}
	m := buildMapping(t, trapCoverage, w)

	recs := GreedyLS(m, w, []int{1, 2, 3})
	assert.InDelta(t, 4.0, recs[1].Value, 1e-9)
	assert.InDelta(t, 6.0, recs[2].Value, 1e-9)
	assert.InDelta(t, 6.0, recs[3].Value, 1e-9)
	for b, r := range recs {
		assert.LessOrEqual(t, len(r.Solution), b)
		counter, v := coverCount(m, w, r.Solution)
		assert.Equal(t, counter, r.Counter)
		assert.InDelta(t, v, r.Value, 1e-9)
		assert.NotEmpty(t, r.Trace)
	}
}

func TestGreedyLSBoundedByExact(t *testing.T) {
	cov, w := randomInstance(12, 40, 21)
	m := buildMapping(t, cov, w)
	budgets := []int{1, 2, 3, 4}

	ls := GreedyLS(m, w, budgets)
	exact, err := SolveExact(context.Background(), m, w, budgets, nil, ExactOptions{})
	require.NoError(t, err)
	prev := 0.0
	for _, b := range budgets {
		assert.LessOrEqual(t, ls[b].Value, exact[b].Value+1e-9, "budget %d", b)
		assert.GreaterOrEqual(t, ls[b].Value, prev-1e-9, "budget %d", b)
		prev = ls[b].Value
		_, v := coverCount(m, w, ls[b].Solution)
		assert.InDelta(t, v, ls[b].Value, 1e-9)
	}
}
