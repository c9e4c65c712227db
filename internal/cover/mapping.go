// Package cover builds the bipartite site/demand coverage index consumed by
// the optimizers in package opt.
//
// Sites carry caller-chosen integer identifiers. Demand points are indices
// into a weight slice. Inside a Mapping sites are renumbered to dense
// positions 0..NumSites()-1 (ascending by identifier) so the heuristics can
// work on flat slices; demand keeps its original index.
package cover

import (
	"slices"

	"github.com/juju/errors"
)

// Mapping is the validated two-way coverage relation.
//
// JI[p] lists the demand indices served by the site at position p, ascending.
// IJ[i] lists the site positions that serve demand index i, ascending; it is
// empty for demand that is covered by no site or that was filtered out.
// A Mapping is immutable once built.
type Mapping struct {
	Sites  []int     // J: site identifiers, ascending; index = position
	Demand []int     // I: demand indices with at least one covering site, ascending
	JI     [][]int32 // site position -> demand indices
	IJ     [][]int32 // demand index -> site positions
	N      int       // size of the demand universe (len of the weight slice)

	pos map[int]int
}

// Build turns raw per-site coverage lists into a Mapping over the demand
// points weighted by weights. Demand listed in covered is removed from every
// site first; sites left with nothing to serve are dropped, and so is demand
// no remaining site reaches.
func Build(coverage map[int][]int, weights []float64, covered []int) (*Mapping, error) {
	return build(coverage, len(weights), covered)
}

func build(coverage map[int][]int, n int, covered []int) (*Mapping, error) {
	skip := make([]bool, n)
	for _, i := range covered {
		if i < 0 || i >= n {
			return nil, errors.NotValidf("covered demand %d outside 0..%d", i, n-1)
		}
		skip[i] = true
	}

	ids := make([]int, 0, len(coverage))
	for j := range coverage {
		ids = append(ids, j)
	}
	slices.Sort(ids)

	m := &Mapping{N: n, IJ: make([][]int32, n), pos: map[int]int{}}
	seen := make([]int, n) // stamp per site to drop duplicate demand ids
	for k, j := range ids {
		var served []int32
		for _, i := range coverage[j] {
			if i < 0 || i >= n {
				return nil, errors.NotValidf("site %d references demand %d outside 0..%d", j, i, n-1)
			}
			if skip[i] || seen[i] == k+1 {
				continue
			}
			seen[i] = k + 1
			served = append(served, int32(i))
		}
		if len(served) == 0 {
			continue
		}
		slices.Sort(served)
		p := len(m.Sites)
		m.pos[j] = p
		m.Sites = append(m.Sites, j)
		m.JI = append(m.JI, served)
		for _, i := range served {
			m.IJ[i] = append(m.IJ[i], int32(p))
		}
	}
	for i := range m.IJ {
		if len(m.IJ[i]) > 0 {
			m.Demand = append(m.Demand, i)
		}
	}
	return m, nil
}

// NumSites returns |J|.
func (m *Mapping) NumSites() int { return len(m.Sites) }

// SitePos returns the dense position of site identifier j.
func (m *Mapping) SitePos(j int) (int, bool) {
	p, ok := m.pos[j]
	return p, ok
}

// Positions returns 0..NumSites()-1.
func (m *Mapping) Positions() []int {
	out := make([]int, len(m.Sites))
	for p := range out {
		out[p] = p
	}
	return out
}

// SiteIDs translates dense positions back to site identifiers.
func (m *Mapping) SiteIDs(positions []int) []int {
	out := make([]int, len(positions))
	for k, p := range positions {
		out[k] = m.Sites[p]
	}
	return out
}

// Coverage returns the mapping in the raw form accepted by Build.
func (m *Mapping) Coverage() map[int][]int {
	out := make(map[int][]int, len(m.Sites))
	for p, j := range m.Sites {
		served := make([]int, len(m.JI[p]))
		for k, i := range m.JI[p] {
			served[k] = int(i)
		}
		out[j] = served
	}
	return out
}

// Restrict keeps only the listed sites and the demand they serve.
// Identifiers not present in m are ignored.
func (m *Mapping) Restrict(sites []int) *Mapping {
	keep := map[int][]int{}
	for _, j := range sites {
		p, ok := m.pos[j]
		if !ok {
			continue
		}
		served := make([]int, len(m.JI[p]))
		for k, i := range m.JI[p] {
			served[k] = int(i)
		}
		keep[j] = served
	}
	// Every id in keep is already inside 0..N-1, Build cannot fail here.
	r, _ := build(keep, m.N, nil)
	return r
}

// Equal reports whether two mappings describe the same relation.
func (m *Mapping) Equal(o *Mapping) bool {
	if m.N != o.N || !slices.Equal(m.Sites, o.Sites) || !slices.Equal(m.Demand, o.Demand) {
		return false
	}
	for p := range m.JI {
		if !slices.Equal(m.JI[p], o.JI[p]) {
			return false
		}
	}
	for i := range m.IJ {
		if !slices.Equal(m.IJ[i], o.IJ[i]) {
			return false
		}
	}
	return true
}
