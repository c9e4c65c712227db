package cover

import (
	"slices"

	"github.com/juju/errors"
)

// Check validates a mapping against the weight slice it was built for.
// When full is set the mapping must reach every demand point 0..len(w)-1,
// which is the expected shape when no covered demand was filtered out.
//
// A failed check means the coverage collaborator produced inconsistent data;
// the returned error satisfies errors.IsNotValid and callers must abort.
func Check(m *Mapping, w []float64, full bool) error {
	if m == nil {
		return errors.NotValidf("nil mapping")
	}
	n := len(w)
	if m.N != n || len(m.IJ) != n {
		return errors.NotValidf("mapping sized for %d demand points, weights have %d", m.N, n)
	}
	if len(m.JI) != len(m.Sites) {
		return errors.NotValidf("%d site lists for %d sites", len(m.JI), len(m.Sites))
	}
	if full && len(m.Demand) != n {
		return errors.NotValidf("unknown household: %d of %d demand points reachable", len(m.Demand), n)
	}
	for k := 1; k < len(m.Sites); k++ {
		if m.Sites[k] <= m.Sites[k-1] {
			return errors.NotValidf("site identifiers not strictly ascending at position %d", k)
		}
	}
	for k, i := range m.Demand {
		if i < 0 || i >= n {
			return errors.NotValidf("unknown household %d", i)
		}
		if k > 0 && i <= m.Demand[k-1] {
			return errors.NotValidf("demand not strictly ascending at %d", k)
		}
		if len(m.IJ[i]) == 0 {
			return errors.NotValidf("demand %d listed but reached by no site", i)
		}
	}

	links := 0
	for p, served := range m.JI {
		if len(served) == 0 {
			return errors.NotValidf("site %d serves no demand", m.Sites[p])
		}
		for _, i := range served {
			if i < 0 || int(i) >= n {
				return errors.NotValidf("unknown household %d at site %d", i, m.Sites[p])
			}
			if _, ok := slices.BinarySearch(m.IJ[i], int32(p)); !ok {
				return errors.NotValidf("site %d serves demand %d but is not listed for it", m.Sites[p], i)
			}
		}
		links += len(served)
	}
	reached := 0
	for i, sites := range m.IJ {
		if len(sites) > 0 {
			reached++
		}
		for _, p := range sites {
			if p < 0 || int(p) >= len(m.Sites) {
				return errors.NotValidf("unknown facility position %d for demand %d", p, i)
			}
		}
		links -= len(sites)
	}
	if reached != len(m.Demand) {
		return errors.NotValidf("%d demand points reachable but %d listed", reached, len(m.Demand))
	}
	// Every JI link was found in IJ above; equal totals make the relation symmetric.
	if links != 0 {
		return errors.NotValidf("coverage lists are not mutually inverse")
	}
	return nil
}
