package cover

import (
	"slices"

	"gonum.org/v1/gonum/floats"
)

// DistanceRow is one entry of a site-to-demand travel table as produced by a
// service-area calculator.
type DistanceRow struct {
	Site     int
	Demand   int
	Distance float64
}

// FromDistances keeps the pairs within threshold and groups them per site.
// Demand lists are sorted and free of duplicates.
func FromDistances(rows []DistanceRow, threshold float64) map[int][]int {
	out := map[int][]int{}
	for _, r := range rows {
		if r.Distance <= threshold {
			out[r.Site] = append(out[r.Site], r.Demand)
		}
	}
	for j, served := range out {
		slices.Sort(served)
		out[j] = slices.Compact(served)
	}
	return out
}

// CoveredBy returns the sorted union of demand served by the given sites.
// Sites missing from coverage contribute nothing.
func CoveredBy(coverage map[int][]int, sites []int) []int {
	var out []int
	for _, j := range sites {
		out = append(out, coverage[j]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AllSites returns the sorted identifiers of a coverage map.
func AllSites(coverage map[int][]int) []int {
	out := make([]int, 0, len(coverage))
	for j := range coverage {
		out = append(out, j)
	}
	slices.Sort(out)
	return out
}

// WeightOf sums w over the listed demand indices. Indices outside w are ignored.
func WeightOf(w []float64, demand []int) float64 {
	total := 0.0
	for _, i := range demand {
		if i >= 0 && i < len(w) {
			total += w[i]
		}
	}
	return total
}

// Fraction returns the share of the total weight carried by demand. An all-zero
// population yields 0 rather than NaN.
func Fraction(w []float64, demand []int) float64 {
	total := floats.Sum(w)
	if total <= 0 {
		return 0
	}
	return WeightOf(w, demand) / total
}
