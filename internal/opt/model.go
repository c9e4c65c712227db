package opt

import (
	"slices"

	"sitecover/internal/cover"
)

// Model is the single-index MCLP formulation handed to a Backend:
//
//	max  Σ Weight[r]·served[r] − Penalty·Σ open[c]
//	s.t. served[r] ≤ Σ_{c ∈ Rows[r]} open[c]   for every served column r
//	     open[c] = 1                           for every Fixed column c
//	     Σ_{c not Fixed} open[c] ≤ Budget
//	     open, served binary
//
// Only Budget changes between the solves of a sweep; everything else is
// shared and must be treated as read-only by backends.
type Model struct {
	Sites   []int     // site identifier per open column, ascending
	Fixed   []bool    // open column forced to 1
	Demand  []int     // demand index per served column, ascending
	Weight  []float64 // objective coefficient per served column
	Rows    [][]int32 // served column -> open columns that can serve it
	Cols    [][]int32 // open column -> served columns it serves
	Penalty float64
	Budget  int
}

// NewModel builds the formulation for mapping m. Sites in alreadyOpen get a
// fixed column even when they serve nothing left in m.
func NewModel(m *cover.Mapping, w []float64, alreadyOpen []int, penalty float64) *Model {
	sites := append(append([]int(nil), m.Sites...), alreadyOpen...)
	slices.Sort(sites)
	sites = slices.Compact(sites)

	md := &Model{
		Sites:   sites,
		Fixed:   make([]bool, len(sites)),
		Demand:  append([]int(nil), m.Demand...),
		Weight:  make([]float64, len(m.Demand)),
		Rows:    make([][]int32, len(m.Demand)),
		Cols:    make([][]int32, len(sites)),
		Penalty: penalty,
	}
	col := make(map[int]int32, len(sites))
	for c, j := range sites {
		col[j] = int32(c)
	}
	for _, j := range alreadyOpen {
		md.Fixed[col[j]] = true
	}
	for r, i := range m.Demand {
		md.Weight[r] = w[i]
		row := make([]int32, len(m.IJ[i]))
		for k, p := range m.IJ[i] {
			c := col[m.Sites[p]]
			row[k] = c
			md.Cols[c] = append(md.Cols[c], int32(r))
		}
		slices.Sort(row)
		md.Rows[r] = row
	}
	return md
}

// WithBudget returns a shallow copy carrying its own budget row. The copy
// shares every other slice with md.
func (md *Model) WithBudget(b int) *Model {
	c := *md
	c.Budget = b
	return &c
}

// NumFixed counts the columns forced open.
func (md *Model) NumFixed() int {
	n := 0
	for _, f := range md.Fixed {
		if f {
			n++
		}
	}
	return n
}

// Evaluate returns the covered weight and the full objective of an open vector.
func (md *Model) Evaluate(open []bool) (value, objective float64) {
	for r, row := range md.Rows {
		for _, c := range row {
			if open[c] {
				value += md.Weight[r]
				break
			}
		}
	}
	n := 0
	for _, o := range open {
		if o {
			n++
		}
	}
	return value, value - md.Penalty*float64(n)
}

// Feasible reports whether open respects the fixed columns and the budget.
func (md *Model) Feasible(open []bool) bool {
	if len(open) != len(md.Sites) {
		return false
	}
	free := 0
	for c, o := range open {
		if md.Fixed[c] && !o {
			return false
		}
		if o && !md.Fixed[c] {
			free++
		}
	}
	return free <= md.Budget
}
