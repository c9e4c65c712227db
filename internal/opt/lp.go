package opt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteLP writes md with the given budget in CPLEX LP format. Open columns
// are named x<c> and served columns y<r>; a comment block maps them back to
// site identifiers and demand indices.
func WriteLP(w io.Writer, md *Model, budget int) error {
	bw := bufio.NewWriter(w)
	num := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

	fmt.Fprintf(bw, "\\ sitecover MCLP: %d sites, %d demand, budget %d\n", len(md.Sites), len(md.Demand), budget)
	for c, j := range md.Sites {
		fmt.Fprintf(bw, "\\ x%d site %d\n", c, j)
	}
	for r, i := range md.Demand {
		fmt.Fprintf(bw, "\\ y%d demand %d\n", r, i)
	}

	bw.WriteString("Maximize\n obj:")
	terms := 0
	for r, wt := range md.Weight {
		if wt == 0 {
			continue
		}
		fmt.Fprintf(bw, " + %s y%d", num(wt), r)
		terms++
	}
	if md.Penalty > 0 {
		for c := range md.Sites {
			fmt.Fprintf(bw, " - %s x%d", num(md.Penalty), c)
			terms++
		}
	}
	if terms == 0 {
		bw.WriteString(" 0 x0")
	}
	bw.WriteString("\nSubject To\n")

	for r, row := range md.Rows {
		fmt.Fprintf(bw, " cover%d: y%d", r, r)
		for _, c := range row {
			fmt.Fprintf(bw, " - x%d", c)
		}
		bw.WriteString(" <= 0\n")
	}
	free := 0
	for c, f := range md.Fixed {
		if f {
			continue
		}
		if free == 0 {
			bw.WriteString(" budget:")
		}
		fmt.Fprintf(bw, " + x%d", c)
		free++
	}
	if free > 0 {
		fmt.Fprintf(bw, " <= %d\n", budget)
	}

	bw.WriteString("Bounds\n")
	for c, f := range md.Fixed {
		if f {
			fmt.Fprintf(bw, " x%d = 1\n", c)
		}
	}

	bw.WriteString("Binary\n")
	for c := range md.Sites {
		fmt.Fprintf(bw, " x%d\n", c)
	}
	for r := range md.Demand {
		fmt.Fprintf(bw, " y%d\n", r)
	}
	bw.WriteString("End\n")
	return bw.Flush()
}
