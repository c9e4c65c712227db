// Package integrations loads site-to-demand travel tables and population
// weights from external files.
package integrations

import (
    "context"

    "github.com/juju/errors"

    "sitecover/internal/cover"
)

// CoverageSource is one external origin of distances and weights.
type CoverageSource interface {
    Name() string
    Load(ctx context.Context) (Dataset, error)
}

// Dataset is a raw distance table plus the population weight per demand index.
type Dataset struct {
    Rows    []cover.DistanceRow
    Weights []float64
}

// Coverage applies a service-area threshold to the distance table.
func (d Dataset) Coverage(threshold float64) map[int][]int {
    return cover.FromDistances(d.Rows, threshold)
}

// Validate checks that every row names a demand index with a weight.
func (d Dataset) Validate() error {
    for k, r := range d.Rows {
        if r.Demand < 0 || r.Demand >= len(d.Weights) {
            return errors.NotValidf("row %d: demand %d outside population of %d", k, r.Demand, len(d.Weights))
        }
        if r.Distance < 0 {
            return errors.NotValidf("row %d: negative distance %v", k, r.Distance)
        }
    }
    return nil
}

// WeightsFrom turns (demand, weight) pairs into a dense weight vector.
// Missing indices get weight 0; a repeated index is rejected.
func WeightsFrom(pairs map[int]float64, seen int) ([]float64, error) {
    if len(pairs) != seen {
        return nil, errors.NotValidf("duplicate demand index in population")
    }
    n := 0
    for i := range pairs {
        if i < 0 {
            return nil, errors.NotValidf("demand index %d", i)
        }
        n = max(n, i+1)
    }
    w := make([]float64, n)
    for i, v := range pairs {
        w[i] = v
    }
    return w, nil
}
