// Package csvsrc reads distance and population tables from CSV files with a
// header row: "site,demand,distance" and "demand,weight".
package csvsrc

import (
    "context"
    "encoding/csv"
    "io"
    "os"
    "strconv"
    "strings"

    "github.com/juju/errors"

    "sitecover/internal/cover"
    "sitecover/internal/integrations"
)

type Source struct {
    DistancesPath  string
    PopulationPath string
}

func (s Source) Name() string { return "csv" }

func (s Source) Load(ctx context.Context) (integrations.Dataset, error) {
    f, err := os.Open(s.DistancesPath)
    if err != nil {
        return integrations.Dataset{}, errors.Annotate(err, "open distances")
    }
    defer f.Close()
    rows, err := ReadDistances(ctx, f)
    if err != nil {
        return integrations.Dataset{}, errors.Annotatef(err, "read %s", s.DistancesPath)
    }
    p, err := os.Open(s.PopulationPath)
    if err != nil {
        return integrations.Dataset{}, errors.Annotate(err, "open population")
    }
    defer p.Close()
    w, err := ReadPopulation(p)
    if err != nil {
        return integrations.Dataset{}, errors.Annotatef(err, "read %s", s.PopulationPath)
    }
    ds := integrations.Dataset{Rows: rows, Weights: w}
    return ds, ds.Validate()
}

// ReadDistances parses site,demand,distance records.
func ReadDistances(ctx context.Context, r io.Reader) ([]cover.DistanceRow, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = 3
    cr.ReuseRecord = true
    if _, err := cr.Read(); err != nil {
        return nil, errors.Annotate(err, "header")
    }
    var out []cover.DistanceRow
    for line := 2; ; line++ {
        rec, err := cr.Read()
        if err == io.EOF {
            return out, nil
        }
        if err != nil {
            return nil, err
        }
        if line%4096 == 0 && ctx.Err() != nil {
            return nil, ctx.Err()
        }
        site, e1 := strconv.Atoi(strings.TrimSpace(rec[0]))
        demand, e2 := strconv.Atoi(strings.TrimSpace(rec[1]))
        dist, e3 := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
        if e1 != nil || e2 != nil || e3 != nil {
            return nil, errors.NotValidf("line %d: %q", line, strings.Join(rec, ","))
        }
        out = append(out, cover.DistanceRow{Site: site, Demand: demand, Distance: dist})
    }
}

// ReadPopulation parses demand,weight records into a dense weight vector.
func ReadPopulation(r io.Reader) ([]float64, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = 2
    if _, err := cr.Read(); err != nil {
        return nil, errors.Annotate(err, "header")
    }
    pairs := map[int]float64{}
    seen := 0
    for line := 2; ; line++ {
        rec, err := cr.Read()
        if err == io.EOF {
            break
        }
        if err != nil {
            return nil, err
        }
        i, e1 := strconv.Atoi(strings.TrimSpace(rec[0]))
        v, e2 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
        if e1 != nil || e2 != nil || v < 0 {
            return nil, errors.NotValidf("line %d: %q", line, strings.Join(rec, ","))
        }
        pairs[i] = v
        seen++
    }
    return integrations.WeightsFrom(pairs, seen)
}
