// Package parquetsrc reads and writes distance and population tables as
// Parquet files.
package parquetsrc

import (
    "context"

    "github.com/juju/errors"
    "github.com/xitongsys/parquet-go-source/local"
    "github.com/xitongsys/parquet-go/reader"
    "github.com/xitongsys/parquet-go/writer"

    "sitecover/internal/cover"
    "sitecover/internal/integrations"
)

const numGoRoutines int64 = 4

type Distance struct {
    Site     int64   `parquet:"name=site, type=INT64"`
    Demand   int64   `parquet:"name=demand, type=INT64"`
    Distance float64 `parquet:"name=distance, type=DOUBLE"`
}

type Population struct {
    Demand int64   `parquet:"name=demand, type=INT64"`
    Weight float64 `parquet:"name=weight, type=DOUBLE"`
}

type Source struct {
    DistancesPath  string
    PopulationPath string
}

func (s Source) Name() string { return "parquet" }

func (s Source) Load(ctx context.Context) (integrations.Dataset, error) {
    var dist []Distance
    if err := readAll(s.DistancesPath, new(Distance), &dist); err != nil {
        return integrations.Dataset{}, err
    }
    if err := ctx.Err(); err != nil {
        return integrations.Dataset{}, err
    }
    var pop []Population
    if err := readAll(s.PopulationPath, new(Population), &pop); err != nil {
        return integrations.Dataset{}, err
    }
    rows := make([]cover.DistanceRow, len(dist))
    for k, d := range dist {
        rows[k] = cover.DistanceRow{Site: int(d.Site), Demand: int(d.Demand), Distance: d.Distance}
    }
    pairs := make(map[int]float64, len(pop))
    for _, p := range pop {
        if p.Weight < 0 {
            return integrations.Dataset{}, errors.NotValidf("weight %v for demand %d", p.Weight, p.Demand)
        }
        pairs[int(p.Demand)] = p.Weight
    }
    w, err := integrations.WeightsFrom(pairs, len(pop))
    if err != nil {
        return integrations.Dataset{}, err
    }
    ds := integrations.Dataset{Rows: rows, Weights: w}
    return ds, ds.Validate()
}

func readAll[T any](path string, schema *T, out *[]T) error {
    fr, err := local.NewLocalFileReader(path)
    if err != nil {
        return errors.Annotatef(err, "open %s", path)
    }
    defer fr.Close()
    pr, err := reader.NewParquetReader(fr, schema, numGoRoutines)
    if err != nil {
        return errors.Annotatef(err, "parquet reader for %s", path)
    }
    defer pr.ReadStop()
    *out = make([]T, int(pr.GetNumRows()))
    if err := pr.Read(out); err != nil {
        return errors.Annotatef(err, "read %s", path)
    }
    return nil
}

// WriteDistances stores rows in the layout Load expects.
func WriteDistances(path string, rows []cover.DistanceRow) error {
    recs := make([]Distance, len(rows))
    for k, r := range rows {
        recs[k] = Distance{Site: int64(r.Site), Demand: int64(r.Demand), Distance: r.Distance}
    }
    return writeAll(path, new(Distance), recs)
}

// WritePopulation stores one record per demand index.
func WritePopulation(path string, w []float64) error {
    recs := make([]Population, len(w))
    for i, v := range w {
        recs[i] = Population{Demand: int64(i), Weight: v}
    }
    return writeAll(path, new(Population), recs)
}

func writeAll[T any](path string, schema *T, recs []T) error {
    fw, err := local.NewLocalFileWriter(path)
    if err != nil {
        return errors.Annotatef(err, "create %s", path)
    }
    defer fw.Close()
    pw, err := writer.NewParquetWriter(fw, schema, numGoRoutines)
    if err != nil {
        return errors.Annotate(err, "parquet writer")
    }
    for _, r := range recs {
        if err := pw.Write(r); err != nil {
            return errors.Annotatef(err, "write %s", path)
        }
    }
    return errors.Annotate(pw.WriteStop(), "parquet write stop")
}
