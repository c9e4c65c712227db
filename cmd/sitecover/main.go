// Command sitecover solves a coverage problem offline from distance and
// population files and prints the per-budget records as JSON.
package main

import (
    "context"
    "encoding/json"
    "flag"
    "log"
    "os"
    "os/signal"
    "slices"
    "strconv"
    "strings"

    "github.com/juju/errors"

    "sitecover/internal/config"
    "sitecover/internal/cover"
    "sitecover/internal/integrations"
    "sitecover/internal/integrations/csvsrc"
    "sitecover/internal/integrations/parquetsrc"
    "sitecover/internal/opt"
)

func main() {
    format := flag.String("format", "csv", "input format: csv or parquet")
    distances := flag.String("distances", "", "site,demand,distance table")
    population := flag.String("population", "", "demand,weight table")
    threshold := flag.Float64("threshold", 0, "service distance")
    algorithm := flag.String("algorithm", "exact", "exact, greedy or greedy_ls")
    budgets := flag.String("budgets", "1", "comma separated budgets")
    lpOut := flag.String("lp", "", "write the model for the largest budget in LP format and exit")
    toParquet := flag.String("to-parquet", "", "convert csv input to parquet files with this prefix and exit")
    flag.Parse()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
    defer stop()
    if err := run(ctx, *format, *distances, *population, *threshold, *algorithm, *budgets, *lpOut, *toParquet); err != nil {
        log.Fatalf("sitecover: %v", errors.ErrorStack(err))
    }
}

func run(ctx context.Context, format, distances, population string, threshold float64, algorithm, budgetList, lpOut, toParquet string) error {
    cfg, err := config.Load()
    if err != nil {
        return err
    }
    var src integrations.CoverageSource
    switch format {
    case "csv":
        src = csvsrc.Source{DistancesPath: distances, PopulationPath: population}
    case "parquet":
        src = parquetsrc.Source{DistancesPath: distances, PopulationPath: population}
    default:
        return errors.NotSupportedf("format %q", format)
    }
    ds, err := src.Load(ctx)
    if err != nil {
        return errors.Trace(err)
    }
    if toParquet != "" {
        if err := parquetsrc.WriteDistances(toParquet+"_distances.parquet", ds.Rows); err != nil {
            return errors.Trace(err)
        }
        return errors.Trace(parquetsrc.WritePopulation(toParquet+"_population.parquet", ds.Weights))
    }

    bs, err := parseBudgets(budgetList)
    if err != nil {
        return err
    }
    m, err := cover.Build(ds.Coverage(threshold), ds.Weights, nil)
    if err != nil {
        return errors.Trace(err)
    }
    if err := cover.Check(m, ds.Weights, false); err != nil {
        return errors.Trace(err)
    }
    log.Printf("mapping: %d sites, %d of %d demand reachable", m.NumSites(), len(m.Demand), m.N)

    if lpOut != "" {
        top := bs[len(bs)-1]
        penalty := 0.0
        if cfg.Optimizer.Parsimonious {
            penalty = opt.ParsimonyPenalty(ds.Weights, top)
        }
        f, err := os.Create(lpOut)
        if err != nil {
            return errors.Trace(err)
        }
        defer f.Close()
        return errors.Trace(opt.WriteLP(f, opt.NewModel(m, ds.Weights, nil, penalty), top))
    }

    var recs map[int]opt.Record
    switch algorithm {
    case "exact":
        recs, err = opt.SolveExact(ctx, m, ds.Weights, bs, nil, cfg.Optimizer.ExactOptions())
    case "greedy":
        recs = opt.Greedy(m, ds.Weights, bs)
    case "greedy_ls":
        recs = opt.GreedyLS(m, ds.Weights, bs)
    default:
        err = errors.NotValidf("algorithm %q", algorithm)
    }
    if err != nil {
        return err
    }
    out := make([]opt.Record, 0, len(recs))
    for _, b := range bs {
        if r, ok := recs[b]; ok {
            out = append(out, r)
        }
    }
    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    return enc.Encode(out)
}

// parseBudgets returns the budgets ascending and without repeats.
func parseBudgets(s string) ([]int, error) {
    seen := map[int]bool{}
    var out []int
    for _, f := range strings.Split(s, ",") {
        b, err := strconv.Atoi(strings.TrimSpace(f))
        if err != nil || b < 0 {
            return nil, errors.NotValidf("budget %q", f)
        }
        if !seen[b] {
            seen[b] = true
            out = append(out, b)
        }
    }
    slices.Sort(out)
    return out, nil
}
