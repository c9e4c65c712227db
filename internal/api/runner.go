package api

import (
    "context"
    "log"
    "maps"
    "slices"
    "time"

    "github.com/juju/errors"

    "sitecover/internal/cover"
    "sitecover/internal/integrations"
    "sitecover/internal/integrations/csvsrc"
    "sitecover/internal/integrations/parquetsrc"
    "sitecover/internal/metrics"
    "sitecover/internal/model"
    "sitecover/internal/opt"
    "sitecover/internal/webhooks"
)

// Run progress events published on the broker.
const (
    EventBudget    = "run.budget"
    EventScenario  = "run.scenario"
    EventCompleted = webhooks.EventRunCompleted
    EventFailed    = webhooks.EventRunFailed
)

// statusHeuristic labels budgets solved without a proof of optimality.
const statusHeuristic = "heuristic"

// resolveOptions layers request knobs over the tenant's saved overrides over
// the service defaults.
func (s *Server) resolveOptions(ctx context.Context, tenant string, req model.RunRequest) opt.ExactOptions {
    o := s.Cfg.Optimizer.ExactOptions()
    if cfg, err := s.Store.GetOptimizerConfig(ctx, tenant); err != nil {
        log.Printf("optimizer config for %s: %v", tenant, err)
    } else if cfg != nil {
        applyOverrides(&o, cfg)
    }
    if req.Backend != "" { o.Backend = req.Backend }
    if req.TimeLimitSec != nil { o.TimeLimit = seconds(*req.TimeLimitSec) }
    if req.Gap != nil { o.Gap = *req.Gap }
    if req.Parsimonious != nil { o.Parsimonious = *req.Parsimonious }
    if req.Parallel > 0 { o.Parallel = req.Parallel }
    return o
}

// applyOverrides reads the keys saved through the admin config endpoint.
// Numbers arrive as float64 after a JSON round trip.
func applyOverrides(o *opt.ExactOptions, cfg map[string]any) {
    if v, ok := cfg["backend"].(string); ok && v != "" { o.Backend = v }
    if v, ok := cfg["timeLimitSec"].(float64); ok && v >= 0 { o.TimeLimit = seconds(v) }
    if v, ok := cfg["gap"].(float64); ok && v >= 0 && v < 1 { o.Gap = v }
    if v, ok := cfg["parsimonious"].(bool); ok { o.Parsimonious = v }
    if v, ok := cfg["parallel"].(float64); ok && v >= 1 { o.Parallel = int(v) }
}

// validateOverrides rejects tenant overrides no run could use.
func validateOverrides(cfg map[string]any) error {
    for k, v := range cfg {
        switch k {
        case "backend":
            name, ok := v.(string)
            if !ok { return errors.NotValidf("backend %v", v) }
            if _, err := opt.Lookup(name); err != nil { return err }
        case "timeLimitSec":
            if f, ok := v.(float64); !ok || f < 0 { return errors.NotValidf("timeLimitSec %v", v) }
        case "gap":
            if f, ok := v.(float64); !ok || f < 0 || f >= 1 { return errors.NotValidf("gap %v", v) }
        case "parsimonious":
            if _, ok := v.(bool); !ok { return errors.NotValidf("parsimonious %v", v) }
        case "parallel":
            if f, ok := v.(float64); !ok || f < 1 { return errors.NotValidf("parallel %v", v) }
        default:
            return errors.NotValidf("unknown optimizer key %q", k)
        }
    }
    return nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// finish executes the run, stores it and announces the outcome on the broker
// and to webhook subscribers.
func (s *Server) finish(ctx context.Context, run model.Run, req model.RunRequest) (model.Run, error) {
    run, err := s.execute(ctx, run, req)
    if _, serr := s.Store.CreateRun(ctx, run); serr != nil {
        log.Printf("store run %s: %v", run.ID, serr)
        if err == nil { err = serr }
    }
    evt := EventCompleted
    if run.Status == model.RunFailed { evt = EventFailed }
    data := map[string]any{"runId": run.ID, "algorithm": run.Algorithm, "status": run.Status, "durationMs": run.DurationMs}
    if run.Error != "" { data["error"] = run.Error }
    s.Broker.Publish(run.ID, SSEEvent{Type: evt, Data: data})
    s.Pub.Emit(ctx, run.TenantID, evt, data)
    return run, err
}

func (s *Server) execute(ctx context.Context, run model.Run, req model.RunRequest) (model.Run, error) {
    start := time.Now()
    opts := s.resolveOptions(ctx, run.TenantID, req)
    if req.Algorithm == model.AlgoExact || req.Algorithm == model.AlgoIncremental {
        run.Backend = opts.Backend
        if run.Backend == "" { run.Backend = opt.BranchAndBoundName }
    }
    statuses, err := s.solve(ctx, &run, req, opts)
    took := time.Since(start)
    run.DurationMs = took.Milliseconds()
    metrics.ObserveSolve(req.Algorithm, statuses, took)
    if err != nil {
        run.Status = model.RunFailed
        run.Error = err.Error()
        log.Printf("run %s (%s) failed: %v", run.ID, req.Algorithm, err)
        return run, err
    }
    run.Status = model.RunCompleted
    log.Printf("run %s (%s) completed in %v", run.ID, req.Algorithm, took)
    return run, nil
}

func (s *Server) solve(ctx context.Context, run *model.Run, req model.RunRequest, opts opt.ExactOptions) ([]string, error) {
    if req.Source != nil {
        if err := loadSource(ctx, &req); err != nil {
            return nil, err
        }
    }
    if req.Algorithm == model.AlgoIncremental {
        return s.solveIncremental(ctx, run, req, opts)
    }

    m, err := cover.Build(req.Coverage, req.Weights, req.Covered)
    if err != nil {
        return nil, err
    }
    if err := cover.Check(m, req.Weights, false); err != nil {
        return nil, err
    }
    run.Mapping = mappingStats(m, req.Weights, req.Covered)

    var recs map[int]opt.Record
    switch req.Algorithm {
    case model.AlgoExact:
        if recs, err = opt.SolveExact(ctx, m, req.Weights, req.Budgets, req.AlreadyOpen, opts); err != nil {
            return nil, err
        }
    case model.AlgoGreedy:
        recs = opt.Greedy(m, req.Weights, req.Budgets)
    case model.AlgoGreedyLS:
        recs = opt.GreedyLS(m, req.Weights, req.Budgets)
    default:
        return nil, errors.NotValidf("algorithm %q", req.Algorithm)
    }
    opt.RecordSweep(run.TenantID, req.Algorithm, recs)

    var statuses []string
    for _, b := range slices.Sorted(maps.Keys(recs)) {
        res := budgetResult(recs[b], req.Coverage, req.Weights, req.Covered, req.Algorithm == model.AlgoExact)
        run.Results = append(run.Results, res)
        st := res.Termination
        if st == "" { st = statusHeuristic }
        statuses = append(statuses, st)
        s.Broker.Publish(run.ID, SSEEvent{Type: EventBudget, Data: map[string]any{
            "runId": run.ID, "budget": b, "value": res.Value, "coverage": res.Coverage, "status": st,
        }})
    }
    return statuses, nil
}

func (s *Server) solveIncremental(ctx context.Context, run *model.Run, req model.RunRequest, opts opt.ExactOptions) ([]string, error) {
    scs := []opt.Scenario{{Existing: req.Existing, Candidates: req.Coverage}}
    tables := map[string]*opt.Table{}
    if len(req.Scenarios) == 0 {
        tbl, err := opt.Incremental(ctx, req.Existing, req.Coverage, req.Weights, req.MaxAdditional, opts)
        if err != nil {
            return nil, err
        }
        tables[""] = tbl
    } else {
        scs = make([]opt.Scenario, len(req.Scenarios))
        for k, sc := range req.Scenarios {
            existing := sc.Existing
            if existing == nil { existing = req.Existing }
            scs[k] = opt.Scenario{Name: sc.Name, Existing: existing, Candidates: sc.Coverage}
        }
        var err error
        if tables, err = opt.IncrementalSweep(ctx, scs, req.Weights, req.MaxAdditional, opts); err != nil {
            return nil, err
        }
    }

    var statuses []string
    for _, sc := range scs {
        tbl := tables[sc.Name]
        opt.RecordSweep(run.TenantID, model.AlgoIncremental, map[int]opt.Record{req.MaxAdditional: tbl.Exact})
        ir := incrementalResult(sc.Name, tbl, sc.Existing, sc.Candidates, req.Weights)
        run.Incremental = append(run.Incremental, ir)
        statuses = append(statuses, ir.Exact.Termination)
        s.Broker.Publish(run.ID, SSEEvent{Type: EventScenario, Data: map[string]any{
            "runId": run.ID, "scenario": sc.Name, "coverage": ir.Steps[len(ir.Steps)-1].Coverage, "status": ir.Exact.Termination,
        }})
    }
    return statuses, nil
}

func loadSource(ctx context.Context, req *model.RunRequest) error {
    var src integrations.CoverageSource
    switch req.Source.Format {
    case "csv":
        src = csvsrc.Source{DistancesPath: req.Source.Distances, PopulationPath: req.Source.Population}
    case "parquet":
        src = parquetsrc.Source{DistancesPath: req.Source.Distances, PopulationPath: req.Source.Population}
    default:
        return errors.NotSupportedf("source format %q", req.Source.Format)
    }
    ds, err := src.Load(ctx)
    if err != nil {
        return errors.Annotatef(err, "%s source", src.Name())
    }
    req.Coverage = ds.Coverage(req.Source.Threshold)
    req.Weights = ds.Weights
    return nil
}

// mappingStats summarizes a built mapping for API responses.
func mappingStats(m *cover.Mapping, w []float64, covered []int) *model.MappingStats {
    st := &model.MappingStats{Sites: m.NumSites(), Demand: len(w)}
    for _, served := range m.JI {
        st.Links += len(served)
    }
    pre := make(map[int]bool, len(covered))
    for _, i := range covered {
        pre[i] = true
    }
    for i := range m.IJ {
        if len(m.IJ[i]) == 0 && !pre[i] {
            st.Unreachable++
        }
    }
    st.ReachableWeight = cover.WeightOf(w, m.Demand)
    st.ReachableFraction = cover.Fraction(w, m.Demand)
    return st
}

// servedBy is the demand served by sites plus demand already covered.
func servedBy(coverage map[int][]int, sites, covered []int) []int {
    served := append(cover.CoveredBy(coverage, sites), covered...)
    slices.Sort(served)
    return slices.Compact(served)
}

func budgetResult(r opt.Record, coverage map[int][]int, w []float64, covered []int, exact bool) model.BudgetResult {
    res := model.BudgetResult{
        Budget:     r.Budget,
        Solution:   r.Solution,
        Value:      r.Value,
        Coverage:   cover.Fraction(w, servedBy(coverage, r.Solution, covered)),
        SolvingMs:  ms(r.SolvingTime),
        Increments: r.Increments,
    }
    if res.Solution == nil { res.Solution = []int{} }
    if exact {
        ub := r.UpperBound
        res.UpperBound = &ub
        res.Termination = string(r.Termination)
        res.ModelingMs = ms(r.ModelingTime)
    }
    for _, tp := range r.Trace {
        res.Trace = append(res.Trace, model.TracePoint{ElapsedMs: ms(tp.Elapsed), Objective: tp.Objective})
    }
    return res
}

func incrementalResult(name string, t *opt.Table, existing, candidates map[int][]int, w []float64) model.IncrementalResult {
    pre := cover.CoveredBy(existing, cover.AllSites(existing))
    ir := model.IncrementalResult{
        Scenario:        name,
        CoveredExisting: t.CoveredExisting,
        Exact:           budgetResult(t.Exact, candidates, w, pre, true),
    }
    for _, st := range t.Steps {
        sol := st.Solution
        if sol == nil { sol = []int{} }
        ir.Steps = append(ir.Steps, model.IncrementalStep{Budget: st.Budget, Solution: sol, Increments: st.Increments, Served: st.Served, Coverage: st.Coverage})
    }
    return ir
}
