package api

import (
    "testing"

    "github.com/juju/errors"
    "github.com/stretchr/testify/assert"

    "sitecover/internal/model"
)

func TestValidateRunRequest(t *testing.T) {
    f := func(v float64) *float64 { return &v }
    base := func() model.RunRequest {
        return model.RunRequest{MappingRequest: model.MappingRequest{Coverage: map[int][]int{0: {0}}, Weights: []float64{1}}, Algorithm: model.AlgoExact, Budgets: []int{1}}
    }
    assert.NoError(t, validateRunRequest(ptr(base()), 10))

    invalid := map[string]func(r *model.RunRequest){
        "gap":            func(r *model.RunRequest) { r.Gap = f(1) },
        "time limit":     func(r *model.RunRequest) { r.TimeLimitSec = f(-1) },
        "parallel":       func(r *model.RunRequest) { r.Parallel = -2 },
        "no weights":     func(r *model.RunRequest) { r.Weights = nil },
        "neg weight":     func(r *model.RunRequest) { r.Weights = []float64{-1} },
        "no budgets":     func(r *model.RunRequest) { r.Budgets = nil },
        "budget cap":     func(r *model.RunRequest) { r.Budgets = []int{11} },
        "open w greedy":  func(r *model.RunRequest) { r.Algorithm = model.AlgoGreedy; r.AlreadyOpen = []int{0} },
        "maxAdditional":  func(r *model.RunRequest) { r.Algorithm = model.AlgoIncremental; r.MaxAdditional = -1 },
        "dup scenario":   func(r *model.RunRequest) { r.Algorithm = model.AlgoIncremental; r.Scenarios = []model.ScenarioInput{{Name: "a"}, {Name: "a"}} },
        "blank scenario": func(r *model.RunRequest) { r.Algorithm = model.AlgoIncremental; r.Scenarios = []model.ScenarioInput{{}} },
        "algorithm":      func(r *model.RunRequest) { r.Algorithm = "tabu" },
    }
    for name, mut := range invalid {
        r := base()
        mut(&r)
        err := validateRunRequest(&r, 10)
        assert.True(t, errors.IsNotValid(err), "%s: %v", name, err)
    }

    r := base()
    r.Backend = "gurobi"
    assert.True(t, errors.IsNotSupported(validateRunRequest(&r, 10)))

    r = base()
    r.Weights = nil
    r.Source = &model.SourceInput{Format: "csv"}
    assert.NoError(t, validateRunRequest(&r, 10))
}

func TestValidateOverrides(t *testing.T) {
    assert.NoError(t, validateOverrides(map[string]any{"backend": "bnb", "gap": 0.05, "timeLimitSec": 30.0, "parsimonious": false, "parallel": 2.0}))
    assert.True(t, errors.IsNotValid(validateOverrides(map[string]any{"bogus": true})))
}

func ptr[T any](v T) *T { return &v }
