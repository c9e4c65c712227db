package api

import (
	"github.com/juju/errors"

	"sitecover/internal/model"
	"sitecover/internal/opt"
)

// validateRunRequest rejects malformed requests before any model is built.
// The backend is resolved first so an unknown solver fails as NotSupported.
func validateRunRequest(req *model.RunRequest, maxBudget int) error {
	if req.Backend != "" {
		if _, err := opt.Lookup(req.Backend); err != nil {
			return err
		}
	}
	if req.TimeLimitSec != nil && *req.TimeLimitSec < 0 {
		return errors.NotValidf("timeLimitSec %v", *req.TimeLimitSec)
	}
	if req.Gap != nil && (*req.Gap < 0 || *req.Gap >= 1) {
		return errors.NotValidf("gap %v", *req.Gap)
	}
	if req.Parallel < 0 {
		return errors.NotValidf("parallel %d", req.Parallel)
	}
	if len(req.Weights) == 0 && req.Source == nil {
		return errors.NotValidf("empty weights")
	}
	for i, v := range req.Weights {
		if v < 0 {
			return errors.NotValidf("weight %d is negative", i)
		}
	}
	switch req.Algorithm {
	case model.AlgoExact, model.AlgoGreedy, model.AlgoGreedyLS:
		if len(req.Budgets) == 0 {
			return errors.NotValidf("empty budgets")
		}
		for _, b := range req.Budgets {
			if b < 0 {
				return errors.NotValidf("budget %d", b)
			}
			if maxBudget > 0 && b > maxBudget {
				return errors.NotValidf("budget %d above limit %d", b, maxBudget)
			}
		}
		if req.Algorithm != model.AlgoExact && len(req.AlreadyOpen) > 0 {
			return errors.NotValidf("alreadyOpen with %s", req.Algorithm)
		}
	case model.AlgoIncremental:
		if req.MaxAdditional < 0 || (maxBudget > 0 && req.MaxAdditional > maxBudget) {
			return errors.NotValidf("maxAdditional %d", req.MaxAdditional)
		}
		seen := map[string]bool{}
		for _, sc := range req.Scenarios {
			if sc.Name == "" || seen[sc.Name] {
				return errors.NotValidf("scenario name %q", sc.Name)
			}
			seen[sc.Name] = true
		}
	default:
		return errors.NotValidf("algorithm %q", req.Algorithm)
	}
	return nil
}
