package opt

import (
	"sync"
	"time"
)

// SweepStats summarizes the sweeps one tenant ran with one algorithm.
type SweepStats struct {
	Sweeps      int           `json:"sweeps"`
	Budgets     int           `json:"budgets"`
	TimeLimited int           `json:"timeLimited"`
	SolvingTime time.Duration `json:"solvingTimeNs"`
	BestValue   float64       `json:"bestValue"`
}

type statsKey struct {
	Tenant string
	Algo   string
}

var (
	statsMu sync.Mutex
	stats   = map[statsKey]SweepStats{}
)

// RecordSweep folds the records of one sweep into the tenant's totals.
func RecordSweep(tenant, algo string, recs map[int]Record) {
	statsMu.Lock()
	defer statsMu.Unlock()
	k := statsKey{Tenant: tenant, Algo: algo}
	st := stats[k]
	st.Sweeps++
	for _, r := range recs {
		st.Budgets++
		st.SolvingTime += r.SolvingTime
		if r.Termination == TimeLimit {
			st.TimeLimited++
		}
		if r.Value > st.BestValue {
			st.BestValue = r.Value
		}
	}
	stats[k] = st
}

// GetSweepStats returns the totals per algorithm for tenant.
func GetSweepStats(tenant string) map[string]SweepStats {
	statsMu.Lock()
	defer statsMu.Unlock()
	out := map[string]SweepStats{}
	for k, v := range stats {
		if k.Tenant == tenant {
			out[k.Algo] = v
		}
	}
	return out
}
