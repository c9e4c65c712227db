package model

import "time"

// Algorithms accepted by POST /v1/runs.
const (
    AlgoExact       = "exact"
    AlgoGreedy      = "greedy"
    AlgoGreedyLS    = "greedy_ls"
    AlgoIncremental = "incremental"
)

// Run statuses.
const (
    RunRunning   = "running"
    RunCompleted = "completed"
    RunFailed    = "failed"
)

// MappingRequest carries raw coverage for POST /v1/mappings and is embedded
// in every run request. Coverage keys are site identifiers, values are
// indices into Weights.
type MappingRequest struct {
    Coverage map[int][]int `json:"coverage"`
    Weights  []float64     `json:"weights"`
    Covered  []int         `json:"covered,omitempty"`
}

// MappingStats describes a built mapping.
type MappingStats struct {
    Sites             int     `json:"sites"`
    Demand            int     `json:"demand"`
    Links             int     `json:"links"`
    Unreachable       int     `json:"unreachable"`
    ReachableWeight   float64 `json:"reachableWeight"`
    ReachableFraction float64 `json:"reachableFraction"`
}

type RunRequest struct {
    MappingRequest
    TenantID      string          `json:"tenantId"`
    Name          string          `json:"name,omitempty"`
    Algorithm     string          `json:"algorithm"`
    Budgets       []int           `json:"budgets,omitempty"`
    AlreadyOpen   []int           `json:"alreadyOpen,omitempty"`
    Existing      map[int][]int   `json:"existing,omitempty"`
    Scenarios     []ScenarioInput `json:"scenarios,omitempty"`
    MaxAdditional int             `json:"maxAdditional,omitempty"`
    Parsimonious  *bool           `json:"parsimonious,omitempty"`
    TimeLimitSec  *float64        `json:"timeLimitSec,omitempty"`
    Gap           *float64        `json:"gap,omitempty"`
    Backend       string          `json:"backend,omitempty"`
    Parallel      int             `json:"parallel,omitempty"`
    Source        *SourceInput    `json:"source,omitempty"`
}

// SourceInput loads coverage and weights from server-side files instead of
// the request body. Only admins may use it.
type SourceInput struct {
    Format     string  `json:"format"` // csv or parquet
    Distances  string  `json:"distances"`
    Population string  `json:"population"`
    Threshold  float64 `json:"threshold"`
}

// ScenarioInput is one named accessibility variant of an incremental run.
type ScenarioInput struct {
    Name     string        `json:"name"`
    Existing map[int][]int `json:"existing,omitempty"`
    Coverage map[int][]int `json:"coverage"`
}

type Run struct {
    ID          string              `json:"id"`
    TenantID    string              `json:"tenantId"`
    Name        string              `json:"name,omitempty"`
    Algorithm   string              `json:"algorithm"`
    Backend     string              `json:"backend,omitempty"`
    Status      string              `json:"status"`
    Error       string              `json:"error,omitempty"`
    CreatedAt   time.Time           `json:"createdAt"`
    DurationMs  int64               `json:"durationMs"`
    Mapping     *MappingStats       `json:"mapping,omitempty"`
    Results     []BudgetResult      `json:"results,omitempty"`
    Incremental []IncrementalResult `json:"incremental,omitempty"`
}

// BudgetResult is the outcome for one budget of a sweep.
type BudgetResult struct {
    Budget      int          `json:"budget"`
    Solution    []int        `json:"solution"`
    Value       float64      `json:"value"`
    Coverage    float64      `json:"coverage"`
    UpperBound  *float64     `json:"upperBound,omitempty"`
    Termination string       `json:"termination,omitempty"`
    ModelingMs  float64      `json:"modelingMs,omitempty"`
    SolvingMs   float64      `json:"solvingMs"`
    Increments  []float64    `json:"increments,omitempty"`
    Trace       []TracePoint `json:"trace,omitempty"`
}

type TracePoint struct {
    ElapsedMs float64 `json:"elapsedMs"`
    Objective float64 `json:"objective"`
}

type IncrementalResult struct {
    Scenario        string            `json:"scenario,omitempty"`
    CoveredExisting float64           `json:"coveredExisting"`
    Exact           BudgetResult      `json:"exact"`
    Steps           []IncrementalStep `json:"steps"`
}

type IncrementalStep struct {
    Budget     int       `json:"budget"`
    Solution   []int     `json:"solution"`
    Increments []float64 `json:"increments,omitempty"`
    Served     int       `json:"served"`
    Coverage   float64   `json:"coverage"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
