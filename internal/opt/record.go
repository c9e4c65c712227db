package opt

import "time"

// Termination classifies how an exact solve ended.
type Termination string

const (
	Optimal    Termination = "optimal"
	TimeLimit  Termination = "time_limit"
	Infeasible Termination = "infeasible"
	Failed     Termination = "error"
)

// Record is the outcome for one budget of a sweep. Records are returned by
// value and never touched again by the solver that produced them.
type Record struct {
	Budget   int
	Solution []int   // site identifiers; for heuristics in selection order
	Value    float64 // covered weight, excluding any parsimony term

	// Exact solves only.
	UpperBound   float64
	Termination  Termination
	ModelingTime time.Duration

	SolvingTime time.Duration

	// Greedy only: weight added by each selection, in order.
	Increments []float64
	// Heuristics only: number of open sites covering each demand index.
	Counter []int32
	// Local search only: objective after every accepted swap.
	Trace []TracePoint
}

// TracePoint is one step of a local search convergence trace.
type TracePoint struct {
	Elapsed   time.Duration
	Objective float64
}
