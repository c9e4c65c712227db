package opt

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Limits bound a single exact solve.
type Limits struct {
	TimeLimit time.Duration // zero means no limit
	Gap       float64       // relative optimality gap accepted as optimal
	// NodeLimit stops a search after that many node expansions, reported
	// like a time limit. Zero means unlimited. Backends without a node
	// notion ignore it.
	NodeLimit int
}

// Result is what a Backend reports for one solve. Bound is an upper bound on
// the model objective; Open is nil when Status is Infeasible.
type Result struct {
	Status    Termination
	Objective float64
	Bound     float64
	Open      []bool
}

// Backend solves a Model. Hitting the time limit is not an error: the
// backend returns its incumbent with Status TimeLimit and the best bound it
// proved. An error is reserved for failures of the backend itself.
type Backend interface {
	Name() string
	Solve(ctx context.Context, md *Model, lim Limits) (Result, error)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]func() Backend{}
)

// Register makes a backend available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, factory func() Backend) {
	backendsMu.Lock()
	backends[name] = factory
	backendsMu.Unlock()
}

// Lookup returns a fresh backend for name. Unknown names are a configuration
// error (errors.IsNotSupported).
func Lookup(name string) (Backend, error) {
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, errors.NotSupportedf("solver %q (available: %v)", name, Backends())
	}
	return f(), nil
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func init() {
	Register(BranchAndBoundName, func() Backend { return &BranchAndBound{} })
}
