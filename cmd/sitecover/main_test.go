package main

import (
    "context"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/juju/errors"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseBudgets(t *testing.T) {
    bs, err := parseBudgets("3, 1,2,1")
    require.NoError(t, err)
    assert.Equal(t, []int{1, 2, 3}, bs)
    _, err = parseBudgets("1,-2")
    assert.True(t, errors.IsNotValid(err))
    _, err = parseBudgets("x")
    assert.True(t, errors.IsNotValid(err))
}

func TestRunWritesLP(t *testing.T) {
    dir := t.TempDir()
    dist := filepath.Join(dir, "d.csv")
    pop := filepath.Join(dir, "p.csv")
    require.NoError(t, os.WriteFile(dist, []byte("site,demand,distance\n0,0,1\n0,1,2\n1,1,1\n1,2,5\n"), 0o644))
    require.NoError(t, os.WriteFile(pop, []byte("demand,weight\n0,10\n1,20\n2,5\n"), 0o644))
    lp := filepath.Join(dir, "m.lp")

    require.NoError(t, run(context.Background(), "csv", dist, pop, 5, "exact", "1,2", lp, ""))
    b, err := os.ReadFile(lp)
    require.NoError(t, err)
    assert.True(t, strings.HasPrefix(string(b), "\\ sitecover MCLP: 2 sites, 3 demand, budget 2"))

    err = run(context.Background(), "xml", dist, pop, 5, "exact", "1", "", "")
    assert.True(t, errors.IsNotSupported(err))
}

func TestRunConvertsToParquet(t *testing.T) {
    dir := t.TempDir()
    dist := filepath.Join(dir, "d.csv")
    pop := filepath.Join(dir, "p.csv")
    require.NoError(t, os.WriteFile(dist, []byte("site,demand,distance\n0,0,1\n"), 0o644))
    require.NoError(t, os.WriteFile(pop, []byte("demand,weight\n0,3\n"), 0o644))
    prefix := filepath.Join(dir, "out")
    require.NoError(t, run(context.Background(), "csv", dist, pop, 1, "greedy", "1", "", prefix))
    assert.FileExists(t, prefix+"_distances.parquet")
    assert.FileExists(t, prefix+"_population.parquet")
    require.NoError(t, run(context.Background(), "parquet", prefix+"_distances.parquet", prefix+"_population.parquet", 1, "greedy", "1", "", ""))
}
