//go:build postgres_integration

package store

import (
    "os"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "sitecover/internal/model"
)

func TestPostgresRunRoundTrip(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    require.NoError(t, err)
    require.NoError(t, p.Ping(t.Context()))
    require.NoError(t, p.MigrateDir("../../db/migrations"))
    // a second pass is a no-op
    require.NoError(t, p.MigrateDir("../../db/migrations"))

    run, err := p.CreateRun(t.Context(), model.Run{TenantID: "t_it", Algorithm: model.AlgoGreedy, Status: model.RunCompleted,
        Results: []model.BudgetResult{{Budget: 1, Solution: []int{4}, Value: 3}}})
    require.NoError(t, err)
    got, err := p.GetRun(t.Context(), "t_it", run.ID)
    require.NoError(t, err)
    require.Len(t, got.Results, 1)
    assert.Equal(t, []int{4}, got.Results[0].Solution)

    list, _, err := p.ListRuns(t.Context(), "t_it", model.AlgoGreedy, "", 10)
    require.NoError(t, err)
    assert.NotEmpty(t, list)
    require.NoError(t, p.DeleteRun(t.Context(), "t_it", run.ID))
    _, err = p.GetRun(t.Context(), "t_it", run.ID)
    assert.ErrorIs(t, err, ErrNotFound)
}
