package metrics

import (
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus/testutil"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestObserveSolve(t *testing.T) {
    RegisterDefault()
    before := testutil.ToFloat64(Solves.WithLabelValues("exact", "optimal"))
    ObserveSolve("exact", []string{"optimal", "optimal", "time_limit"}, 20*time.Millisecond)
    assert.Equal(t, before+2, testutil.ToFloat64(Solves.WithLabelValues("exact", "optimal")))

    rr := httptest.NewRecorder()
    Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    require.Equal(t, 200, rr.Code)
    assert.True(t, strings.Contains(rr.Body.String(), "sitecover_solves_total"))
}

func TestMiddlewareRecordsStatus(t *testing.T) {
    h := Middleware(func(*http.Request) string { return "/v1/runs/{id}" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTeapot)
    }))
    before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/v1/runs/{id}", "418"))
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil))
    assert.Equal(t, http.StatusTeapot, rr.Code)
    assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/v1/runs/{id}", "418")))
}
