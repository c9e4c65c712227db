package api

import (
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "sitecover/internal/config"
    "sitecover/internal/model"
)

const scenarioBody = `{"algorithm":"%s","coverage":{"0":[0,1],"1":[1,2]},"weights":[10,20,5],"budgets":[0,1,2]}`

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg := config.Default()
    cfg.RateRPS = 0
    s, err := NewServerWithConfig(cfg)
    require.NoError(t, err)
    return s
}

func do(t *testing.T, h http.HandlerFunc, method, path, role, body string) *httptest.ResponseRecorder {
    t.Helper()
    var rd io.Reader
    if body != "" { rd = strings.NewReader(body) }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Tenant-Id", "t_test")
    if role != "" { req.Header.Set("X-Role", role) }
    rr := httptest.NewRecorder()
    h(rr, req)
    return rr
}

func decodeRun(t *testing.T, rr *httptest.ResponseRecorder) model.Run {
    t.Helper()
    var run model.Run
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
    return run
}

func scenario(algo string) string { return strings.Replace(scenarioBody, "%s", algo, 1) }

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    assert.Equal(t, 200, rr.Code)
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    assert.Equal(t, 200, rr.Code)
}

func TestExactRunScenario(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario("exact"))
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    run := decodeRun(t, rr)
    assert.Equal(t, model.RunCompleted, run.Status)
    assert.Equal(t, "t_test", run.TenantID)
    assert.Equal(t, "bnb", run.Backend)
    require.NotNil(t, run.Mapping)
    assert.Equal(t, 2, run.Mapping.Sites)
    assert.Equal(t, 3, run.Mapping.Demand)

    require.Len(t, run.Results, 3)
    want := []float64{0, 30, 35}
    for k, res := range run.Results {
        assert.Equal(t, k, res.Budget)
        assert.InDelta(t, want[k], res.Value, 1e-9)
        assert.Equal(t, "optimal", res.Termination)
        assert.LessOrEqual(t, len(res.Solution), res.Budget)
    }
    assert.Empty(t, run.Results[0].Solution)
    assert.Equal(t, []int{0}, run.Results[1].Solution)
    assert.ElementsMatch(t, []int{0, 1}, run.Results[2].Solution)
    assert.InDelta(t, 1.0, run.Results[2].Coverage, 1e-9)

    rr = do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID, "viewer", "")
    require.Equal(t, 200, rr.Code)
    assert.Equal(t, run.ID, decodeRun(t, rr).ID)
}

func TestGreedyRunsMatchScenario(t *testing.T) {
    s := newTestServer(t)
    for _, algo := range []string{"greedy", "greedy_ls"} {
        rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario(algo))
        require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
        run := decodeRun(t, rr)
        require.Len(t, run.Results, 3)
        assert.InDelta(t, 30.0, run.Results[1].Value, 1e-9, algo)
        assert.InDelta(t, 35.0, run.Results[2].Value, 1e-9, algo)
        assert.Empty(t, run.Backend)
    }
    rr := do(t, s.RunsHandler, http.MethodGet, "/v1/runs?algorithm=greedy", "viewer", "")
    require.Equal(t, 200, rr.Code)
    var page struct{ Items []model.Run `json:"items"` }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
    require.Len(t, page.Items, 1)
    assert.Equal(t, "greedy", page.Items[0].Algorithm)
}

func TestIncrementalRun(t *testing.T) {
    s := newTestServer(t)
    body := `{"algorithm":"incremental","existing":{"100":[0]},"coverage":{"1":[1],"2":[2]},"weights":[1,1,1],"maxAdditional":2}`
    rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", body)
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    run := decodeRun(t, rr)
    require.Len(t, run.Incremental, 1)
    inc := run.Incremental[0]
    assert.InDelta(t, 1.0/3, inc.CoveredExisting, 1e-9)
    require.Len(t, inc.Steps, 3)
    assert.Equal(t, 3, inc.Steps[2].Served)
    assert.InDelta(t, 1.0, inc.Steps[2].Coverage, 1e-9)
}

func TestRunErrors(t *testing.T) {
    s := newTestServer(t)
    cases := []struct {
        name, role, body string
        code             int
    }{
        {"unknown backend", "planner", `{"algorithm":"exact","backend":"cplex","coverage":{"0":[0]},"weights":[1],"budgets":[1]}`, 400},
        {"demand out of range", "planner", `{"algorithm":"exact","coverage":{"0":[5]},"weights":[1],"budgets":[1]}`, 422},
        {"negative budget", "planner", `{"algorithm":"greedy","coverage":{"0":[0]},"weights":[1],"budgets":[-1]}`, 422},
        {"unknown algorithm", "planner", `{"algorithm":"annealing","coverage":{"0":[0]},"weights":[1],"budgets":[1]}`, 422},
        {"bad json", "planner", `{`, 400},
        {"viewer cannot solve", "viewer", scenario("exact"), 403},
        {"source needs admin", "planner", `{"algorithm":"greedy","budgets":[1],"source":{"format":"csv","distances":"d.csv","population":"p.csv","threshold":1}}`, 403},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", tc.role, tc.body)
            assert.Equal(t, tc.code, rr.Code, rr.Body.String())
            assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
        })
    }
}

func TestDeleteRunRequiresAdmin(t *testing.T) {
    s := newTestServer(t)
    run := decodeRun(t, do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario("greedy")))
    assert.Equal(t, 403, do(t, s.RunByIDHandler, http.MethodDelete, "/v1/runs/"+run.ID, "planner", "").Code)
    assert.Equal(t, 204, do(t, s.RunByIDHandler, http.MethodDelete, "/v1/runs/"+run.ID, "admin", "").Code)
    assert.Equal(t, 404, do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID, "admin", "").Code)
}

func TestAsyncRunAndEventStream(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs?async=true", "planner", scenario("exact"))
    require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
    run := decodeRun(t, rr)
    assert.Equal(t, "/v1/runs/"+run.ID, rr.Header().Get("Location"))

    require.Eventually(t, func() bool {
        got := do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID, "viewer", "")
        return got.Code == 200 && decodeRun(t, got).Status == model.RunCompleted
    }, 5*time.Second, 10*time.Millisecond)

    // a finished run replays its final event and closes the stream
    rr = do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID+"/events/stream", "viewer", "")
    require.Equal(t, 200, rr.Code)
    assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
    assert.Contains(t, rr.Body.String(), "event: heartbeat")
    assert.Contains(t, rr.Body.String(), "event: run.completed")

    assert.Equal(t, 404, do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/missing/events/stream", "viewer", "").Code)
}

func TestRunWebSocket(t *testing.T) {
    s := newTestServer(t)
    run := decodeRun(t, do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario("greedy")))

    mux := http.NewServeMux()
    mux.HandleFunc("/v1/runs/", s.RunByIDHandler)
    srv := httptest.NewServer(mux)
    defer srv.Close()

    hdr := http.Header{"X-Tenant-Id": {"t_test"}, "X-Role": {"viewer"}}
    conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/runs/"+run.ID+"/ws", hdr)
    require.NoError(t, err)
    defer conn.Close()
    _ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

    var msg wsMessage
    require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "connection_ack", msg.Type)

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}))
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "next", msg.Type)
    assert.Equal(t, "1", msg.ID)
    var evt SSEEvent
    require.NoError(t, json.Unmarshal(msg.Payload, &evt))
    assert.Equal(t, EventCompleted, evt.Type)
    assert.Equal(t, run.ID, evt.Data["runId"])
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "complete", msg.Type)

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "pong", msg.Type)
}

func TestMappingsHandler(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.MappingsHandler, http.MethodPost, "/v1/mappings", "planner", `{"coverage":{"0":[0,1],"1":[1,2]},"weights":[10,20,5,7]}`)
    require.Equal(t, 200, rr.Code, rr.Body.String())
    var st model.MappingStats
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
    assert.Equal(t, 2, st.Sites)
    assert.Equal(t, 1, st.Unreachable)
    assert.InDelta(t, 35.0, st.ReachableWeight, 1e-9)

    rr = do(t, s.MappingsHandler, http.MethodPost, "/v1/mappings?strict=true", "planner", `{"coverage":{"0":[0,1],"1":[1,2]},"weights":[10,20,5,7]}`)
    assert.Equal(t, 422, rr.Code)
    rr = do(t, s.MappingsHandler, http.MethodPost, "/v1/mappings", "planner", `{"coverage":{"0":[3]},"weights":[1]}`)
    assert.Equal(t, 422, rr.Code)
    rr = do(t, s.MappingsHandler, http.MethodPost, "/v1/mappings", "viewer", `{"coverage":{"0":[0]},"weights":[1]}`)
    assert.Equal(t, 403, rr.Code)
}

func TestOptimizerConfigOverrides(t *testing.T) {
    s := newTestServer(t)
    assert.Equal(t, 403, do(t, s.AdminOptimizerConfigHandler, http.MethodPut, "/v1/admin/optimizer/config", "planner", `{"config":{"gap":0.1}}`).Code)
    assert.Equal(t, 422, do(t, s.AdminOptimizerConfigHandler, http.MethodPut, "/v1/admin/optimizer/config", "admin", `{"config":{"bogus":1}}`).Code)
    require.Equal(t, 200, do(t, s.AdminOptimizerConfigHandler, http.MethodPut, "/v1/admin/optimizer/config", "admin", `{"config":{"gap":0.1}}`).Code)

    rr := do(t, s.OptimizerConfigHandler, http.MethodGet, "/v1/optimizer/config", "viewer", "")
    require.Equal(t, 200, rr.Code)
    var body struct{ Defaults map[string]any `json:"defaults"` }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
    assert.InDelta(t, 0.1, body.Defaults["gap"], 1e-12)
    assert.Equal(t, "bnb", body.Defaults["backend"])
    assert.InDelta(t, 60.0, body.Defaults["timeLimitSec"], 1e-12)
}

func TestSolversAndStats(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s.SolversHandler, http.MethodGet, "/v1/solvers", "viewer", "")
    require.Equal(t, 200, rr.Code)
    assert.Contains(t, rr.Body.String(), `"bnb"`)

    do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario("greedy"))
    rr = do(t, s.OptimizerStatsHandler, http.MethodGet, "/v1/optimizer/stats", "viewer", "")
    require.Equal(t, 200, rr.Code)
    assert.Contains(t, rr.Body.String(), `"greedy"`)
}

func TestWebhookOnRunCompleted(t *testing.T) {
    s := newTestServer(t)
    sub := `{"url":"http://hooks.invalid/cb","events":["run.completed"],"secret":"k"}`
    assert.Equal(t, 403, do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", "planner", sub).Code)
    require.Equal(t, 201, do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", "admin", sub).Code)
    assert.Equal(t, 422, do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", "admin", `{"url":""}`).Code)

    do(t, s.RunsHandler, http.MethodPost, "/v1/runs", "planner", scenario("greedy"))
    rr := do(t, s.WebhookDeliveriesHandler, http.MethodGet, "/v1/admin/webhook-deliveries", "admin", "")
    require.Equal(t, 200, rr.Code)
    var page struct{ Items []map[string]any `json:"items"` }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
    require.Len(t, page.Items, 1)
    assert.Equal(t, "run.completed", page.Items[0]["eventType"])

    assert.Equal(t, 404, do(t, s.WebhookDeliveriesHandler, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", "admin", "").Code)
    assert.Equal(t, 404, do(t, s.WebhookDLQHandler, http.MethodPost, "/v1/admin/webhook-dlq/nope/requeue", "admin", "").Code)
}

func TestRateLimited(t *testing.T) {
    s := newTestServer(t)
    s.Limiter = NewTenantLimiter(0.001, 1)
    h := s.RateLimited(s.RunsHandler)
    assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/runs", "planner", scenario("greedy")).Code)
    rr := do(t, h, http.MethodPost, "/v1/runs", "planner", scenario("greedy"))
    assert.Equal(t, http.StatusTooManyRequests, rr.Code)
    assert.Equal(t, "1", rr.Header().Get("Retry-After"))
    // reads are not limited
    assert.Equal(t, 200, do(t, h, http.MethodGet, "/v1/runs", "viewer", "").Code)
}

