package api

import (
    "encoding/json"
    "fmt"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "sitecover/internal/auth"
    "sitecover/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type    string          `json:"type"`
    ID      string          `json:"id,omitempty"`
    Payload json.RawMessage `json:"payload,omitempty"`
}

func terminal(evt SSEEvent) bool { return evt.Type == EventCompleted || evt.Type == EventFailed }

// finalEvent describes a run that has already finished.
func finalEvent(run model.Run) (SSEEvent, bool) {
    data := map[string]any{"runId": run.ID, "algorithm": run.Algorithm, "status": run.Status, "durationMs": run.DurationMs}
    switch run.Status {
    case model.RunCompleted:
        return SSEEvent{Type: EventCompleted, Data: data}, true
    case model.RunFailed:
        data["error"] = run.Error
        return SSEEvent{Type: EventFailed, Data: data}, true
    }
    return SSEEvent{}, false
}

// runEventStream serves GET /v1/runs/{id}/events/stream as server-sent events.
// The stream ends after the run completes or fails.
func (s *Server) runEventStream(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    // subscribe before the lookup so a run finishing in between is not missed
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
    if err != nil { writeError(w, r, "Get run failed", err); return }

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    send := func(evt SSEEvent) {
        b, _ := json.Marshal(evt.Data)
        fmt.Fprintf(w, "event: %s\n", evt.Type)
        fmt.Fprintf(w, "data: %s\n\n", string(b))
        flusher.Flush()
    }
    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    if evt, done := finalEvent(run); done {
        send(evt)
        return
    }
    ticker := time.NewTicker(15 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            send(evt)
            if terminal(evt) { return }
        case <-ticker.C:
            // the final event may have been dropped on a full buffer
            if run, err := s.Store.GetRun(r.Context(), p.Tenant, id); err == nil {
                if evt, done := finalEvent(run); done { send(evt); return }
            }
            heartbeat()
        }
    }
}

// runWebSocket serves GET /v1/runs/{id}/ws. Clients send connection_init and
// then subscribe with any id; run events arrive as next messages followed by
// complete once the run finishes.
func (s *Server) runWebSocket(w http.ResponseWriter, r *http.Request, runID string) {
    p, ok := s.authorize(w, r, auth.RoleViewer)
    if !ok { return }
    if _, err := s.Store.GetRun(r.Context(), p.Tenant, runID); err != nil { writeError(w, r, "Get run failed", err); return }
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil { return }
    defer func() { _ = conn.Close() }()

    var wmu sync.Mutex
    write := func(v any) error {
        wmu.Lock(); defer wmu.Unlock()
        _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
        return conn.WriteJSON(v)
    }
    next := func(id string, evt SSEEvent) error {
        payload, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
        return write(wsMessage{Type: "next", ID: id, Payload: payload})
    }

    subs := map[string]chan SSEEvent{}
    done := make(chan struct{})
    defer func() {
        close(done)
        for _, ch := range subs { s.Broker.Unsubscribe(runID, ch) }
    }()

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    acked := false
    for {
        var msg wsMessage
        if err := conn.ReadJSON(&msg); err != nil { return }
        _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
        switch msg.Type {
        case "connection_init":
            if acked { continue }
            acked = true
            _ = write(wsMessage{Type: "connection_ack"})
            go func() {
                ticker := time.NewTicker(20 * time.Second)
                defer ticker.Stop()
                for {
                    select {
                    case <-done:
                        return
                    case <-ticker.C:
                        if err := write(wsMessage{Type: "ping"}); err != nil { return }
                    }
                }
            }()
        case "ping":
            _ = write(wsMessage{Type: "pong"})
        case "subscribe":
            if !acked {
                _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"connection_init required"}`)})
                continue
            }
            if _, dup := subs[msg.ID]; dup { continue }
            ch := s.Broker.Subscribe(runID)
            subs[msg.ID] = ch
            run, err := s.Store.GetRun(r.Context(), p.Tenant, runID)
            if err != nil {
                _ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"run not found"}`)})
                _ = write(wsMessage{Type: "complete", ID: msg.ID})
                continue
            }
            if evt, finished := finalEvent(run); finished {
                _ = next(msg.ID, evt)
                _ = write(wsMessage{Type: "complete", ID: msg.ID})
                continue
            }
            go func(id string, c chan SSEEvent) {
                for {
                    select {
                    case <-done:
                        return
                    case evt, ok := <-c:
                        if !ok { return }
                        if next(id, evt) != nil { return }
                        if terminal(evt) {
                            _ = write(wsMessage{Type: "complete", ID: id})
                            return
                        }
                    }
                }
            }(msg.ID, ch)
        case "complete":
            if ch, ok := subs[msg.ID]; ok {
                s.Broker.Unsubscribe(runID, ch)
                delete(subs, msg.ID)
            }
        }
    }
}
