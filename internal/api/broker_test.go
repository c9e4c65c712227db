package api

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("r1")
    other := b.Subscribe("r2")

    b.Publish("r1", SSEEvent{Type: EventBudget, Data: map[string]any{"budget": 1}})
    select {
    case got := <-ch:
        assert.Equal(t, EventBudget, got.Type)
        assert.Equal(t, 1, got.Data["budget"])
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }
    assert.Empty(t, other)

    b.Unsubscribe("r1", ch)
    _, ok := <-ch
    assert.False(t, ok, "channel should be closed after unsubscribe")
    // a second unsubscribe is a no-op
    b.Unsubscribe("r1", ch)
    b.Publish("r1", SSEEvent{Type: EventCompleted})
}

func TestBrokerDropsWhenFull(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("r")
    for i := 0; i < cap(ch)+5; i++ {
        b.Publish("r", SSEEvent{Type: EventBudget})
    }
    require.Len(t, ch, cap(ch))
}
