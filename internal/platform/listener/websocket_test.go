package listener

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-engine/core/internal/config"
	"github.com/yawl-engine/core/internal/platform/logging"
	"github.com/yawl-engine/core/pkg/announce"
)

func testHub(t *testing.T) *WebsocketHub {
	t.Helper()
	return NewWebsocketHub(config.ListenerConfig{WebSocketBufferSize: 16}, logging.Default())
}

func fakeClient(caseID string) *WebsocketClient {
	return &WebsocketClient{ID: "c1", send: make(chan []byte, 4), caseID: caseID}
}

func TestWebsocketHub_BroadcastToCase_MatchingSubscriber(t *testing.T) {
	h := testHub(t)
	c := fakeClient("case-1")
	h.Register(c)
	time.Sleep(10 * time.Millisecond)

	h.BroadcastToCase("case-1", []byte(`{"kind":"case_launched"}`))

	select {
	case msg := <-c.send:
		assert.Contains(t, string(msg), "case_launched")
	case <-time.After(time.Second):
		t.Fatal("expected message was not delivered")
	}
}

func TestWebsocketHub_BroadcastToCase_NonMatchingSubscriberSkipped(t *testing.T) {
	h := testHub(t)
	c := fakeClient("case-2")
	h.Register(c)
	time.Sleep(10 * time.Millisecond)

	h.BroadcastToCase("case-1", []byte(`{"kind":"case_launched"}`))

	select {
	case <-c.send:
		t.Fatal("client subscribed to a different case should not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebsocketHub_BroadcastToCase_UnscopedSubscriberReceivesAll(t *testing.T) {
	h := testHub(t)
	c := fakeClient("")
	h.Register(c)
	time.Sleep(10 * time.Millisecond)

	h.BroadcastToCase("any-case", []byte(`{"kind":"case_launched"}`))

	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("unscoped client should receive events for every case")
	}
}

func TestWebsocketListener_HandleEvent_MarshalsAndBroadcasts(t *testing.T) {
	h := testHub(t)
	c := fakeClient("case-1")
	h.Register(c)
	time.Sleep(10 * time.Millisecond)

	l := NewWebsocketListener(h, nil, logging.Default())
	assert.Equal(t, "websocket", l.Name())
	assert.Nil(t, l.Filter())

	event := announce.Event{
		Kind:       announce.KindWorkItemCompleted,
		CaseID:     "case-1",
		WorkItemID: "wi-1",
		Timestamp:  time.Unix(0, 0).UTC(),
		Seq:        3,
		Message:    "done",
	}
	err := l.HandleEvent(context.Background(), event)
	require.NoError(t, err)

	select {
	case msg := <-c.send:
		var decoded eventMessage
		require.NoError(t, json.Unmarshal(msg, &decoded))
		assert.Equal(t, string(announce.KindWorkItemCompleted), decoded.Kind)
		assert.Equal(t, "case-1", decoded.CaseID)
		assert.Equal(t, "wi-1", decoded.WorkItemID)
		assert.Equal(t, uint64(3), decoded.Seq)
		assert.Equal(t, "done", decoded.Message)
	case <-time.After(time.Second):
		t.Fatal("expected the listener to broadcast the marshaled event")
	}
}

func TestWebsocketHub_ClientCountAndUnregister(t *testing.T) {
	h := testHub(t)
	c := fakeClient("")
	h.Register(c)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.ClientCount())
}
