package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"questingbots.ai/internal/sim/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(func() BootstrapResponse {
		return BootstrapResponse{
			GraphBuilt: true,
			Quests:     []QuestInfo{{ID: "q1", Name: "Q", Priority: 1}},
		}
	}, nil)
	mux := http.NewServeMux()
	mux.Handle("/observer/bootstrap", s.BootstrapHandler())
	mux.Handle("/observer/ws", s.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, sub SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(sub))
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg EventMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBootstrap(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/observer/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
	assert.True(t, got.GraphBuilt)
	require.Len(t, got.Quests, 1)

	post, err := http.Post(ts.URL+"/observer/bootstrap", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestWS_StreamsFilteredEvents(t *testing.T) {
	s, ts := newTestServer(t)

	all := dial(t, ts, SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: ProtocolVersion})
	defer all.Close()
	one := dial(t, ts, SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: ProtocolVersion, AgentIDs: []string{"bot-2"}})
	defer one.Close()
	require.Eventually(t, func() bool { return s.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Emit(ledger.Event{Kind: ledger.EventAssigned, AgentID: "bot-1", AssignmentID: "a1"}))
	require.NoError(t, s.Emit(ledger.Event{Kind: ledger.EventCompleted, AgentID: "bot-2", AssignmentID: "a2"}))

	first := readEvent(t, all)
	assert.Equal(t, "EVENT", first.Type)
	assert.Equal(t, "a1", first.Event.AssignmentID)
	assert.Equal(t, "a2", readEvent(t, all).Event.AssignmentID)

	got := readEvent(t, one)
	assert.Equal(t, "bot-2", got.Event.AgentID)
	assert.Equal(t, ledger.EventCompleted, got.Event.Kind)
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, SubscribeMsg{Type: "HELLO", ProtocolVersion: ProtocolVersion})
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, 0, s.Subscribers())
}

func TestWS_UnsubscribesOnDisconnect(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: ProtocolVersion})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:1234":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackRemote(addr), addr)
	}
}
