// ABOUTME: Tests for the WebSocket battle streams
// ABOUTME: Covers list snapshot plus deltas and log replay-then-live ordering

package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/arena/internal/broadcast"
	"github.com/agentarena/arena/internal/store"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func TestBattleListWS_SnapshotThenDelta(t *testing.T) {
	f := newAPIFixture(t, nil)
	green, red := f.registerPair(t)

	conn := dialWS(t, wsURL(f.ts.URL, "/ws/battles"))

	var snapshot broadcast.ListMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, broadcast.ListSnapshot, snapshot.Type)
	assert.Empty(t, snapshot.Battles)

	resp, _ := f.do(t, http.MethodPost, "/battles", createBattleRequest{
		GreenAgentID: green.ID,
		Opponents:    []store.Opponent{{AgentID: red.ID, Name: "red_agent"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Battle creation publishes a fresh snapshot.
	var update broadcast.ListMessage
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, broadcast.ListSnapshot, update.Type)
	require.Len(t, update.Battles, 1)
	assert.Equal(t, store.BattleQueued, update.Battles[0].State)
}

func TestBattleLogsWS_ReplayThenLive(t *testing.T) {
	f := newAPIFixture(t, nil)
	battleID := f.runBattle(t)

	// Two events exist before the subscriber connects.
	for _, msg := range []string{"opening move", "counterattack"} {
		resp, _ := f.do(t, http.MethodPost, "/battles/"+battleID, battleEventRequest{
			Message:    msg,
			ReportedBy: "judge",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	conn := dialWS(t, wsURL(f.ts.URL, "/ws/battles/"+battleID+"/logs"))

	// Replay delivers the persisted history in append order. The queue also
	// records a "battle started" event before ours.
	var replayed []string
	for len(replayed) < 3 {
		var ev store.Event
		require.NoError(t, conn.ReadJSON(&ev))
		replayed = append(replayed, ev.Message)
	}
	assert.Equal(t, "opening move", replayed[1])
	assert.Equal(t, "counterattack", replayed[2])

	// A live event arrives after the replay.
	resp, _ := f.do(t, http.MethodPost, "/battles/"+battleID, battleEventRequest{
		Message:    "finishing blow",
		ReportedBy: "judge",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var live store.Event
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, "finishing blow", live.Message)
}

func TestBattleLogsWS_UnknownBattle(t *testing.T) {
	f := newAPIFixture(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f.ts.URL, "/ws/battles/nope/logs"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
