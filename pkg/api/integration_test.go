package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcforge/npcforge/pkg/api/events"
	"github.com/npcforge/npcforge/pkg/api/handlers"
	"github.com/npcforge/npcforge/pkg/model"
)

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func readJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// TestIntegration_TurnOverHTTP drives a full turn over a real listener and
// watches the resulting events arrive on the websocket stream.
func TestIntegration_TurnOverHTTP(t *testing.T) {
	h, broadcaster := createTestHandlers(t)
	srv := httptest.NewServer(NewRouter(testConfig(), testLogger(), h))
	defer srv.Close()

	done := make(chan struct{})
	defer close(done)
	go h.WebSocket.Forward(done, broadcaster.Subscribe(64))

	resp := postJSON(t, srv.URL+"/persona/create", model.PersonaInput{PersonaID: "persona_gandalf", Name: "Gandalf", Traits: []string{"wise"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/world/create", model.WorldInput{WorldID: "middle_earth", Title: "Middle-earth"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/npc/create", model.NPCInput{
		Name:         "Gandalf the Grey",
		PersonaID:    "persona_gandalf",
		WorldID:      "middle_earth",
		CurrentState: map[string]interface{}{"location": "shire"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var n model.NPC
	readJSON(t, resp, &n)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "npc_id": n.ID}))
	var ack handlers.EventMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, handlers.MessageSubscription, ack.Type)
	assert.Equal(t, 1, h.WebSocket.Count())

	resp = postJSON(t, srv.URL+"/npc/"+n.ID+"/turn", model.Observation{Actor: "player", Action: "Hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.TurnResult
	readJSON(t, resp, &result)
	assert.Equal(t, "talk", result.Action.ActionType)
	assert.True(t, result.Result.Success)

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !seen[events.TypeTurnCompleted] {
		var msg handlers.EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg.Type] = true
		payload, ok := msg.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, n.ID, payload["npc_id"])
	}
	assert.True(t, seen[events.TypeMemoryCreated])
	assert.True(t, seen[events.TypeToolExecuted])

	resp, err = http.Get(srv.URL + "/npc/" + n.ID + "/traces")
	require.NoError(t, err)
	var page handlers.TraceListResponse
	readJSON(t, resp, &page)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, result.TraceID, page.Traces[0].ID)
}
