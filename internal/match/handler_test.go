package match

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerprep/matching-service/internal/match/queue"
	httperrors "github.com/peerprep/matching-service/pkg/http/errors"
	"github.com/peerprep/matching-service/pkg/http/ws"
)

func newSessionServer(t *testing.T, store MatchStore) (*httptest.Server, *Coordinator) {
	t.Helper()
	hub := ws.NewHub(zerolog.Nop())
	c := NewCoordinator(
		store,
		staticPicker,
		NewHubTransport(hub, zerolog.Nop()),
		queue.NewSet(zerolog.Nop()),
		nil,
		Options{MaxWait: time.Minute},
		zerolog.Nop(),
	)
	handler := NewHandler(c, hub, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv, c
}

func dialSession(t *testing.T, srv *httptest.Server, participantID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?participant_id=" + participantID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readErrorPayload(t *testing.T, conn *websocket.Conn) ws.ErrorPayload {
	t.Helper()
	msg := readWSMessage(t, conn)
	require.Equal(t, ws.TypeError, msg.Type)
	var payload ws.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload
}

func sendLookForMatch(t *testing.T, conn *websocket.Conn, difficulties []string, language string) {
	t.Helper()
	payload, err := json.Marshal(ws.LookForMatchPayload{Difficulties: difficulties, Language: language})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeLookForMatch, Payload: payload}))
}

func TestHandleConnection_DuplicateSessionWhileEnqueued(t *testing.T) {
	srv, c := newSessionServer(t, newFakeStore())

	first := dialSession(t, srv, "p1")
	sendLookForMatch(t, first, []string{"easy"}, "python")
	require.Eventually(t, func() bool { return c.IsWaiting("p1") }, 2*time.Second, 10*time.Millisecond)

	// A second connection for the same enqueued participant is told off and
	// closed without touching the first session.
	second := dialSession(t, srv, "p1")
	payload := readErrorPayload(t, second)
	assert.Equal(t, httperrors.ErrCodeDuplicateSession, payload.Code)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	var discard ws.Message
	assert.Error(t, second.ReadJSON(&discard), "rejected connection must be closed")

	assert.True(t, c.IsWaiting("p1"), "original wait survives the rejected session")

	// The surviving session is still matchable through its original connection.
	peer := dialSession(t, srv, "p2")
	sendLookForMatch(t, peer, []string{"easy"}, "python")

	peerMsg := readWSMessage(t, peer)
	require.Equal(t, ws.TypeMatchFound, peerMsg.Type)
	firstMsg := readWSMessage(t, first)
	require.Equal(t, ws.TypeMatchFound, firstMsg.Type)

	var peerMatch, firstMatch ws.MatchPayload
	require.NoError(t, json.Unmarshal(peerMsg.Payload, &peerMatch))
	require.NoError(t, json.Unmarshal(firstMsg.Payload, &firstMatch))
	assert.Equal(t, peerMatch.RoomID, firstMatch.RoomID)
}

func TestHandleConnection_ExistingMatchRediscovery(t *testing.T) {
	store := newFakeStore()
	_, err := store.Create(context.Background(), Match{
		RoomID:           "room-1",
		ParticipantA:     "p1",
		ParticipantB:     "p2",
		ChosenDifficulty: "easy",
		ChosenLanguage:   "python",
		QuestionID:       "q1",
	})
	require.NoError(t, err)

	srv, _ := newSessionServer(t, store)

	// Connecting with a persisted match is informed of it immediately: an
	// already_matched error followed by the match itself.
	conn := dialSession(t, srv, "p1")
	payload := readErrorPayload(t, conn)
	assert.Equal(t, httperrors.ErrCodeAlreadyMatched, payload.Code)

	found := readWSMessage(t, conn)
	require.Equal(t, ws.TypeMatchFound, found.Type)
	var m ws.MatchPayload
	require.NoError(t, json.Unmarshal(found.Payload, &m))
	assert.Equal(t, "room-1", m.RoomID)
	assert.Equal(t, "q1", m.QuestionID)
}

func TestHandleConnection_WaitTimeoutDeliversMatchNotFound(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	c := NewCoordinator(
		newFakeStore(),
		staticPicker,
		NewHubTransport(hub, zerolog.Nop()),
		queue.NewSet(zerolog.Nop()),
		nil,
		Options{MaxWait: 50 * time.Millisecond},
		zerolog.Nop(),
	)
	handler := NewHandler(c, hub, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	conn := dialSession(t, srv, "p1")
	sendLookForMatch(t, conn, []string{"easy"}, "python")

	msg := readWSMessage(t, conn)
	assert.Equal(t, ws.TypeMatchNotFound, msg.Type)
}
