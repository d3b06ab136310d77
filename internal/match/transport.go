package match

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/peerprep/matching-service/pkg/http/ws"
)

// HubTransport adapts the WebSocket hub to the coordinator's Transport
// boundary. Delivery failures are logged and swallowed: the peer may simply
// be offline, which is allowed.
type HubTransport struct {
	hub    *ws.Hub
	logger zerolog.Logger
}

// NewHubTransport creates a hub-backed transport.
func NewHubTransport(hub *ws.Hub, logger zerolog.Logger) *HubTransport {
	return &HubTransport{
		hub:    hub,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// MatchLeft tells a participant their match was dissolved and drops them from
// the hub room.
func (t *HubTransport) MatchLeft(participantID string, m Match) {
	msg := ws.Message{Type: ws.TypeMatchLeft}
	msg.Payload, _ = json.Marshal(toWSMatch(&m))
	if err := t.hub.SendToParticipant(participantID, msg); err != nil {
		t.logger.Warn().Err(err).Str("participant_id", participantID).Msg("match_left delivery failed")
	}
	t.hub.LeaveRoom(m.RoomID, participantID)
}

// ReceiveMessage forwards a chat message to a participant.
func (t *HubTransport) ReceiveMessage(participantID, from, text string) {
	msg := ws.Message{Type: ws.TypeReceiveMessage}
	msg.Payload, _ = json.Marshal(ws.ReceiveMessagePayload{From: from, Message: text})
	if err := t.hub.SendToParticipant(participantID, msg); err != nil {
		t.logger.Warn().Err(err).Str("participant_id", participantID).Msg("receive_message delivery failed")
	}
}

func toWSMatch(m *Match) ws.MatchPayload {
	return ws.MatchPayload{
		RoomID:           m.RoomID,
		ParticipantA:     m.ParticipantA,
		ParticipantB:     m.ParticipantB,
		ChosenDifficulty: m.ChosenDifficulty,
		ChosenLanguage:   m.ChosenLanguage,
		QuestionID:       m.QuestionID,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
}
