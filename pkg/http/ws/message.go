package ws

import "encoding/json"

// MessageType constants for the matching WebSocket protocol.
const (
	// Client -> Server
	TypeLookForMatch  = "look_for_match"
	TypeCancelLooking = "cancel_looking"
	TypeLeaveMatch    = "leave_match"
	TypeSendMessage   = "send_message"

	// Server -> Client
	TypeMatchFound     = "match_found"
	TypeMatchNotFound  = "match_not_found"
	TypeMatchLeft      = "match_left"
	TypeReceiveMessage = "receive_message"
	TypeError          = "error"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Client Messages (incoming)

type LookForMatchPayload struct {
	Difficulties []string `json:"difficulties"`
	Language     string   `json:"language"`
}

type SendMessagePayload struct {
	Message string `json:"message"`
}

// Server Messages (outgoing)

// MatchPayload mirrors the persisted match record sent to both participants.
type MatchPayload struct {
	RoomID           string `json:"room_id"`
	ParticipantA     string `json:"participant_a"`
	ParticipantB     string `json:"participant_b"`
	ChosenDifficulty string `json:"chosen_difficulty"`
	ChosenLanguage   string `json:"chosen_language"`
	QuestionID       string `json:"question_id"`
	CreatedAt        string `json:"created_at"`
}

type ReceiveMessagePayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
