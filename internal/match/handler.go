package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/peerprep/matching-service/internal/metrics"
	httperrors "github.com/peerprep/matching-service/pkg/http/errors"
	"github.com/peerprep/matching-service/pkg/http/ws"
)

// Handler binds a connected participant's events to the coordinator and owns
// the per-connection lifecycle: duplicate-session rejection, existing-match
// re-discovery, event dispatch and disconnect cleanup.
type Handler struct {
	coordinator *Coordinator
	hub         *ws.Hub
	logger      zerolog.Logger
}

// NewHandler creates a session lifecycle handler.
func NewHandler(coordinator *Coordinator, hub *ws.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		hub:         hub,
		logger:      logger.With().Str("component", "session").Logger(),
	}
}

// HandleConnection processes a new WebSocket connection for a participant.
// Blocks until the connection goes away.
func (h *Handler) HandleConnection(conn *websocket.Conn, participantID string) {
	wsConn := ws.NewConnection(conn, h.logger)
	go wsConn.WritePump()

	// Enqueued state is single-session: a second connection for a waiting
	// participant is told off and closed without touching the first one.
	if h.coordinator.IsWaiting(participantID) {
		h.logger.Warn().Str("participant_id", participantID).Msg("duplicate session while enqueued")
		h.sendErrorTo(wsConn, httperrors.ErrCodeDuplicateSession, "You are already waiting in the queue in another session.")
		wsConn.Close()
		return
	}

	h.hub.RegisterConnection(participantID, wsConn)
	metrics.ConnectionsActive.Inc()
	h.logger.Info().Str("participant_id", participantID).Msg("participant connected")

	// A participant reconnecting into an existing match is told about it and
	// rejoined to its room.
	ctx := context.Background()
	if m, err := h.coordinator.CurrentMatch(ctx, participantID); err != nil {
		h.logger.Error().Err(err).Str("participant_id", participantID).Msg("existing match lookup failed")
		h.sendError(participantID, httperrors.ErrCodeLookupFailed, "An error occurred.")
	} else if m != nil {
		h.sendError(participantID, httperrors.ErrCodeAlreadyMatched, "You are already matched with someone.")
		h.hub.JoinRoom(m.RoomID, participantID)
		h.sendMatch(participantID, ws.TypeMatchFound, m)
	}

	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(context.Background(), participantID, msg)
	})

	// Disconnect: a waiting participant is cleaned up like a cancel, a
	// matched one keeps the match and the peer gets a heads-up.
	h.coordinator.HandleDisconnect(ctx, participantID)
	h.hub.UnregisterConnection(participantID, wsConn)
	metrics.ConnectionsActive.Dec()
	h.logger.Info().Str("participant_id", participantID).Msg("participant disconnected")
}

func (h *Handler) handleMessage(ctx context.Context, participantID string, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeLookForMatch:
		return h.handleLookForMatch(ctx, participantID, msg.Payload)
	case ws.TypeCancelLooking:
		h.coordinator.CancelLooking(participantID)
		return nil
	case ws.TypeLeaveMatch:
		return h.handleLeaveMatch(ctx, participantID)
	case ws.TypeSendMessage:
		return h.handleSendMessage(ctx, participantID, msg.Payload)
	default:
		return h.sendError(participantID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *Handler) handleLookForMatch(ctx context.Context, participantID string, payload json.RawMessage) error {
	var req ws.LookForMatchPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(participantID, httperrors.ErrCodeInvalidPayload, "Invalid look_for_match payload")
	}

	m, wait, err := h.coordinator.LookForMatch(ctx, participantID, req.Difficulties, req.Language)

	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return h.sendError(participantID, httperrors.ErrCodeInvalidRequest, validationErr.Message)
	case errors.Is(err, ErrAlreadyQueued):
		return h.sendError(participantID, httperrors.ErrCodeAlreadyQueued, "You are already in the queue.")
	case errors.Is(err, ErrAlreadyMatched):
		h.sendError(participantID, httperrors.ErrCodeAlreadyMatched, "You are already matched with someone.")
		h.hub.JoinRoom(m.RoomID, participantID)
		return h.sendMatch(participantID, ws.TypeMatchFound, m)
	case err != nil:
		h.logger.Error().Err(err).Str("participant_id", participantID).Msg("look for match failed")
		return h.sendError(participantID, httperrors.ErrCodeMatchCreationFailed, "An error occurred in lookForMatch.")
	}

	if m != nil {
		// Immediate hit. The waiting peer hears about it through its
		// notifier; this side gets the match directly.
		h.hub.JoinRoom(m.RoomID, participantID)
		return h.sendMatch(participantID, ws.TypeMatchFound, m)
	}

	go h.awaitOutcome(participantID, wait)
	return nil
}

// awaitOutcome consumes the one-shot notifier of an enqueued participant. A
// closed channel without a value means the wait was cancelled and nothing
// needs to be said.
func (h *Handler) awaitOutcome(participantID string, wait <-chan Notification) {
	n, ok := <-wait
	if !ok {
		return
	}
	if n.Match == nil {
		h.hub.SendToParticipant(participantID, ws.Message{Type: ws.TypeMatchNotFound})
		return
	}
	h.hub.JoinRoom(n.Match.RoomID, participantID)
	h.sendMatch(participantID, ws.TypeMatchFound, n.Match)
}

func (h *Handler) handleLeaveMatch(ctx context.Context, participantID string) error {
	m, err := h.coordinator.LeaveMatch(ctx, participantID)
	switch {
	case errors.Is(err, ErrNotMatched):
		return h.sendError(participantID, httperrors.ErrCodeNotMatched, "You are not currently matched with anyone.")
	case err != nil:
		h.logger.Error().Err(err).Str("participant_id", participantID).Msg("leave match failed")
		return h.sendError(participantID, httperrors.ErrCodeInternalError, "An error occurred in leaveMatch.")
	}

	h.hub.LeaveRoom(m.RoomID, participantID)
	return h.sendMatch(participantID, ws.TypeMatchLeft, m)
}

func (h *Handler) handleSendMessage(ctx context.Context, participantID string, payload json.RawMessage) error {
	var req ws.SendMessagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return h.sendError(participantID, httperrors.ErrCodeInvalidPayload, "Invalid send_message payload")
	}

	err := h.coordinator.RelayMessage(ctx, participantID, req.Message)
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return h.sendError(participantID, httperrors.ErrCodeInvalidRequest, validationErr.Message)
	case errors.Is(err, ErrNotMatched):
		return h.sendError(participantID, httperrors.ErrCodeNotMatched, "You are not currently matched with anyone.")
	case err != nil:
		h.logger.Error().Err(err).Str("participant_id", participantID).Msg("message relay failed")
		return h.sendError(participantID, httperrors.ErrCodeInternalError, "An error occurred in sendMessage.")
	}
	return nil
}

func (h *Handler) sendMatch(participantID, msgType string, m *Match) error {
	msg := ws.Message{Type: msgType}
	msg.Payload, _ = json.Marshal(toWSMatch(m))
	return h.hub.SendToParticipant(participantID, msg)
}

func (h *Handler) sendError(participantID, code, message string) error {
	msg := ws.Message{Type: ws.TypeError}
	msg.Payload, _ = json.Marshal(ws.ErrorPayload{Code: code, Message: message})
	return h.hub.SendToParticipant(participantID, msg)
}

func (h *Handler) sendErrorTo(conn *ws.Connection, code, message string) {
	msg := ws.Message{Type: ws.TypeError}
	msg.Payload, _ = json.Marshal(ws.ErrorPayload{Code: code, Message: message})
	if err := conn.Send(msg); err != nil {
		h.logger.Warn().Err(err).Msg("error delivery failed")
	}
}
