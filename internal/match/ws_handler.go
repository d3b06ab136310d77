package match

import (
	"net/http"

	"github.com/peerprep/matching-service/internal/server"
	httperrors "github.com/peerprep/matching-service/pkg/http/errors"
)

// HandleWebSocket upgrades the HTTP connection to WebSocket. The participant
// identifies itself through the participant_id query parameter, mirroring the
// session layer's connection handshake.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Missing participant_id")
		return
	}

	conn, err := server.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.HandleConnection(conn, participantID)
}
