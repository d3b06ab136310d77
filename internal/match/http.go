package match

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	httperrors "github.com/peerprep/matching-service/pkg/http/errors"
)

// HTTPHandlers provides the administrative REST surface for matches.
type HTTPHandlers struct {
	store  MatchStore
	cache  *Cache
	logger zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for match endpoints. cache may be nil.
func NewHTTPHandlers(store MatchStore, cache *Cache, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "match_http").Logger(),
	}
}

type updateQuestionRequest struct {
	QuestionID string `json:"questionId"`
}

// UpdateQuestion handles PUT /v1/matches/{room_id}/question, amending the
// question of an existing match.
func (h *HTTPHandlers) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	var req updateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingQuestionID, "Invalid or missing questionId in the request body")
		return
	}

	if _, err := h.store.FindByRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, ErrMatchNotFound) {
			httperrors.RespondNotFound(w, httperrors.ErrCodeMatchNotFound, "Match not found")
			return
		}
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("match lookup failed")
		httperrors.RespondInternalError(w, "Failed to look up the match")
		return
	}

	updated, err := h.store.UpdateQuestion(r.Context(), roomID, req.QuestionID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("question update failed")
		httperrors.RespondInternalError(w, "Failed to update the match")
		return
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), updated); err != nil {
			h.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to invalidate match cache")
		}
	}

	h.logger.Info().
		Str("room_id", roomID).
		Str("question_id", req.QuestionID).
		Msg("match question updated")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Match updated successfully",
		"room_id": roomID,
		"info":    updated,
	})
}
