package errors

// Error codes shared between the REST surface and the WebSocket protocol.
const (
	ErrCodeInternalError       = "internal_error"
	ErrCodeInvalidPayload      = "invalid_payload"
	ErrCodeInvalidRequest      = "invalid_request"
	ErrCodeMissingQuestionID   = "missing_question_id"
	ErrCodeMatchNotFound       = "match_not_found"
	ErrCodeAlreadyQueued       = "already_queued"
	ErrCodeAlreadyMatched      = "already_matched"
	ErrCodeNotMatched          = "not_matched"
	ErrCodeLookupFailed        = "lookup_failed"
	ErrCodeMatchCreationFailed = "match_creation_failed"
	ErrCodeUnknownMessageType  = "unknown_message_type"
	ErrCodeDuplicateSession    = "duplicate_session"
)
