package match

import (
	"errors"
	"time"
)

// Difficulty levels a participant can ask for. DifficultyAny is expanded to
// every concrete level before a request reaches the queue.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
	DifficultyAny    = "any"
)

// Languages a practice session can be held in. The language is the queue
// partition key: a waiting request belongs to exactly one language queue.
const (
	LanguagePython     = "python"
	LanguageJava       = "java"
	LanguageCPP        = "c++"
	LanguageJavaScript = "javascript"
)

// Match is the persisted pairing of two participants with an agreed
// difficulty, language and question.
type Match struct {
	RoomID           string    `json:"room_id"`
	ParticipantA     string    `json:"participant_a"`
	ParticipantB     string    `json:"participant_b"`
	ChosenDifficulty string    `json:"chosen_difficulty"`
	ChosenLanguage   string    `json:"chosen_language"`
	QuestionID       string    `json:"question_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Peer returns the other participant of the match.
func (m *Match) Peer(participantID string) string {
	if m.ParticipantA == participantID {
		return m.ParticipantB
	}
	return m.ParticipantA
}

// Involves reports whether the participant is one of the pair.
func (m *Match) Involves(participantID string) bool {
	return m.ParticipantA == participantID || m.ParticipantB == participantID
}

var (
	// ErrAlreadyQueued is returned when a participant attempts to enqueue
	// while already waiting, or opens a second session while enqueued.
	ErrAlreadyQueued = errors.New("participant is already waiting in the queue")

	// ErrAlreadyMatched is returned when a participant with a persisted
	// match attempts to look again; the existing match is surfaced alongside.
	ErrAlreadyMatched = errors.New("participant is already matched")

	// ErrNotMatched is returned for message relay or leave attempts with no
	// persisted match.
	ErrNotMatched = errors.New("participant is not currently matched")

	// ErrMatchNotFound is returned by the match store when a room id does
	// not resolve to a persisted match.
	ErrMatchNotFound = errors.New("match not found")
)

// ValidationError describes a malformed look-for-match request. Nothing is
// mutated when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidLanguage reports whether the language is a recognized queue partition.
func ValidLanguage(language string) bool {
	switch language {
	case LanguagePython, LanguageJava, LanguageCPP, LanguageJavaScript:
		return true
	}
	return false
}

// ValidDifficulty reports whether the difficulty is a recognized level.
func ValidDifficulty(difficulty string) bool {
	switch difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyAny:
		return true
	}
	return false
}

// ExpandDifficulties normalizes a difficulty preference set: "any" expands to
// all concrete levels and duplicates are dropped, preserving first-seen order.
func ExpandDifficulties(difficulties []string) []string {
	seen := make(map[string]bool, len(difficulties))
	out := make([]string, 0, len(difficulties))
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range difficulties {
		if d == DifficultyAny {
			add(DifficultyEasy)
			add(DifficultyMedium)
			add(DifficultyHard)
			continue
		}
		add(d)
	}
	return out
}
