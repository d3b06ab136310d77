package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerprep/matching-service/internal/match"
)

// MatchRepository contains DB helpers for persisted matches. It implements
// the coordinator's MatchStore boundary.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository constructs a new match repository.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

const matchColumns = `room_id, participant_a, participant_b, chosen_difficulty, chosen_language, question_id, created_at`

func scanMatch(row pgx.Row) (*match.Match, error) {
	var m match.Match
	err := row.Scan(&m.RoomID, &m.ParticipantA, &m.ParticipantB, &m.ChosenDifficulty, &m.ChosenLanguage, &m.QuestionID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByParticipant returns the match a participant is part of, or nil.
func (r *MatchRepository) FindByParticipant(ctx context.Context, participantID string) (*match.Match, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE participant_a = $1 OR participant_b = $1 LIMIT 1`,
		participantID)

	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find match by participant: %w", err)
	}
	return m, nil
}

// FindByRoom returns the match for a room id, or ErrMatchNotFound.
func (r *MatchRepository) FindByRoom(ctx context.Context, roomID string) (*match.Match, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE room_id = $1`,
		roomID)

	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, match.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find match by room: %w", err)
	}
	return m, nil
}

// Create persists a new match row. The insert runs inside a transaction and
// is the single authoritative write: the match row alone defines the pairing.
func (r *MatchRepository) Create(ctx context.Context, m match.Match) (*match.Match, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO matches (room_id, participant_a, participant_b, chosen_difficulty, chosen_language, question_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+matchColumns,
		m.RoomID, m.ParticipantA, m.ParticipantB, m.ChosenDifficulty, m.ChosenLanguage, m.QuestionID)

	created, err := scanMatch(row)
	if err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// UpdateQuestion amends the question of an existing match.
func (r *MatchRepository) UpdateQuestion(ctx context.Context, roomID, questionID string) (*match.Match, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE matches SET question_id = $2 WHERE room_id = $1 RETURNING `+matchColumns,
		roomID, questionID)

	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, match.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update match question: %w", err)
	}
	return m, nil
}

// Delete removes a match row. Deleting an absent room is not an error.
func (r *MatchRepository) Delete(ctx context.Context, roomID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM matches WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("delete match: %w", err)
	}
	return nil
}
