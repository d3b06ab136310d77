// Package queue holds the language-partitioned waiting queues for the
// matchmaking core. Each language owns one FIFO queue guarded by its own
// mutex; find-and-remove and enqueue-on-miss run inside a single critical
// section so no concurrent caller can claim or double-match an entry.
package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Request is a participant waiting to be matched. It mirrors the match
// package request shape for queue isolation.
type Request struct {
	ParticipantID string
	Difficulties  []string
	Language      string
	EnqueuedAt    time.Time
}

// Set is the process-wide collection of language queues.
type Set struct {
	mu     sync.RWMutex
	queues map[string]*languageQueue
	logger zerolog.Logger
}

type languageQueue struct {
	mu      sync.Mutex
	entries []*Request
}

// NewSet creates an empty queue set.
func NewSet(logger zerolog.Logger) *Set {
	return &Set{
		queues: make(map[string]*languageQueue),
		logger: logger,
	}
}

func (s *Set) queueFor(language string) *languageQueue {
	s.mu.RLock()
	q, ok := s.queues[language]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[language]; ok {
		return q
	}
	q = &languageQueue{}
	s.queues[language] = q
	return q
}

// Enqueue appends a request to its language queue.
func (s *Set) Enqueue(req *Request) {
	q := s.queueFor(req.Language)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.append(req)
	s.logger.Debug().
		Str("participant_id", req.ParticipantID).
		Str("language", req.Language).
		Int("depth", len(q.entries)).
		Msg("request enqueued")
}

// Remove deletes a participant's request from the language queue. It reports
// whether an entry was actually removed, and is a no-op otherwise.
func (s *Set) Remove(language, participantID string) bool {
	q := s.queueFor(language)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.remove(participantID)
	if removed {
		s.logger.Debug().
			Str("participant_id", participantID).
			Str("language", language).
			Int("depth", len(q.entries)).
			Msg("request removed")
	}
	return removed
}

// FindAndRemoveCompatible scans the language queue in enqueue order and
// removes the first entry whose difficulty set intersects the new request's.
// Returns the claimed entry and the agreed difficulty, or nil on a miss.
func (s *Set) FindAndRemoveCompatible(req *Request) (*Request, string) {
	q := s.queueFor(req.Language)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.findAndRemove(req)
}

// MatchOrEnqueue atomically attempts a compatibility match and, on a miss,
// enqueues the request before releasing the queue lock. Two concurrent
// compatible lookers therefore always resolve to exactly one pair: one of
// them is guaranteed to observe the other's entry.
func (s *Set) MatchOrEnqueue(req *Request) (*Request, string) {
	q := s.queueFor(req.Language)
	q.mu.Lock()
	defer q.mu.Unlock()

	if peer, difficulty := q.findAndRemove(req); peer != nil {
		s.logger.Debug().
			Str("participant_id", req.ParticipantID).
			Str("peer_id", peer.ParticipantID).
			Str("language", req.Language).
			Str("difficulty", difficulty).
			Msg("queued request claimed")
		return peer, difficulty
	}
	q.append(req)
	s.logger.Debug().
		Str("participant_id", req.ParticipantID).
		Str("language", req.Language).
		Int("depth", len(q.entries)).
		Msg("request enqueued")
	return nil, ""
}

// Len returns the number of waiting requests in one language queue.
func (s *Set) Len(language string) int {
	q := s.queueFor(language)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *languageQueue) append(req *Request) {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	q.entries = append(q.entries, req)
}

func (q *languageQueue) remove(participantID string) bool {
	for i, entry := range q.entries {
		if entry.ParticipantID == participantID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *languageQueue) findAndRemove(req *Request) (*Request, string) {
	for i, entry := range q.entries {
		if entry.ParticipantID == req.ParticipantID {
			continue // never match a request against itself
		}
		if difficulty, ok := sharedDifficulty(entry.Difficulties, req.Difficulties); ok {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry, difficulty
		}
	}
	return nil, ""
}

// sharedDifficulty returns the first difficulty of the queued entry that the
// new request also accepts. Tie-break is first in queue, first difficulty in
// its preference order.
func sharedDifficulty(queued, incoming []string) (string, bool) {
	for _, d := range queued {
		for _, want := range incoming {
			if d == want {
				return d, true
			}
		}
	}
	return "", false
}
