package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peerprep/matching-service/internal/match/queue"
	"github.com/peerprep/matching-service/internal/metrics"
)

// MatchStore is the persisted-match collaborator boundary.
type MatchStore interface {
	FindByParticipant(ctx context.Context, participantID string) (*Match, error)
	FindByRoom(ctx context.Context, roomID string) (*Match, error)
	Create(ctx context.Context, m Match) (*Match, error)
	UpdateQuestion(ctx context.Context, roomID, questionID string) (*Match, error)
	Delete(ctx context.Context, roomID string) error
}

// QuestionPicker resolves a question id for an agreed difficulty.
type QuestionPicker interface {
	RandomQuestion(ctx context.Context, difficulty string) (string, error)
}

// Transport delivers events to a participant's live connection. Delivery is
// best effort; a participant without a connection simply misses the event.
type Transport interface {
	MatchLeft(participantID string, m Match)
	ReceiveMessage(participantID, from, text string)
}

// Options configures the coordinator.
type Options struct {
	MaxWait time.Duration
}

// Coordinator orchestrates the look-for-match flow and the teardown flows.
// All queue and waiter mutation goes through it; the session handler and the
// wait timers never touch shared state directly.
type Coordinator struct {
	store     MatchStore
	questions QuestionPicker
	transport Transport
	queues    *queue.Set
	waiters   *waiterRegistry
	cache     *Cache
	maxWait   time.Duration
	logger    zerolog.Logger
}

// NewCoordinator creates a match coordinator. cache may be nil.
func NewCoordinator(
	store MatchStore,
	questions QuestionPicker,
	transport Transport,
	queues *queue.Set,
	cache *Cache,
	opts Options,
	logger zerolog.Logger,
) *Coordinator {
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	return &Coordinator{
		store:     store,
		questions: questions,
		transport: transport,
		queues:    queues,
		waiters:   newWaiterRegistry(),
		cache:     cache,
		maxWait:   maxWait,
		logger:    logger.With().Str("component", "coordinator").Logger(),
	}
}

// IsWaiting reports whether the participant is currently enqueued. Used by
// the session handler to reject duplicate concurrent sessions.
func (c *Coordinator) IsWaiting(participantID string) bool {
	return c.waiters.contains(participantID)
}

// LookForMatch runs the full matching flow for one participant. On an
// immediate hit it returns the created match. On a miss the participant is
// enqueued and the returned channel delivers the eventual outcome: a match
// found by a later arrival, or a nil-match notification when the wait window
// expires. A closed channel without a value means the wait was cancelled.
//
// ErrAlreadyMatched is returned together with the existing match so the
// caller can surface it (idempotent re-discovery after reconnect).
func (c *Coordinator) LookForMatch(ctx context.Context, participantID string, difficulties []string, language string) (*Match, <-chan Notification, error) {
	if err := validateRequest(participantID, difficulties, language); err != nil {
		return nil, nil, err
	}

	// Claim the registry slot before anything else: this is the systemwide
	// "at most one pending request per participant" gate.
	w := newWaiter(participantID, language)
	if err := c.waiters.add(w); err != nil {
		return nil, nil, err
	}

	existing, err := c.findMatch(ctx, participantID)
	if err != nil {
		c.waiters.remove(participantID)
		return nil, nil, fmt.Errorf("find existing match: %w", err)
	}
	if existing != nil {
		c.waiters.remove(participantID)
		c.logger.Info().
			Str("participant_id", participantID).
			Str("room_id", existing.RoomID).
			Msg("participant already matched")
		return existing, nil, ErrAlreadyMatched
	}

	req := &queue.Request{
		ParticipantID: participantID,
		Difficulties:  ExpandDifficulties(difficulties),
		Language:      language,
		EnqueuedAt:    w.enqueuedAt,
	}

	// A claimed peer may have cancelled between enqueueing and now; its
	// terminal transition wins and we simply scan again. Each iteration
	// either claims a live peer or enqueues the request, so the loop is
	// bounded by the number of stale entries.
	var peer *waiter
	var peerReq *queue.Request
	var difficulty string
	for {
		peerReq, difficulty = c.queues.MatchOrEnqueue(req)
		if peerReq == nil {
			// Miss: the request is now queued. Arm the wait timer and hand
			// the notification channel to the caller.
			w.armTimer(c.maxWait, func() { c.expire(w) })
			metrics.QueueDepth.WithLabelValues(language).Set(float64(c.queues.Len(language)))
			c.logger.Info().
				Str("participant_id", participantID).
				Str("language", language).
				Strs("difficulties", req.Difficulties).
				Msg("participant enqueued")
			return nil, w.ch, nil
		}

		pw, ok := c.waiters.get(peerReq.ParticipantID)
		if ok && pw.transition(stateMatched) {
			pw.stopTimer()
			peer = pw
			break
		}
		// Stale entry: its owner already cancelled or timed out.
	}

	// We are the matching side: not enqueued, so release our registry slot.
	c.waiters.remove(participantID)
	metrics.QueueDepth.WithLabelValues(language).Set(float64(c.queues.Len(language)))

	// Both requests are out of the queue from here on. If a collaborator
	// call fails neither side is re-enqueued; the waiting peer is told the
	// search ended empty and both must retry from scratch.
	questionID, err := c.questions.RandomQuestion(ctx, difficulty)
	if err != nil {
		c.abortPair(peer)
		return nil, nil, fmt.Errorf("select question: %w", err)
	}

	created, err := c.store.Create(ctx, Match{
		RoomID:           uuid.New().String(),
		ParticipantA:     participantID,
		ParticipantB:     peer.participantID,
		ChosenDifficulty: difficulty,
		ChosenLanguage:   language,
		QuestionID:       questionID,
	})
	if err != nil {
		c.abortPair(peer)
		return nil, nil, fmt.Errorf("create match: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Store(ctx, created); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache match")
		}
	}

	peer.deliver(Notification{Match: created})
	c.waiters.remove(peer.participantID)

	metrics.MatchesCreated.WithLabelValues(language, difficulty).Inc()
	metrics.WaitOutcomes.WithLabelValues("matched").Inc()
	metrics.TimeToMatch.Observe(time.Since(peerReq.EnqueuedAt).Seconds())

	c.logger.Info().
		Str("participant_id", participantID).
		Str("peer_id", peer.participantID).
		Str("room_id", created.RoomID).
		Str("difficulty", difficulty).
		Str("language", language).
		Msg("match created")

	return created, nil, nil
}

// CancelLooking stops a participant's wait: timer, queue entry and notifier
// are torn down together. Idempotent; a participant that is not waiting is a
// no-op.
func (c *Coordinator) CancelLooking(participantID string) {
	c.terminateWait(participantID, stateCancelled, "cancelled")
}

// HandleDisconnect applies disconnect semantics: a waiting participant is
// cleaned up exactly like a cancel; a matched participant keeps the match
// (the peer may still want to continue) and the peer gets a best-effort
// heads-up.
func (c *Coordinator) HandleDisconnect(ctx context.Context, participantID string) {
	c.terminateWait(participantID, stateCancelled, "disconnected")

	m, err := c.findMatch(ctx, participantID)
	if err != nil {
		c.logger.Warn().Err(err).Str("participant_id", participantID).Msg("disconnect match lookup failed")
		return
	}
	if m != nil {
		c.transport.ReceiveMessage(m.Peer(participantID), "server", "Your partner has disconnected")
		c.logger.Info().
			Str("participant_id", participantID).
			Str("room_id", m.RoomID).
			Msg("matched participant disconnected, peer notified")
	}
}

// LeaveMatch notifies the peer of the departure and deletes the persisted
// match. Both sides are free to look for a new match afterwards.
func (c *Coordinator) LeaveMatch(ctx context.Context, participantID string) (*Match, error) {
	m, err := c.findMatch(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	if m == nil {
		return nil, ErrNotMatched
	}

	c.transport.MatchLeft(m.Peer(participantID), *m)

	if err := c.store.Delete(ctx, m.RoomID); err != nil {
		return nil, fmt.Errorf("delete match: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, m); err != nil {
			c.logger.Warn().Err(err).Str("room_id", m.RoomID).Msg("failed to invalidate match cache")
		}
	}

	c.logger.Info().
		Str("participant_id", participantID).
		Str("room_id", m.RoomID).
		Msg("participant left match")
	return m, nil
}

// RelayMessage forwards a chat message to the participant's matched peer.
func (c *Coordinator) RelayMessage(ctx context.Context, participantID, text string) error {
	if text == "" {
		return &ValidationError{Field: "message", Message: "message must not be empty"}
	}

	m, err := c.findMatch(ctx, participantID)
	if err != nil {
		return fmt.Errorf("find match: %w", err)
	}
	if m == nil {
		return ErrNotMatched
	}

	c.transport.ReceiveMessage(m.Peer(participantID), participantID, text)
	metrics.MessagesRelayed.Inc()
	return nil
}

// CurrentMatch returns the participant's persisted match, if any.
func (c *Coordinator) CurrentMatch(ctx context.Context, participantID string) (*Match, error) {
	return c.findMatch(ctx, participantID)
}

// expire is the wait-timer callback. If the request is already gone (matched
// or cancelled in the meantime) the fire is a safe no-op.
func (c *Coordinator) expire(w *waiter) {
	if !w.transition(stateExpired) {
		return
	}
	c.queues.Remove(w.language, w.participantID)
	w.deliver(Notification{})
	c.waiters.remove(w.participantID)

	metrics.QueueDepth.WithLabelValues(w.language).Set(float64(c.queues.Len(w.language)))
	metrics.WaitOutcomes.WithLabelValues("expired").Inc()
	c.logger.Info().
		Str("participant_id", w.participantID).
		Str("language", w.language).
		Dur("waited", time.Since(w.enqueuedAt)).
		Msg("no match found before deadline")
}

func (c *Coordinator) terminateWait(participantID string, to int32, outcome string) {
	w, ok := c.waiters.get(participantID)
	if !ok {
		return
	}
	if !w.transition(to) {
		return // a concurrent matcher or the timer already won
	}
	w.stopTimer()
	c.queues.Remove(w.language, w.participantID)
	w.abandon()
	c.waiters.remove(w.participantID)

	metrics.QueueDepth.WithLabelValues(w.language).Set(float64(c.queues.Len(w.language)))
	metrics.WaitOutcomes.WithLabelValues(outcome).Inc()
	c.logger.Info().
		Str("participant_id", participantID).
		Str("outcome", outcome).
		Msg("waiting stopped")
}

// abortPair tears down the already-claimed peer after a collaborator failure.
// The peer is not re-enqueued; it learns the search ended without a partner
// and can retry.
func (c *Coordinator) abortPair(peer *waiter) {
	peer.deliver(Notification{})
	c.waiters.remove(peer.participantID)
	metrics.WaitOutcomes.WithLabelValues("aborted").Inc()
}

func (c *Coordinator) findMatch(ctx context.Context, participantID string) (*Match, error) {
	if c.cache != nil {
		if m, err := c.cache.Get(ctx, participantID); err != nil {
			c.logger.Warn().Err(err).Str("participant_id", participantID).Msg("match cache read failed")
		} else if m != nil {
			return m, nil
		}
	}

	m, err := c.store.FindByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if m != nil && c.cache != nil {
		if err := c.cache.Store(ctx, m); err != nil {
			c.logger.Warn().Err(err).Str("participant_id", participantID).Msg("match cache write failed")
		}
	}
	return m, nil
}

func validateRequest(participantID string, difficulties []string, language string) error {
	if participantID == "" {
		return &ValidationError{Field: "participant_id", Message: "participant id must not be empty"}
	}
	if len(difficulties) == 0 {
		return &ValidationError{Field: "difficulties", Message: "at least one difficulty is required"}
	}
	for _, d := range difficulties {
		if !ValidDifficulty(d) {
			return &ValidationError{Field: "difficulties", Message: fmt.Sprintf("unknown difficulty %q", d)}
		}
	}
	if !ValidLanguage(language) {
		return &ValidationError{Field: "language", Message: fmt.Sprintf("unknown language %q", language)}
	}
	return nil
}
