package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerprep/matching-service/internal/match/queue"
)

type fakeStore struct {
	mu        sync.Mutex
	matches   map[string]*Match
	findErr   error
	createErr error
	deleteErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{matches: make(map[string]*Match)}
}

func (s *fakeStore) FindByParticipant(ctx context.Context, participantID string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, m := range s.matches {
		if m.Involves(participantID) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByRoom(ctx context.Context, roomID string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	m, ok := s.matches[roomID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) Create(ctx context.Context, m Match) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	m.CreatedAt = time.Now()
	s.matches[m.RoomID] = &m
	cp := m
	return &cp, nil
}

func (s *fakeStore) UpdateQuestion(ctx context.Context, roomID, questionID string) (*Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	m, ok := s.matches[roomID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	m.QuestionID = questionID
	cp := *m
	return &cp, nil
}

func (s *fakeStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.matches, roomID)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

type pickerFunc func(ctx context.Context, difficulty string) (string, error)

func (f pickerFunc) RandomQuestion(ctx context.Context, difficulty string) (string, error) {
	return f(ctx, difficulty)
}

var staticPicker = pickerFunc(func(_ context.Context, difficulty string) (string, error) {
	return "question-" + difficulty, nil
})

type relayedMessage struct {
	to   string
	from string
	text string
}

type recordingTransport struct {
	mu       sync.Mutex
	left     []string
	messages []relayedMessage
}

func (t *recordingTransport) MatchLeft(participantID string, m Match) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.left = append(t.left, participantID)
}

func (t *recordingTransport) ReceiveMessage(participantID, from, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, relayedMessage{to: participantID, from: from, text: text})
}

func (t *recordingTransport) leftParticipants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.left...)
}

func (t *recordingTransport) relayed() []relayedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]relayedMessage(nil), t.messages...)
}

func newTestCoordinator(store MatchStore, picker QuestionPicker, maxWait time.Duration) (*Coordinator, *recordingTransport) {
	transport := &recordingTransport{}
	c := NewCoordinator(
		store,
		picker,
		transport,
		queue.NewSet(zerolog.Nop()),
		nil,
		Options{MaxWait: maxWait},
		zerolog.Nop(),
	)
	return c, transport
}

func recvNotification(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "notifier closed without a notification")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestLookForMatch_Validation(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name          string
		participantID string
		difficulties  []string
		language      string
	}{
		{"empty difficulties", "p1", nil, "python"},
		{"unknown difficulty", "p1", []string{"brutal"}, "python"},
		{"unknown language", "p1", []string{"easy"}, "cobol"},
		{"empty participant", "", []string{"easy"}, "python"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.LookForMatch(ctx, tt.participantID, tt.difficulties, tt.language)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.False(t, c.IsWaiting(tt.participantID))
		})
	}
}

func TestLookForMatch_EnqueuesWhenNoPeer(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)

	m, wait, err := c.LookForMatch(context.Background(), "p1", []string{"easy"}, "python")
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NotNil(t, wait)
	assert.True(t, c.IsWaiting("p1"))
}

func TestLookForMatch_RejectsDuplicateEnqueue(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)
	ctx := context.Background()

	_, _, err := c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	_, _, err = c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.True(t, c.IsWaiting("p1"))
}

func TestLookForMatch_ImmediateMatch(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	_, wait, err := c.LookForMatch(ctx, "p1", []string{"easy", "medium"}, "python")
	require.NoError(t, err)

	m, _, err := c.LookForMatch(ctx, "p2", []string{"medium"}, "python")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.NotEmpty(t, m.RoomID)
	assert.Equal(t, "p2", m.ParticipantA)
	assert.Equal(t, "p1", m.ParticipantB)
	assert.Equal(t, "medium", m.ChosenDifficulty)
	assert.Equal(t, "python", m.ChosenLanguage)
	assert.Equal(t, "question-medium", m.QuestionID)

	// The waiting side hears about the same match through its notifier.
	n := recvNotification(t, wait)
	require.NotNil(t, n.Match)
	assert.Equal(t, m.RoomID, n.Match.RoomID)

	assert.False(t, c.IsWaiting("p1"))
	assert.False(t, c.IsWaiting("p2"))
	assert.Equal(t, 1, store.count())
}

func TestLookForMatch_ThreeParticipantScenario(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	_, p1Wait, err := c.LookForMatch(ctx, "p1", []string{"easy", "medium"}, "python")
	require.NoError(t, err)

	m, _, err := c.LookForMatch(ctx, "p2", []string{"hard"}, "python")
	require.NoError(t, err)
	assert.Nil(t, m, "p2 has no compatible peer")

	m, _, err = c.LookForMatch(ctx, "p3", []string{"medium"}, "python")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "medium", m.ChosenDifficulty)
	assert.True(t, m.Involves("p1"))
	assert.True(t, m.Involves("p3"))

	n := recvNotification(t, p1Wait)
	require.NotNil(t, n.Match)

	assert.True(t, c.IsWaiting("p2"), "p2 stays queued until its own timeout")
	assert.False(t, c.IsWaiting("p1"))
	assert.False(t, c.IsWaiting("p3"))
}

func TestLookForMatch_AnyDifficultyExpands(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)
	ctx := context.Background()

	_, _, err := c.LookForMatch(ctx, "p1", []string{"hard"}, "java")
	require.NoError(t, err)

	m, _, err := c.LookForMatch(ctx, "p2", []string{"any"}, "java")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "hard", m.ChosenDifficulty)
}

func TestLookForMatch_SurfacesExistingMatch(t *testing.T) {
	store := newFakeStore()
	seeded, err := store.Create(context.Background(), Match{
		RoomID:           "room-1",
		ParticipantA:     "p1",
		ParticipantB:     "p2",
		ChosenDifficulty: "easy",
		ChosenLanguage:   "python",
		QuestionID:       "q1",
	})
	require.NoError(t, err)

	c, _ := newTestCoordinator(store, staticPicker, time.Minute)

	m, wait, err := c.LookForMatch(context.Background(), "p1", []string{"easy"}, "python")
	assert.ErrorIs(t, err, ErrAlreadyMatched)
	require.NotNil(t, m)
	assert.Equal(t, seeded.RoomID, m.RoomID)
	assert.Nil(t, wait)
	assert.False(t, c.IsWaiting("p1"))
}

func TestLookForMatch_QuestionFailureIsFailFast(t *testing.T) {
	store := newFakeStore()
	failing := pickerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("question service down")
	})
	c, _ := newTestCoordinator(store, failing, time.Minute)
	ctx := context.Background()

	_, p1Wait, err := c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	m, _, err := c.LookForMatch(ctx, "p2", []string{"easy"}, "python")
	require.Error(t, err)
	assert.Nil(t, m)

	// Both requests are gone: neither side is re-enqueued and the waiting
	// peer is told the search ended empty.
	n := recvNotification(t, p1Wait)
	assert.Nil(t, n.Match)
	assert.False(t, c.IsWaiting("p1"))
	assert.False(t, c.IsWaiting("p2"))
	assert.Equal(t, 0, store.count())
}

func TestLookForMatch_CreateFailureIsFailFast(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	c, _ := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	_, p1Wait, err := c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	_, _, err = c.LookForMatch(ctx, "p2", []string{"easy"}, "python")
	require.Error(t, err)

	n := recvNotification(t, p1Wait)
	assert.Nil(t, n.Match)
	assert.False(t, c.IsWaiting("p1"))
	assert.False(t, c.IsWaiting("p2"))
}

func TestWaitTimeout_EvictsAndNotifiesOnce(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, 40*time.Millisecond)

	_, wait, err := c.LookForMatch(context.Background(), "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	n := recvNotification(t, wait)
	assert.Nil(t, n.Match, "timeout delivers an empty notification")
	assert.False(t, c.IsWaiting("p1"))

	// Channel is closed after the single notification.
	_, ok := <-wait
	assert.False(t, ok)
}

func TestCancelLooking_SuppressesTimeout(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, 40*time.Millisecond)

	_, wait, err := c.LookForMatch(context.Background(), "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	c.CancelLooking("p1")
	assert.False(t, c.IsWaiting("p1"))

	// The notifier closes without a value and stays silent past the
	// original deadline.
	select {
	case n, ok := <-wait:
		assert.False(t, ok, "expected closed channel, got notification %+v", n)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not closed on cancel")
	}
	time.Sleep(80 * time.Millisecond)
}

func TestCancelLooking_Idempotent(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)

	c.CancelLooking("ghost")

	_, _, err := c.LookForMatch(context.Background(), "p1", []string{"easy"}, "python")
	require.NoError(t, err)
	c.CancelLooking("p1")
	c.CancelLooking("p1")
	assert.False(t, c.IsWaiting("p1"))
}

func TestCancelLooking_FreesQueueSlot(t *testing.T) {
	c, _ := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)
	ctx := context.Background()

	_, _, err := c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)
	c.CancelLooking("p1")

	// A compatible looker no longer finds p1 and waits instead.
	m, wait, err := c.LookForMatch(ctx, "p2", []string{"easy"}, "python")
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NotNil(t, wait)
}

func TestHandleDisconnect_WhileWaiting(t *testing.T) {
	c, transport := newTestCoordinator(newFakeStore(), staticPicker, time.Minute)
	ctx := context.Background()

	_, _, err := c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)

	c.HandleDisconnect(ctx, "p1")
	assert.False(t, c.IsWaiting("p1"))
	assert.Empty(t, transport.relayed(), "no peer to notify")

	m, _, err := c.LookForMatch(ctx, "p2", []string{"easy"}, "python")
	require.NoError(t, err)
	assert.Nil(t, m, "disconnected request must be gone from the queue")
}

func TestHandleDisconnect_WhileMatchedKeepsMatch(t *testing.T) {
	store := newFakeStore()
	_, err := store.Create(context.Background(), Match{
		RoomID:           "room-1",
		ParticipantA:     "p1",
		ParticipantB:     "p2",
		ChosenDifficulty: "easy",
		ChosenLanguage:   "python",
		QuestionID:       "q1",
	})
	require.NoError(t, err)

	c, transport := newTestCoordinator(store, staticPicker, time.Minute)
	c.HandleDisconnect(context.Background(), "p1")

	require.Len(t, transport.relayed(), 1)
	msg := transport.relayed()[0]
	assert.Equal(t, "p2", msg.to)
	assert.Equal(t, "server", msg.from)

	assert.Equal(t, 1, store.count(), "match survives a disconnect")
}

func TestLeaveMatch_DeletesAndNotifiesPeer(t *testing.T) {
	store := newFakeStore()
	_, err := store.Create(context.Background(), Match{
		RoomID:           "room-1",
		ParticipantA:     "p1",
		ParticipantB:     "p2",
		ChosenDifficulty: "easy",
		ChosenLanguage:   "python",
		QuestionID:       "q1",
	})
	require.NoError(t, err)

	c, transport := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	m, err := c.LeaveMatch(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", m.RoomID)
	assert.Equal(t, []string{"p2"}, transport.leftParticipants())
	assert.Equal(t, 0, store.count())

	// Second leave reports not matched.
	_, err = c.LeaveMatch(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotMatched)

	// Both sides may queue again afterwards.
	_, _, err = c.LookForMatch(ctx, "p1", []string{"easy"}, "python")
	require.NoError(t, err)
	m2, _, err := c.LookForMatch(ctx, "p2", []string{"easy"}, "python")
	require.NoError(t, err)
	require.NotNil(t, m2)
}

func TestRelayMessage(t *testing.T) {
	store := newFakeStore()
	c, transport := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	err := c.RelayMessage(ctx, "p1", "hello")
	assert.ErrorIs(t, err, ErrNotMatched)

	var validationErr *ValidationError
	err = c.RelayMessage(ctx, "p1", "")
	require.ErrorAs(t, err, &validationErr)

	_, err = store.Create(ctx, Match{
		RoomID:           "room-1",
		ParticipantA:     "p1",
		ParticipantB:     "p2",
		ChosenDifficulty: "easy",
		ChosenLanguage:   "python",
		QuestionID:       "q1",
	})
	require.NoError(t, err)

	require.NoError(t, c.RelayMessage(ctx, "p1", "hello"))
	require.Len(t, transport.relayed(), 1)
	msg := transport.relayed()[0]
	assert.Equal(t, "p2", msg.to)
	assert.Equal(t, "p1", msg.from)
	assert.Equal(t, "hello", msg.text)
}

func TestLookForMatch_ConcurrentLookersNeverDoubleMatch(t *testing.T) {
	store := newFakeStore()
	c, _ := newTestCoordinator(store, staticPicker, time.Minute)
	ctx := context.Background()

	const n = 60
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%03d", i)
			_, _, err := c.LookForMatch(ctx, id, []string{"medium"}, "python")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Every participant is in at most one match, and matched participants
	// are never still waiting.
	seen := make(map[string]bool)
	store.mu.Lock()
	for _, m := range store.matches {
		require.False(t, seen[m.ParticipantA], "%s in two matches", m.ParticipantA)
		require.False(t, seen[m.ParticipantB], "%s in two matches", m.ParticipantB)
		seen[m.ParticipantA] = true
		seen[m.ParticipantB] = true
	}
	matched := len(seen)
	store.mu.Unlock()

	waiting := 0
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%03d", i)
		if c.IsWaiting(id) {
			waiting++
			assert.False(t, seen[id], "%s is both matched and waiting", id)
		}
	}
	assert.Equal(t, n, matched+waiting)
}
