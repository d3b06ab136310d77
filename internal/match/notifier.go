package match

import (
	"sync"
	"sync/atomic"
	"time"
)

// Notification is the signal delivered to a blocked waiting participant from
// another concurrent flow. A nil Match means the wait window closed without a
// partner being found.
type Notification struct {
	Match *Match
}

// Waiting request lifecycle. Exactly one transition out of stateWaiting wins;
// the losers become no-ops. This is what keeps a fired timer, an explicit
// cancel, a disconnect and a concurrent matcher from double-removing or
// double-notifying the same request.
const (
	stateWaiting int32 = iota
	stateMatched
	stateCancelled
	stateExpired
)

// waiter pairs the one-shot notification channel with the wait timer for one
// enqueued participant. Both are torn down together, never independently.
type waiter struct {
	participantID string
	language      string
	enqueuedAt    time.Time

	state atomic.Int32
	ch    chan Notification

	mu    sync.Mutex
	timer *time.Timer
}

func newWaiter(participantID, language string) *waiter {
	return &waiter{
		participantID: participantID,
		language:      language,
		enqueuedAt:    time.Now(),
		ch:            make(chan Notification, 1),
	}
}

// transition attempts the single allowed move out of stateWaiting.
func (w *waiter) transition(to int32) bool {
	return w.state.CompareAndSwap(stateWaiting, to)
}

// armTimer starts the wait countdown. A waiter that already left the waiting
// state (claimed by a matcher between enqueue and here) never arms.
func (w *waiter) armTimer(d time.Duration, fire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Load() != stateWaiting {
		return
	}
	w.timer = time.AfterFunc(d, fire)
}

func (w *waiter) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// deliver pushes the terminal notification and closes the channel. Callers
// must have won the state transition first, so the buffered send cannot block.
func (w *waiter) deliver(n Notification) {
	w.ch <- n
	close(w.ch)
}

// abandon closes the channel without a notification (cancel and disconnect
// paths, where the participant does not need to hear back).
func (w *waiter) abandon() {
	close(w.ch)
}

// waiterRegistry tracks every currently-enqueued participant. It is the
// mechanism behind the "at most one queue entry per participant" invariant:
// registration happens before the queue is touched and add refuses duplicates.
type waiterRegistry struct {
	mu      sync.Mutex
	waiting map[string]*waiter
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{waiting: make(map[string]*waiter)}
}

func (r *waiterRegistry) add(w *waiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiting[w.participantID]; exists {
		return ErrAlreadyQueued
	}
	r.waiting[w.participantID] = w
	return nil
}

func (r *waiterRegistry) get(participantID string) (*waiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.waiting[participantID]
	return w, ok
}

func (r *waiterRegistry) remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, participantID)
}

func (r *waiterRegistry) contains(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiting[participantID]
	return ok
}
