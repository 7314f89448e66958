package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/costq-ai/costq/internal/models"
	"github.com/google/uuid"
)

// Query status values, re-exported for callers inside the lifecycle layer.
const (
	StatusRunning    = models.QueryStatusRunning
	StatusCancelling = models.QueryStatusCancelling
	StatusCompleted  = models.QueryStatusCompleted
	StatusFailed     = models.QueryStatusFailed
)

// CancelToken is the cooperative cancellation signal for one query. The hub
// only ever sets it; the executing task owns the polling loop and must stop
// at its next safe point once the token is set.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether the token has been set.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is set, for select-based
// waits.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ch
}

// Query is the hub's record of one in-flight unit of work.
type Query struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Prompt      string
	Status      models.QueryStatus
	StartedAt   time.Time
	CancelledAt time.Time

	token *CancelToken
}

// Token returns the query's cancellation token.
func (q *Query) Token() *CancelToken {
	return q.token
}

// Register admits and tracks a new query for the user. Returns false
// without side effects when an admission ceiling is reached or the query
// ID is already in flight for the user.
func (h *Hub) Register(userID, queryID uuid.UUID, prompt string) (*Query, bool) {
	if !h.admitter.AdmitQuery(userID) {
		h.recorder.AdmissionRejected("query")
		return nil, false
	}

	q := &Query{
		ID:        queryID,
		UserID:    userID,
		Prompt:    prompt,
		Status:    StatusRunning,
		StartedAt: h.now(),
		token:     NewCancelToken(),
	}

	h.mu.Lock()
	if h.queries[userID][queryID] != nil {
		// A duplicate must not overwrite the live record: the two admits
		// would only ever see one release, leaking a global slot.
		h.mu.Unlock()
		h.admitter.ReleaseQuery(userID)
		h.recorder.AdmissionRejected("query")
		h.logger.Warn().
			Str("user_id", userID.String()).
			Str("query_id", queryID.String()).
			Msg("rejecting reused query id while query is in flight")
		return nil, false
	}
	if h.queries[userID] == nil {
		h.queries[userID] = make(map[uuid.UUID]*Query)
	}
	h.queries[userID][queryID] = q
	h.mu.Unlock()

	h.recorder.QueryStarted()
	h.logger.Debug().
		Str("user_id", userID.String()).
		Str("query_id", queryID.String()).
		Msg("query registered")
	return q, true
}

// Cancel requests cooperative cancellation of a tracked query. Returns
// false, altering nothing, when the query is unknown, already cancelling,
// or already finished.
func (h *Hub) Cancel(userID, queryID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	q := h.queries[userID][queryID]
	if q == nil || q.Status != StatusRunning {
		return false
	}
	h.cancelLocked(q)
	return true
}

// cancelLocked marks the query cancelling and sets its token. The caller
// holds h.mu. A grace timer bounds how long the cancelled task may keep its
// slot: a task that never polls its token must not leak admission capacity.
func (h *Hub) cancelLocked(q *Query) {
	q.Status = StatusCancelling
	q.CancelledAt = h.now()
	q.token.Cancel()

	if h.cfg.CancelGrace > 0 {
		userID, queryID := q.UserID, q.ID
		time.AfterFunc(h.cfg.CancelGrace, func() {
			if h.Unregister(userID, queryID) {
				h.logger.Warn().
					Str("user_id", userID.String()).
					Str("query_id", queryID.String()).
					Msg("cancelled query did not stop within grace period, bookkeeping discarded")
			}
		})
	}
}

// Unregister removes the query record and releases its admission slot.
// Returns false when the query is not tracked, so the release happens at
// most once no matter how many paths race to clean up.
func (h *Hub) Unregister(userID, queryID uuid.UUID) bool {
	h.mu.Lock()
	q := h.queries[userID][queryID]
	if q != nil {
		delete(h.queries[userID], queryID)
		if len(h.queries[userID]) == 0 {
			delete(h.queries, userID)
		}
	}
	h.mu.Unlock()

	if q == nil {
		return false
	}
	h.admitter.ReleaseQuery(userID)
	return true
}

// QueryInfo returns a snapshot of a tracked query.
func (h *Hub) QueryInfo(userID, queryID uuid.UUID) (Query, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.queries[userID][queryID]
	if q == nil {
		return Query{}, false
	}
	return *q, true
}

// ActiveQueryCount returns the number of tracked queries for the user.
func (h *Hub) ActiveQueryCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queries[userID])
}

// RunQuery executes fn for a registered query and guarantees the record is
// unregistered, and its slot released, exactly once on every exit path:
// normal return, error, cooperative cancellation, or panic. The returned
// status is what the caller should report to the client.
func (h *Hub) RunQuery(q *Query, fn func(*CancelToken) error) (status models.QueryStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query panicked: %v", r)
		}

		switch {
		case q.token.Cancelled():
			status = StatusCancelling
		case err != nil:
			status = StatusFailed
		default:
			status = StatusCompleted
		}

		h.mu.Lock()
		if tracked := h.queries[q.UserID][q.ID]; tracked != nil {
			tracked.Status = status
		}
		h.mu.Unlock()

		h.Unregister(q.UserID, q.ID)
		h.recorder.QueryFinished(string(status))
	}()

	err = fn(q.token)
	return status, err
}
