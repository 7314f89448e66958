// Package hub implements the connection and query lifecycle manager for
// CostQ. It tracks one live transport per user, enforces admission ceilings
// through an injected gate, provides cooperative query cancellation, and
// reaps connections whose heartbeat or activity has gone stale.
//
// The hub is the single writer for its registries: all other components
// submit intents (connect, disconnect, register, cancel) through its public
// operations and never reach into the maps directly.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is the transport-side handle for one client connection. A
// *websocket.Conn from gorilla/websocket satisfies it directly.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Notice is a server-initiated control message delivered before a forced
// close ("superseded", "connection_timeout").
type Notice struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Admitter reserves and releases connection and query slots. The gate
// package provides the production implementation.
type Admitter interface {
	AdmitConnection(userID uuid.UUID) bool
	ReleaseConnection(userID uuid.UUID)
	AdmitQuery(userID uuid.UUID) bool
	ReleaseQuery(userID uuid.UUID)
}

// Recorder receives lifecycle observations. The metrics package provides
// the Prometheus-backed implementation.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	QueryStarted()
	QueryFinished(status string)
	AdmissionRejected(kind string)
	ConnectionReaped(kind string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) ConnectionOpened()        {}
func (NopRecorder) ConnectionClosed()        {}
func (NopRecorder) QueryStarted()            {}
func (NopRecorder) QueryFinished(string)     {}
func (NopRecorder) AdmissionRejected(string) {}
func (NopRecorder) ConnectionReaped(string)  {}

// Config holds configuration for the Hub.
type Config struct {
	// SendBufferSize is the size of the outbound buffer per connection.
	SendBufferSize int
	// WriteTimeout is the deadline applied to each outbound write.
	WriteTimeout time.Duration
	// HeartbeatTimeout is how long a connection may go without a heartbeat
	// before the reaper closes it.
	HeartbeatTimeout time.Duration
	// IdleTimeout is how long a connection may go without activity before
	// the reaper closes it.
	IdleTimeout time.Duration
	// CancelGrace bounds how long a cancelled query may keep its admission
	// slot before the hub forcibly discards its bookkeeping.
	CancelGrace time.Duration
	// RateLimitMax and RateLimitWindow configure the per-user sliding
	// window on query submissions.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBufferSize:   64,
		WriteTimeout:     10 * time.Second,
		HeartbeatTimeout: 120 * time.Second,
		IdleTimeout:      900 * time.Second,
		CancelGrace:      5 * time.Second,
		RateLimitMax:     60,
		RateLimitWindow:  60 * time.Second,
	}
}

// connection is the hub's record of one live transport session. Timestamps
// are guarded by the hub mutex; the send channel is drained by a single
// writer goroutine so delivery to a connection is FIFO.
type connection struct {
	userID uuid.UUID
	orgID  uuid.UUID
	role   string

	conn Conn
	send chan any
	quit chan struct{}

	closeOnce sync.Once

	connectedAt   time.Time
	lastHeartbeat time.Time
	lastActivity  time.Time
}

// ConnectionInfo is a read-only snapshot of a tracked connection.
type ConnectionInfo struct {
	UserID        uuid.UUID
	OrgID         uuid.UUID
	Role          string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	LastActivity  time.Time
}

// Hub owns the connection and query registries.
type Hub struct {
	cfg      Config
	admitter Admitter
	recorder Recorder
	limiter  *RateLimiter
	logger   zerolog.Logger

	now    func() time.Time
	onReap func(info ConnectionInfo, reason string)

	mu      sync.Mutex
	conns   map[uuid.UUID]*connection
	queries map[uuid.UUID]map[uuid.UUID]*Query
}

// New creates a Hub. Pass NopRecorder{} when metrics are not wired.
func New(cfg Config, admitter Admitter, recorder Recorder, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		admitter: admitter,
		recorder: recorder,
		limiter:  NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		logger:   logger.With().Str("component", "hub").Logger(),
		now:      time.Now,
		conns:    make(map[uuid.UUID]*connection),
		queries:  make(map[uuid.UUID]map[uuid.UUID]*Query),
	}
}

// OnReap registers a callback invoked for each connection the reaper
// closes, with the connection snapshot and the staleness reason. Used to
// write audit records. Must be set before the reaper starts.
func (h *Hub) OnReap(fn func(info ConnectionInfo, reason string)) {
	h.onReap = fn
}

// Connect registers a transport for the user. If the user already has a
// connection it is closed with a "superseded" notice and removed first, and
// its slot returned, so reconnecting under a per-user ceiling of one always
// succeeds. Supersede and admission happen in one critical section, so
// concurrent connects for the same user serialize and each one supersedes
// its predecessor. Returns false when admission is rejected; the caller
// should close the transport itself in that case.
func (h *Hub) Connect(userID, orgID uuid.UUID, role string, conn Conn) bool {
	h.mu.Lock()
	if old := h.conns[userID]; old != nil {
		delete(h.conns, userID)
		h.logger.Info().
			Str("user_id", userID.String()).
			Msg("superseding existing connection")
		// teardown never takes h.mu, so the old slot is back before the
		// admission check below and no other connect can interleave
		// between supersede and admit.
		h.teardown(old, &Notice{Type: "superseded", Reason: "new connection established"})
	}

	if !h.admitter.AdmitConnection(userID) {
		h.mu.Unlock()
		h.recorder.AdmissionRejected("connection")
		return false
	}

	now := h.now()
	c := &connection{
		userID:        userID,
		orgID:         orgID,
		role:          role,
		conn:          conn,
		send:          make(chan any, h.cfg.SendBufferSize),
		quit:          make(chan struct{}),
		connectedAt:   now,
		lastHeartbeat: now,
		lastActivity:  now,
	}

	h.conns[userID] = c
	total := len(h.conns)
	h.mu.Unlock()

	go h.writePump(c)

	h.recorder.ConnectionOpened()
	h.logger.Info().
		Str("user_id", userID.String()).
		Str("org_id", orgID.String()).
		Str("role", role).
		Int("total_connections", total).
		Msg("connection registered")
	return true
}

// Disconnect cancels every query still active for the user, closes the
// transport if still open, and removes session metadata. Idempotent.
func (h *Hub) Disconnect(userID uuid.UUID) {
	h.disconnect(userID, nil)
}

func (h *Hub) disconnect(userID uuid.UUID, notice *Notice) {
	h.mu.Lock()
	c := h.conns[userID]
	delete(h.conns, userID)
	var cancelled int
	for _, q := range h.queries[userID] {
		if q.Status == StatusRunning {
			h.cancelLocked(q)
			cancelled++
		}
	}
	h.mu.Unlock()

	if cancelled > 0 {
		h.logger.Debug().
			Str("user_id", userID.String()).
			Int("queries", cancelled).
			Msg("cancelled active queries on disconnect")
	}
	h.limiter.Forget(userID)
	if c != nil {
		h.teardown(c, notice)
	}
}

// teardown performs the exactly-once close of a connection: a best-effort
// notice, then the writer flush and transport close, then the slot release.
func (h *Hub) teardown(c *connection, notice *Notice) {
	c.closeOnce.Do(func() {
		if notice != nil {
			select {
			case c.send <- notice:
			default:
			}
		}
		close(c.quit)
		h.admitter.ReleaseConnection(c.userID)
		h.recorder.ConnectionClosed()
		h.logger.Info().
			Str("user_id", c.userID.String()).
			Msg("connection closed")
	})
}

// writePump is the single outbound writer for a connection. Delivery is
// FIFO; a write failure tears the connection down.
func (h *Hub) writePump(c *connection) {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if !h.write(c, msg) {
				h.Disconnect(c.userID)
				return
			}
		case <-c.quit:
			// Flush anything already queued, the close notice included.
			for {
				select {
				case msg := <-c.send:
					if !h.write(c, msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) write(c *connection, msg any) bool {
	_ = c.conn.SetWriteDeadline(h.now().Add(h.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).
			Str("user_id", c.userID.String()).
			Msg("websocket write failed")
		return false
	}
	return true
}

// SendToUser queues a message for the user's connection. Best-effort: a
// missing connection returns false; a full outbound buffer counts as a
// delivery failure and triggers Disconnect.
func (h *Hub) SendToUser(userID uuid.UUID, msg any) bool {
	h.mu.Lock()
	c := h.conns[userID]
	h.mu.Unlock()
	if c == nil {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		h.logger.Warn().
			Str("user_id", userID.String()).
			Msg("outbound buffer full, dropping connection")
		h.Disconnect(userID)
		return false
	}
}

// TouchHeartbeat records a heartbeat from the user's connection.
func (h *Hub) TouchHeartbeat(userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.conns[userID]; c != nil {
		c.lastHeartbeat = h.now()
	}
}

// TouchActivity records query activity on the user's connection.
func (h *Hub) TouchActivity(userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c := h.conns[userID]; c != nil {
		c.lastActivity = h.now()
	}
}

// CheckRate applies the per-user sliding-window limit to a query
// submission. Returns false and a retry-after hint when over the limit.
func (h *Hub) CheckRate(userID uuid.UUID) (bool, time.Duration) {
	allowed, retryAfter := h.limiter.Check(userID)
	if !allowed {
		h.recorder.AdmissionRejected("rate")
	}
	return allowed, retryAfter
}

// Connection returns a snapshot of the user's tracked connection.
func (h *Hub) Connection(userID uuid.UUID) (ConnectionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.conns[userID]
	if c == nil {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		UserID:        c.userID,
		OrgID:         c.orgID,
		Role:          c.role,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: c.lastHeartbeat,
		LastActivity:  c.lastActivity,
	}, true
}

// ConnectionCount returns the number of tracked connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every tracked connection. Used on process exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[uuid.UUID]*connection)
	h.mu.Unlock()

	for _, c := range conns {
		h.teardown(c, &Notice{Type: "server_shutdown"})
	}
}
