// Package gate provides process-wide admission control for connections and
// queries. It enforces hard ceilings, global and per-user, so a burst of
// traffic cannot exhaust shared memory or CPU.
package gate

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Config holds the admission ceilings.
type Config struct {
	// MaxConnections is the global ceiling on concurrent connections.
	MaxConnections int
	// MaxConnectionsPerUser is the per-user ceiling on concurrent connections.
	MaxConnectionsPerUser int
	// MaxQueries is the global ceiling on concurrent queries.
	MaxQueries int
	// MaxQueriesPerUser is the per-user ceiling on concurrent queries.
	MaxQueriesPerUser int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:        100,
		MaxConnectionsPerUser: 1,
		MaxQueries:            20,
		MaxQueriesPerUser:     3,
	}
}

// Gate tracks active connection and query counts against configured
// ceilings. Admission is check-then-increment under a single mutex, so two
// concurrent checks can never both pass a full ceiling. The global query
// ceiling is additionally backed by a counting semaphore so future callers
// can wait on a slot rather than poll.
type Gate struct {
	cfg    Config
	logger zerolog.Logger

	querySlots *semaphore.Weighted

	mu              sync.Mutex
	connections     int
	userConnections map[uuid.UUID]int
	queries         int
	userQueries     map[uuid.UUID]int
}

// New creates a Gate with the given ceilings.
func New(cfg Config, logger zerolog.Logger) *Gate {
	return &Gate{
		cfg:             cfg,
		logger:          logger.With().Str("component", "gate").Logger(),
		querySlots:      semaphore.NewWeighted(int64(cfg.MaxQueries)),
		userConnections: make(map[uuid.UUID]int),
		userQueries:     make(map[uuid.UUID]int),
	}
}

// AdmitConnection reserves a connection slot for the user. It returns false
// without side effects when either the global or the per-user ceiling is
// reached.
func (g *Gate) AdmitConnection(userID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connections >= g.cfg.MaxConnections {
		g.logger.Warn().
			Str("user_id", userID.String()).
			Int("active", g.connections).
			Msg("global connection ceiling reached")
		return false
	}
	if g.userConnections[userID] >= g.cfg.MaxConnectionsPerUser {
		g.logger.Debug().
			Str("user_id", userID.String()).
			Msg("per-user connection ceiling reached")
		return false
	}

	g.connections++
	g.userConnections[userID]++
	return true
}

// ReleaseConnection returns a connection slot. Releasing more than was
// admitted is a bug elsewhere; counts are clamped so they never go negative.
func (g *Gate) ReleaseConnection(userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.userConnections[userID] == 0 {
		g.logger.Error().
			Str("user_id", userID.String()).
			Msg("connection release without matching admit")
		return
	}

	g.connections--
	g.userConnections[userID]--
	if g.userConnections[userID] == 0 {
		delete(g.userConnections, userID)
	}
}

// AdmitQuery reserves a query slot for the user. It returns false without
// side effects when either ceiling is reached.
func (g *Gate) AdmitQuery(userID uuid.UUID) bool {
	if !g.querySlots.TryAcquire(1) {
		g.logger.Warn().
			Str("user_id", userID.String()).
			Msg("global query ceiling reached")
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.userQueries[userID] >= g.cfg.MaxQueriesPerUser {
		g.querySlots.Release(1)
		g.logger.Debug().
			Str("user_id", userID.String()).
			Msg("per-user query ceiling reached")
		return false
	}

	g.queries++
	g.userQueries[userID]++
	return true
}

// ReleaseQuery returns a query slot. Counts never go negative.
func (g *Gate) ReleaseQuery(userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.userQueries[userID] == 0 {
		g.logger.Error().
			Str("user_id", userID.String()).
			Msg("query release without matching admit")
		return
	}

	g.queries--
	g.userQueries[userID]--
	if g.userQueries[userID] == 0 {
		delete(g.userQueries, userID)
	}
	g.querySlots.Release(1)
}

// ActiveConnections returns the current global connection count.
func (g *Gate) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connections
}

// ActiveQueries returns the current global query count.
func (g *Gate) ActiveQueries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

// UserQueries returns the user's current query count.
func (g *Gate) UserQueries(userID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userQueries[userID]
}
