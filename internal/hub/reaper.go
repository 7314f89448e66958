package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stale-connection classifications.
const (
	StaleHeartbeat = "heartbeat_timeout"
	StaleIdle      = "idle_timeout"
)

type staleConn struct {
	info ConnectionInfo
	kind string
	age  time.Duration
}

// staleConnections classifies tracked connections against the configured
// timeouts. Heartbeat staleness wins over idle staleness.
func (h *Hub) staleConnections(now time.Time) []staleConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stale []staleConn
	for userID, c := range h.conns {
		info := ConnectionInfo{
			UserID:        userID,
			OrgID:         c.orgID,
			Role:          c.role,
			ConnectedAt:   c.connectedAt,
			LastHeartbeat: c.lastHeartbeat,
			LastActivity:  c.lastActivity,
		}
		switch {
		case now.Sub(c.lastHeartbeat) > h.cfg.HeartbeatTimeout:
			stale = append(stale, staleConn{info, StaleHeartbeat, now.Sub(c.lastHeartbeat)})
		case now.Sub(c.lastActivity) > h.cfg.IdleTimeout:
			stale = append(stale, staleConn{info, StaleIdle, now.Sub(c.lastActivity)})
		}
	}
	return stale
}

// ReapStale closes every connection whose heartbeat or activity has gone
// stale: a best-effort "connection_timeout" notice, then the same cleanup
// as Disconnect. Each connection's cleanup runs inside its own failure
// boundary so one failure cannot abort the rest of the batch. Returns the
// number of stale connections processed.
func (h *Hub) ReapStale(now time.Time) int {
	stale := h.staleConnections(now)
	for _, s := range stale {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error().
						Str("user_id", s.info.UserID.String()).
						Interface("panic", r).
						Msg("connection cleanup failed during reaping")
				}
			}()

			h.logger.Info().
				Str("user_id", s.info.UserID.String()).
				Str("reason", s.kind).
				Dur("age", s.age).
				Msg("reaping stale connection")
			h.disconnect(s.info.UserID, &Notice{Type: "connection_timeout", Reason: s.kind})
			h.recorder.ConnectionReaped(s.kind)
			if h.onReap != nil {
				h.onReap(s.info, s.kind)
			}
		}()
	}
	return len(stale)
}

// Reaper periodically reaps stale connections. Start and Stop are
// idempotent and tied to process lifecycle.
type Reaper struct {
	hub      *Hub
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewReaper creates a Reaper driving hub.ReapStale every interval.
func NewReaper(h *Hub, interval time.Duration, logger zerolog.Logger) *Reaper {
	return &Reaper{
		hub:      h,
		interval: interval,
		logger:   logger.With().Str("component", "reaper").Logger(),
	}
}

// Start begins the reaping loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.stopCh)
	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")
}

// Stop halts the reaping loop and waits for the current tick to finish.
// Calling Stop on a stopped reaper is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("reaper stopped")
}

func (r *Reaper) run(stopCh chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if n := r.hub.ReapStale(time.Now()); n > 0 {
				r.logger.Info().Int("reaped", n).Msg("reaper tick complete")
			}
		}
	}
}
