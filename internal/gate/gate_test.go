package gate

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(cfg Config) *Gate {
	return New(cfg, zerolog.Nop())
}

func TestAdmitQueryGlobalCeiling(t *testing.T) {
	g := newTestGate(Config{
		MaxConnections:        10,
		MaxConnectionsPerUser: 10,
		MaxQueries:            2,
		MaxQueriesPerUser:     2,
	})

	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	results := make([]bool, 3)
	var wg sync.WaitGroup
	for i, u := range []uuid.UUID{u1, u2, u3} {
		wg.Add(1)
		go func(i int, u uuid.UUID) {
			defer wg.Done()
			results[i] = g.AdmitQuery(u)
		}(i, u)
	}
	wg.Wait()

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "exactly two of three concurrent admits succeed")
	assert.Equal(t, 2, g.ActiveQueries())

	// After any one release, the next admit succeeds.
	for i, u := range []uuid.UUID{u1, u2, u3} {
		if results[i] {
			g.ReleaseQuery(u)
			break
		}
	}
	assert.True(t, g.AdmitQuery(uuid.New()))
	assert.Equal(t, 2, g.ActiveQueries())
}

func TestAdmitQueryPerUserCeiling(t *testing.T) {
	g := newTestGate(Config{
		MaxConnections:        10,
		MaxConnectionsPerUser: 10,
		MaxQueries:            10,
		MaxQueriesPerUser:     2,
	})

	u := uuid.New()
	require.True(t, g.AdmitQuery(u))
	require.True(t, g.AdmitQuery(u))
	assert.False(t, g.AdmitQuery(u), "per-user ceiling reached")
	assert.Equal(t, 2, g.UserQueries(u), "rejected admit must not bump the user count")

	// The rejected admit must not leak a global slot.
	other := uuid.New()
	for i := 0; i < 8; i++ {
		require.True(t, g.AdmitQuery(other), "admit %d", i)
	}
	assert.Equal(t, 10, g.ActiveQueries())

	g.ReleaseQuery(u)
	g.ReleaseQuery(u)
	assert.Equal(t, 0, g.UserQueries(u))
}

func TestAdmitConnectionCeilings(t *testing.T) {
	g := newTestGate(Config{
		MaxConnections:        2,
		MaxConnectionsPerUser: 1,
		MaxQueries:            10,
		MaxQueriesPerUser:     10,
	})

	u1, u2 := uuid.New(), uuid.New()
	require.True(t, g.AdmitConnection(u1))
	assert.False(t, g.AdmitConnection(u1), "per-user ceiling is one")
	require.True(t, g.AdmitConnection(u2))
	assert.False(t, g.AdmitConnection(uuid.New()), "global ceiling is two")

	g.ReleaseConnection(u1)
	assert.True(t, g.AdmitConnection(uuid.New()))
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	g := newTestGate(DefaultConfig())
	u := uuid.New()

	g.ReleaseQuery(u)
	g.ReleaseConnection(u)
	assert.Equal(t, 0, g.ActiveQueries())
	assert.Equal(t, 0, g.ActiveConnections())

	require.True(t, g.AdmitQuery(u))
	g.ReleaseQuery(u)
	g.ReleaseQuery(u)
	assert.Equal(t, 0, g.ActiveQueries())
}

func TestAdmitReleaseChurn(t *testing.T) {
	g := newTestGate(Config{
		MaxConnections:        100,
		MaxConnectionsPerUser: 100,
		MaxQueries:            5,
		MaxQueriesPerUser:     5,
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := uuid.New()
			for j := 0; j < 100; j++ {
				if g.AdmitQuery(u) {
					if n := g.ActiveQueries(); n > 5 {
						t.Errorf("active queries %d exceeds ceiling", n)
					}
					g.ReleaseQuery(u)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, g.ActiveQueries())
}
