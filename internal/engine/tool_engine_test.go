package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/costq-ai/costq/internal/hub"
	"github.com/costq-ai/costq/internal/mcppool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPool struct {
	tools   []mcppool.ToolInfo
	results map[string]string
	callErr error
	calls   []string
	onCall  func()
}

func (m *mockPool) Tools(context.Context) []mcppool.ToolInfo { return m.tools }

func (m *mockPool) CallTool(_ context.Context, server, tool string, _ map[string]any) (string, error) {
	m.calls = append(m.calls, server+"/"+tool)
	if m.onCall != nil {
		m.onCall()
	}
	if m.callErr != nil {
		return "", m.callErr
	}
	return m.results[tool], nil
}

func costPool() *mockPool {
	return &mockPool{
		tools: []mcppool.ToolInfo{
			{Server: "aws-cost", Name: "spend_summary", Description: "Monthly spend totals"},
			{Server: "aws-cost", Name: "reservation_coverage", Description: "Reserved instance coverage"},
			{Server: "gcp-cost", Name: "commitment_report", Description: "GCP committed use discounts"},
		},
		results: map[string]string{
			"spend_summary":        "Total spend: $1,204",
			"reservation_coverage": "Coverage: 71%",
			"commitment_report":    "Commitments: 3 active",
		},
	}
}

func testRequest(prompt string) Request {
	return Request{QueryID: uuid.New(), UserID: uuid.New(), Prompt: prompt}
}

func collectChunks(chunks *[]Chunk) func(Chunk) error {
	return func(c Chunk) error {
		*chunks = append(*chunks, c)
		return nil
	}
}

func TestRunConsultsMatchingTools(t *testing.T) {
	pool := costPool()
	eng := NewToolEngine(pool, zerolog.Nop())

	var chunks []Chunk
	err := eng.Run(context.Background(), testRequest("what is my monthly spend"),
		hub.NewCancelToken(), collectChunks(&chunks))
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "Total spend: $1,204", chunks[0].Content)
	assert.Equal(t, []string{"aws-cost/spend_summary"}, pool.calls)
}

func TestRunChunkIndexesAreSequential(t *testing.T) {
	pool := costPool()
	eng := NewToolEngine(pool, zerolog.Nop())

	var chunks []Chunk
	err := eng.Run(context.Background(),
		testRequest("spend and reservation coverage and commitment status"),
		hub.NewCancelToken(), collectChunks(&chunks))
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestRunNoMatchingTools(t *testing.T) {
	pool := &mockPool{}
	eng := NewToolEngine(pool, zerolog.Nop())

	var chunks []Chunk
	err := eng.Run(context.Background(), testRequest("hello"),
		hub.NewCancelToken(), collectChunks(&chunks))
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "No cost tools")
	assert.Empty(t, pool.calls)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	pool := costPool()
	token := hub.NewCancelToken()
	pool.onCall = token.Cancel

	eng := NewToolEngine(pool, zerolog.Nop())

	var chunks []Chunk
	err := eng.Run(context.Background(),
		testRequest("spend and reservation coverage and commitment status"),
		token, collectChunks(&chunks))
	require.NoError(t, err)

	// Cancelled during the first call: nothing emitted, no further calls.
	assert.Empty(t, chunks)
	assert.Len(t, pool.calls, 1)
}

func TestRunAlreadyCancelled(t *testing.T) {
	pool := costPool()
	token := hub.NewCancelToken()
	token.Cancel()

	eng := NewToolEngine(pool, zerolog.Nop())
	var chunks []Chunk
	err := eng.Run(context.Background(), testRequest("monthly spend"),
		token, collectChunks(&chunks))
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, pool.calls)
}

func TestRunToolFailure(t *testing.T) {
	pool := costPool()
	pool.callErr = errors.New("boom")
	eng := NewToolEngine(pool, zerolog.Nop())

	var chunks []Chunk
	err := eng.Run(context.Background(), testRequest("monthly spend"),
		hub.NewCancelToken(), collectChunks(&chunks))
	assert.ErrorContains(t, err, "consult aws-cost/spend_summary")
	assert.Empty(t, chunks)
}

func TestRunEmitFailureAborts(t *testing.T) {
	pool := costPool()
	eng := NewToolEngine(pool, zerolog.Nop())

	sendErr := errors.New("client gone")
	err := eng.Run(context.Background(),
		testRequest("spend and reservation coverage"),
		hub.NewCancelToken(), func(Chunk) error { return sendErr })
	assert.ErrorIs(t, err, sendErr)
	// Aborted after the first emit failed.
	assert.Len(t, pool.calls, 1)
}

func TestMaxToolCalls(t *testing.T) {
	pool := costPool()
	eng := NewToolEngine(pool, zerolog.Nop())
	eng.MaxToolCalls = 1

	var chunks []Chunk
	err := eng.Run(context.Background(),
		testRequest("spend and reservation coverage and commitment status"),
		hub.NewCancelToken(), collectChunks(&chunks))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Len(t, pool.calls, 1)
}
