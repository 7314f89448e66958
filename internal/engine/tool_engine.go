package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/costq-ai/costq/internal/hub"
	"github.com/costq-ai/costq/internal/mcppool"
	"github.com/rs/zerolog"
)

// ToolCaller is the slice of the tool pool the engine needs.
type ToolCaller interface {
	Tools(ctx context.Context) []mcppool.ToolInfo
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// ToolEngine answers queries by consulting MCP cost tools directly: it
// picks tools whose name or description overlaps the prompt, invokes
// them, and streams each result as a chunk. It is the shipped default;
// a hosted agent would implement Engine and replace it.
type ToolEngine struct {
	pool   ToolCaller
	logger zerolog.Logger

	// MaxToolCalls bounds how many tools one query may invoke.
	MaxToolCalls int
}

// NewToolEngine creates a ToolEngine over the given pool.
func NewToolEngine(pool ToolCaller, logger zerolog.Logger) *ToolEngine {
	return &ToolEngine{
		pool:         pool,
		logger:       logger.With().Str("component", "engine").Logger(),
		MaxToolCalls: 3,
	}
}

// Run implements Engine. The cancel token is polled before every tool
// call and every emit.
func (e *ToolEngine) Run(ctx context.Context, req Request, cancel *hub.CancelToken, emit func(Chunk) error) error {
	if cancel.Cancelled() {
		return nil
	}

	selected := selectTools(e.pool.Tools(ctx), req.Prompt, e.MaxToolCalls)
	if len(selected) == 0 {
		return emit(Chunk{Index: 0, Content: "No cost tools are available for this question."})
	}

	index := 0
	for _, tool := range selected {
		if cancel.Cancelled() {
			return nil
		}

		result, err := e.pool.CallTool(ctx, tool.Server, tool.Name, map[string]any{
			"query": req.Prompt,
		})
		if err != nil {
			return fmt.Errorf("consult %s/%s: %w", tool.Server, tool.Name, err)
		}

		e.logger.Debug().
			Str("query_id", req.QueryID.String()).
			Str("server", tool.Server).
			Str("tool", tool.Name).
			Msg("tool consulted")

		if cancel.Cancelled() {
			return nil
		}
		if err := emit(Chunk{Index: index, Content: result}); err != nil {
			return err
		}
		index++
	}
	return nil
}

// selectTools picks up to max tools whose name or description shares a
// word with the prompt. Ties keep pool order.
func selectTools(tools []mcppool.ToolInfo, prompt string, max int) []mcppool.ToolInfo {
	words := promptWords(prompt)

	var selected []mcppool.ToolInfo
	for _, tool := range tools {
		if len(selected) >= max {
			break
		}
		haystack := strings.ToLower(tool.Name + " " + tool.Description)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				selected = append(selected, tool)
				break
			}
		}
	}
	return selected
}

// promptWords returns the lowercase words of the prompt long enough to
// be meaningful matches.
func promptWords(prompt string) []string {
	fields := strings.Fields(strings.ToLower(prompt))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()")
		if len(f) >= 4 {
			words = append(words, f)
		}
	}
	return words
}
