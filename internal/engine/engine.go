// Package engine defines the query-execution boundary between the
// connection lifecycle layer and whatever actually answers cost
// questions.
package engine

import (
	"context"

	"github.com/costq-ai/costq/internal/hub"
	"github.com/google/uuid"
)

// Request is one natural-language cost query to execute.
type Request struct {
	QueryID uuid.UUID
	UserID  uuid.UUID
	Prompt  string
}

// Chunk is one streamed piece of an answer.
type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// Engine executes a query and streams answer chunks through emit. It
// must stop at its next safe point once the cancel token is set,
// returning nil; the caller distinguishes cancellation by the token.
// An emit error means the client is gone and the run must abort.
type Engine interface {
	Run(ctx context.Context, req Request, cancel *hub.CancelToken, emit func(Chunk) error) error
}
