// Package export archives chat transcripts to S3.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/costq-ai/costq/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HistoryStore provides the chat history to archive.
type HistoryStore interface {
	GetChatHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.ChatMessage, error)
}

// Uploader is the slice of the S3 upload manager the archiver uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Transcript is the archived document format.
type Transcript struct {
	UserID     uuid.UUID             `json:"user_id"`
	ExportedAt time.Time             `json:"exported_at"`
	Messages   []*models.ChatMessage `json:"messages"`
}

// Archiver serializes a user's chat history and uploads it to S3.
type Archiver struct {
	store    HistoryStore
	uploader Uploader
	bucket   string
	logger   zerolog.Logger
	now      func() time.Time
}

// New builds an Archiver with a real S3 uploader. Returns nil when no
// bucket is configured; callers treat a nil Archiver as disabled.
func New(ctx context.Context, store HistoryStore, bucket, region string, logger zerolog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return NewWithUploader(store, manager.NewUploader(client), bucket, logger), nil
}

// NewWithUploader builds an Archiver over an existing uploader.
func NewWithUploader(store HistoryStore, uploader Uploader, bucket string, logger zerolog.Logger) *Archiver {
	return &Archiver{
		store:    store,
		uploader: uploader,
		bucket:   bucket,
		logger:   logger.With().Str("component", "export").Logger(),
		now:      time.Now,
	}
}

// ArchiveUser uploads the user's recent chat history as one JSON object
// and returns the object key.
func (a *Archiver) ArchiveUser(ctx context.Context, userID uuid.UUID, limit int) (string, error) {
	messages, err := a.store.GetChatHistory(ctx, userID, limit)
	if err != nil {
		return "", fmt.Errorf("load chat history: %w", err)
	}

	transcript := Transcript{
		UserID:     userID,
		ExportedAt: a.now().UTC(),
		Messages:   messages,
	}

	body, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}

	key := fmt.Sprintf("transcripts/%s/%s.json",
		userID, transcript.ExportedAt.Format("20060102T150405Z"))

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload transcript: %w", err)
	}

	a.logger.Info().
		Str("user_id", userID.String()).
		Str("key", key).
		Int("messages", len(messages)).
		Msg("Transcript archived")
	return key, nil
}
