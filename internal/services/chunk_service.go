package services

import (
	"context"
	"time"

	"github.com/yoockh/jobdance/internal/models"
	mongorepo "github.com/yoockh/jobdance/internal/repositories/mongo"
	"github.com/yoockh/jobdance/internal/utils"
)

const (
	ChunkPending    = "pending"
	ChunkProcessing = "processing"
	ChunkDone       = "done"
	ChunkFailed     = "failed"
)

// ChunkService tracks uploaded audio chunks through server-side recognition.
type ChunkService interface {
	InsertAudioChunk(ctx context.Context, sessionID string, chunkIndex int64, language string, audioURL, audioBase64 *string) (*models.TranscriptChunk, error)
	MarkSTT(ctx context.Context, sessionID string, chunkIndex int64, text string, confidence float64, status string, processingMS int64) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptChunk, error)
}

type chunkService struct {
	chunks mongorepo.ChunkRepository
	ttl    time.Duration
}

func NewChunkService(chunks mongorepo.ChunkRepository, ttl time.Duration) ChunkService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &chunkService{chunks: chunks, ttl: ttl}
}

func (s *chunkService) InsertAudioChunk(ctx context.Context, sessionID string, chunkIndex int64, language string, audioURL, audioBase64 *string) (*models.TranscriptChunk, error) {
	const op = "ChunkService.InsertAudioChunk"

	if sessionID == "" || chunkIndex <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required and chunk_index must be > 0", nil)
	}
	if audioURL == nil && audioBase64 == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "audio_url or audio_base64 is required", nil)
	}

	now := time.Now().UTC()
	doc := &models.TranscriptChunk{
		SessionID:   sessionID,
		ChunkIndex:  chunkIndex,
		Language:    language,
		AudioURL:    audioURL,
		AudioBase64: audioBase64,
		Status:      ChunkPending,
		Timestamp:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.chunks.InsertChunk(ctx, doc); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert audio chunk", err)
	}
	return doc, nil
}

func (s *chunkService) MarkSTT(ctx context.Context, sessionID string, chunkIndex int64, text string, confidence float64, status string, processingMS int64) error {
	const op = "ChunkService.MarkSTT"

	if sessionID == "" || chunkIndex <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, chunk_index (>0), and status are required", nil)
	}
	if err := s.chunks.UpdateSTT(ctx, sessionID, chunkIndex, text, confidence, status, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update stt fields", err)
	}
	return nil
}

func (s *chunkService) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptChunk, error) {
	const op = "ChunkService.ListBySession"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	out, err := s.chunks.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcript chunks", err)
	}
	return out, nil
}
