package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/providers/llm"
	pgrepo "github.com/yoockh/jobdance/internal/repositories/postgres"
	"github.com/yoockh/jobdance/internal/utils"
	"gorm.io/datatypes"
)

// ConversationService mirrors interview transcripts into Postgres, with
// optional embeddings for similarity search.
type ConversationService interface {
	RecordTranscript(ctx context.Context, userID, sessionID string, msgs []models.Message) error
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationLog, error)
	Search(ctx context.Context, userID, query string, k int) ([]models.ConversationLog, error)
}

type conversationService struct {
	convos   pgrepo.ConversationRepo
	embedder llm.Embedder
	log      logrus.FieldLogger
}

// NewConversationService accepts a nil embedder; logs are then stored
// without vectors and Search is unavailable.
func NewConversationService(convos pgrepo.ConversationRepo, embedder llm.Embedder, log logrus.FieldLogger) ConversationService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &conversationService{convos: convos, embedder: embedder, log: log}
}

func (s *conversationService) RecordTranscript(ctx context.Context, userID, sessionID string, msgs []models.Message) error {
	const op = "ConversationService.RecordTranscript"

	if userID == "" || sessionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and session_id are required", nil)
	}

	rows := make([]models.ConversationLog, 0, len(msgs))
	texts := make([]string, 0, len(msgs))
	for i, m := range msgs {
		meta, _ := json.Marshal(map[string]any{"source": "interview", "turn": i / 2})
		rows = append(rows, models.ConversationLog{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Seq:       i,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC(),
			Metadata:  datatypes.JSON(meta),
		})
		texts = append(texts, m.Content)
	}

	if s.embedder != nil && len(texts) > 0 {
		vecs, err := s.embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			s.log.WithError(err).WithField("session_id", sessionID).Warn("embedding failed, storing without vectors")
		case len(vecs) == len(rows):
			for i, v := range vecs {
				if len(v) == models.EmbeddingDims {
					vec := pgvector.NewVector(v)
					rows[i].Embedding = &vec
				}
			}
		}
	}

	if err := s.convos.ReplaceSession(ctx, sessionID, rows); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store conversation log", err)
	}
	return nil
}

func (s *conversationService) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationLog, error) {
	const op = "ConversationService.ListBySession"

	if userID == "" || sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and session_id are required", nil)
	}

	rows, err := s.convos.ListBySession(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *conversationService) Search(ctx context.Context, userID, query string, k int) ([]models.ConversationLog, error) {
	const op = "ConversationService.Search"

	if userID == "" || query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and query are required", nil)
	}
	if s.embedder == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "search is not configured", nil)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to embed query", err)
	}
	if len(vecs[0]) != models.EmbeddingDims {
		return nil, utils.E(utils.CodeUnavailable, op, "embedding model dimension mismatch", nil)
	}

	rows, err := s.convos.Nearest(ctx, userID, pgvector.NewVector(vecs[0]), k)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to search conversations", err)
	}
	return rows, nil
}
