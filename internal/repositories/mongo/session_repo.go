package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/jobdance/config"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SessionRepository interface {
	Upsert(ctx context.Context, s *models.InterviewSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.InterviewSession, error)
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection(config.CollectionInterviewSessions)}
}

// Upsert replaces the snapshot stored under s.SessionID, keeping the
// original created_at on repeated saves.
func (r *sessionRepo) Upsert(ctx context.Context, s *models.InterviewSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": s.SessionID},
		bson.M{
			"$set": bson.M{
				"user_id":          s.UserID,
				"messages":         s.Messages,
				"question_count":   s.QuestionCount,
				"is_closing":       s.IsClosing,
				"ended":            s.Ended,
				"mode":             s.Mode,
				"report":           s.Report,
				"status":           s.Status,
				"metadata":         s.Metadata,
				"started_at":       s.StartedAt,
				"ended_at":         s.EndedAt,
				"duration_seconds": s.DurationSeconds,
			},
			"$setOnInsert": bson.M{"created_at": s.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByUser returns the newest sessions first, without transcripts.
func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.InterviewSession, error) {
	if limit <= 0 {
		limit = 20
	}

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "started_at", Value: -1}}).
			SetProjection(bson.M{"messages": 0}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.InterviewSession{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
