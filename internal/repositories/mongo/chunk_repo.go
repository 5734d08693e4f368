package mongo

import (
	"context"
	"time"

	"github.com/yoockh/jobdance/config"
	"github.com/yoockh/jobdance/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ChunkRepository interface {
	InsertChunk(ctx context.Context, c *models.TranscriptChunk) error
	UpdateSTT(ctx context.Context, sessionID string, chunkIndex int64, text string, confidence float64, status string, processingMS int64) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptChunk, error)
}

type chunkRepo struct {
	col *mongo.Collection
}

func NewChunkRepo(db *mongo.Database) ChunkRepository {
	return &chunkRepo{col: db.Collection(config.CollectionTranscriptChunks)}
}

func (r *chunkRepo) InsertChunk(ctx context.Context, c *models.TranscriptChunk) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, c)
	return err
}

func (r *chunkRepo) UpdateSTT(ctx context.Context, sessionID string, chunkIndex int64, text string, confidence float64, status string, processingMS int64) error {
	set := bson.M{"status": status}
	if text != "" {
		set["text"] = text
		set["confidence"] = confidence
	}
	if processingMS > 0 {
		set["processing_time_ms"] = processingMS
	}
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "chunk_index": chunkIndex},
		bson.M{"$set": set},
	)
	return err
}

func (r *chunkRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.TranscriptChunk, error) {
	if limit <= 0 {
		limit = 200
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "chunk_index", Value: 1}}).
			SetProjection(bson.M{"audio_base64": 0}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.TranscriptChunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
