package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TranscriptChunk is one uploaded audio chunk awaiting server-side recognition.
type TranscriptChunk struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  string             `bson:"session_id" json:"session_id"`
	ChunkIndex int64              `bson:"chunk_index" json:"chunk_index"`
	Language   string             `bson:"language,omitempty" json:"language,omitempty"`

	AudioURL    *string `bson:"audio_url,omitempty" json:"audio_url,omitempty"`
	AudioBase64 *string `bson:"audio_base64,omitempty" json:"audio_base64,omitempty"`

	Text       string  `bson:"text,omitempty" json:"text,omitempty"`
	Status     string  `bson:"status" json:"status"` // pending|processing|done|failed
	Confidence float64 `bson:"confidence,omitempty" json:"confidence,omitempty"`

	ProcessingTimeMS int64     `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // TTL index
}
