package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SessionStatusCompleted = "completed"
	SessionStatusPartial   = "partial" // persisted without a report
)

// InterviewSession is the end-of-session snapshot stored in Mongo.
type InterviewSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	UserID    string             `bson:"user_id" json:"user_id"`       // uuid from Supabase Auth

	Messages      []Message `bson:"messages" json:"messages"`
	QuestionCount int       `bson:"question_count" json:"question_count"`
	IsClosing     bool      `bson:"is_closing" json:"is_closing"`
	Ended         bool      `bson:"ended" json:"ended"`
	Mode          string    `bson:"mode" json:"mode"` // voice|text

	Report *Report `bson:"report,omitempty" json:"report,omitempty"`
	Status string  `bson:"status" json:"status"`

	Metadata SessionMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`

	StartedAt       time.Time  `bson:"started_at" json:"started_at"`
	EndedAt         *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	DurationSeconds int64      `bson:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
}

type SessionMetadata struct {
	Position    string `bson:"position,omitempty" json:"position,omitempty"`
	CompanyName string `bson:"company_name,omitempty" json:"company_name,omitempty"`
	Language    string `bson:"language,omitempty" json:"language,omitempty"`
}
