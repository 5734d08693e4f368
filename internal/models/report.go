package models

import "time"

type CategoryScore struct {
	Category string `bson:"category" json:"category"`
	Score    int    `bson:"score" json:"score"` // 0..100
	Comment  string `bson:"comment,omitempty" json:"comment,omitempty"`
}

// Report is the structured evaluation produced at the end of an interview.
type Report struct {
	OverallScore   int             `bson:"overall_score" json:"overall_score"`
	Scores         []CategoryScore `bson:"scores" json:"scores"`
	Strengths      []string        `bson:"strengths" json:"strengths"`
	Weaknesses     []string        `bson:"weaknesses" json:"weaknesses"`
	Recommendation string          `bson:"recommendation" json:"recommendation"`
	Summary        string          `bson:"summary" json:"summary"`
	GeneratedAt    time.Time       `bson:"generated_at" json:"generated_at"`
}
