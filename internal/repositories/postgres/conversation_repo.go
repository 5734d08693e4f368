package postgres

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"github.com/yoockh/jobdance/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepo interface {
	ReplaceSession(ctx context.Context, sessionID string, rows []models.ConversationLog) error
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationLog, error)
	Nearest(ctx context.Context, userID string, v pgvector.Vector, k int) ([]models.ConversationLog, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

// ReplaceSession swaps the stored log for a session in one transaction.
func (r *conversationRepo) ReplaceSession(ctx context.Context, sessionID string, rows []models.ConversationLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.ConversationLog{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (r *conversationRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Nearest returns the k logged messages of userID closest to v (L2).
func (r *conversationRepo) Nearest(ctx context.Context, userID string, v pgvector.Vector, k int) ([]models.ConversationLog, error) {
	if k <= 0 {
		k = 5
	}
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND embedding IS NOT NULL", userID).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <-> ?", Vars: []any{v}},
		}).
		Limit(k).
		Find(&rows).Error
	return rows, err
}
