package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/models"
	mongorepo "github.com/yoockh/jobdance/internal/repositories/mongo"
	"github.com/yoockh/jobdance/internal/utils"
)

// SessionService persists finished interviews.
type SessionService interface {
	Save(ctx context.Context, s *models.InterviewSession) (string, error)
	Get(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.InterviewSession, error)
}

type sessionService struct {
	sessions mongorepo.SessionRepository
	convos   ConversationService // optional mirror into Postgres
	log      logrus.FieldLogger
}

func NewSessionService(sessions mongorepo.SessionRepository, convos ConversationService, log logrus.FieldLogger) SessionService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &sessionService{sessions: sessions, convos: convos, log: log}
}

func (s *sessionService) Save(ctx context.Context, sess *models.InterviewSession) (string, error) {
	const op = "SessionService.Save"

	if sess == nil || sess.UserID == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if len(sess.Messages) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "transcript is empty", nil)
	}
	if sess.SessionID == "" {
		sess.SessionID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	if err := s.sessions.Upsert(ctx, sess); err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to save session", err)
	}

	if s.convos != nil {
		if err := s.convos.RecordTranscript(ctx, sess.UserID, sess.SessionID, sess.Messages); err != nil {
			s.log.WithError(err).WithField("session_id", sess.SessionID).Warn("conversation log not recorded")
		}
	}
	return sess.SessionID, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	const op = "SessionService.Get"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) ListByUser(ctx context.Context, userID string, limit int64) ([]models.InterviewSession, error) {
	const op = "SessionService.ListByUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	out, err := s.sessions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list sessions", err)
	}
	return out, nil
}
