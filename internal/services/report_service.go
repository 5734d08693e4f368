package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/jobdance/internal/cache"
	"github.com/yoockh/jobdance/internal/models"
	"github.com/yoockh/jobdance/internal/utils"
)

// TempReport is a report held only in the ephemeral store because the
// session itself could not be persisted.
type TempReport struct {
	Key       string         `json:"key"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Report    *models.Report `json:"report"`
	StoredAt  time.Time      `json:"stored_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type ReportService interface {
	StashReport(ctx context.Context, userID, sessionID string, r *models.Report) (string, error)
	GetTemp(ctx context.Context, key string) (*TempReport, error)
}

type reportService struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewReportService(c cache.Cache, ttl time.Duration) ReportService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &reportService{cache: c, ttl: ttl, now: time.Now}
}

func (s *reportService) StashReport(ctx context.Context, userID, sessionID string, r *models.Report) (string, error) {
	const op = "ReportService.StashReport"

	if r == nil {
		return "", utils.E(utils.CodeInvalidArgument, op, "report is required", nil)
	}
	now := s.now().UTC()
	tr := TempReport{
		Key:       uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Report:    r,
		StoredAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.cache.SetJSON(ctx, cache.TempReportKey(tr.Key), tr, s.ttl); err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to store report", err)
	}
	return tr.Key, nil
}

func (s *reportService) GetTemp(ctx context.Context, key string) (*TempReport, error) {
	const op = "ReportService.GetTemp"

	if key == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "key is required", nil)
	}
	var tr TempReport
	hit, err := s.cache.GetJSON(ctx, cache.TempReportKey(key), &tr)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read report", err)
	}
	if !hit {
		return nil, utils.E(utils.CodeNotFound, op, "report expired or not found", utils.ErrNotFound)
	}
	return &tr, nil
}

// UserStash binds a ReportService to one user so it satisfies the
// interview controller's stash port.
type UserStash struct {
	Reports ReportService
	UserID  string
}

func (u UserStash) StashReport(ctx context.Context, sessionID string, r *models.Report) (string, error) {
	return u.Reports.StashReport(ctx, u.UserID, sessionID, r)
}
