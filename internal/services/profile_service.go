package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/jobdance/internal/cache"
	"github.com/yoockh/jobdance/internal/models"
	pgrepo "github.com/yoockh/jobdance/internal/repositories/postgres"
	"github.com/yoockh/jobdance/internal/utils"
)

type ProfileService interface {
	GetMe(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) error
}

type profileService struct {
	profiles pgrepo.ProfileRepository
	cache    cache.Cache
	ttl      time.Duration
	log      logrus.FieldLogger
}

// NewProfileService reads through c when it is non-nil.
func NewProfileService(profiles pgrepo.ProfileRepository, c cache.Cache, ttl time.Duration, log logrus.FieldLogger) ProfileService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &profileService{profiles: profiles, cache: c, ttl: ttl, log: log}
}

func (s *profileService) GetMe(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "ProfileService.GetMe"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	key := cache.ProfileKey(userID)
	if s.cache != nil {
		var cached models.Profile
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.log.WithError(err).Warn("profile cache read failed")
		}
		if hit {
			return &cached, nil
		}
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, p, s.ttl); err != nil {
			s.log.WithError(err).Warn("profile cache write failed")
		}
	}
	return p, nil
}

func (s *profileService) Upsert(ctx context.Context, p *models.Profile) error {
	const op = "ProfileService.Upsert"

	if p == nil || p.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "profile.user_id is required", nil)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to upsert profile", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, cache.ProfileKey(p.UserID)); err != nil {
			s.log.WithError(err).Warn("profile cache invalidation failed")
		}
	}
	return nil
}
