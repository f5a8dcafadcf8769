package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/account/domain"
	authdomain "github.com/smallbiznis/atrium/internal/auth/domain"
	"github.com/smallbiznis/atrium/internal/clock"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxDisplayNameLength = 120

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	users       authdomain.Repository
	sessions    authdomain.SessionRepository
	memberships orgdomain.Repository
	clock       clock.Clock
	metrics     *obsmetrics.Metrics
}

func NewService(
	db *gorm.DB,
	log *zap.Logger,
	users authdomain.Repository,
	sessions authdomain.SessionRepository,
	memberships orgdomain.Repository,
	clk clock.Clock,
	metrics *obsmetrics.Metrics,
) domain.Service {
	return &service{
		db:          db,
		log:         log.Named("account.service"),
		users:       users,
		sessions:    sessions,
		memberships: memberships,
		clock:       clk,
		metrics:     metrics,
	}
}

func (s *service) GetProfile(ctx context.Context, userID snowflake.ID) (*domain.ProfileResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileResponse(user), nil
}

func (s *service) UpdateProfile(ctx context.Context, userID snowflake.ID, req domain.UpdateProfileRequest) (*domain.ProfileResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	fields := map[string]any{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len(name) > maxDisplayNameLength {
			return nil, domain.ErrInvalidDisplayName
		}
		fields["display_name"] = name
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if req.Locale != nil {
		locale := strings.TrimSpace(*req.Locale)
		if locale == "" || len(locale) > 16 {
			return nil, domain.ErrInvalidLocale
		}
		fields["locale"] = locale
	}

	if len(fields) > 0 {
		fields["updated_at"] = s.clock.Now()
		if err := s.users.UpdateFields(ctx, userID, fields); err != nil {
			return nil, err
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileResponse(user), nil
}

// DeleteAccount permanently removes a user. The operation is rejected as a
// whole when the user is the sole owner of any organization; the conflict
// lists every such organization so the caller can resolve all of them at
// once. The owner counts are re-checked inside the delete transaction under
// row locks, so two owners of the same organization cannot both slip out
// concurrently and leave it ownerless.
func (s *service) DeleteAccount(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return err
	}

	// Fast pre-check outside the transaction for a friendly rejection.
	owned, err := s.memberships.ListOwnedOrganizations(ctx, userID, false)
	if err != nil {
		return err
	}
	if conflict := soleOwnerConflict(owned); conflict != nil {
		return conflict
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		sessions := s.sessions.WithTx(tx)
		memberships := s.memberships.WithTx(tx)

		owned, err := memberships.ListOwnedOrganizations(ctx, userID, true)
		if err != nil {
			return err
		}
		for _, org := range owned {
			owners, err := memberships.CountOwners(ctx, org.ID, true)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return &domain.SoleOwnerConflictError{Organizations: []domain.ConflictOrg{{
					ID:   org.ID.String(),
					Name: org.Name,
					Slug: org.Slug,
				}}}
			}
		}

		if err := sessions.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}
		if err := memberships.RemoveMembershipsByUser(ctx, userID); err != nil {
			return err
		}
		return users.Delete(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordAccountDeleted(ctx)
	s.log.Info("account deleted", zap.String("user_id", userID.String()))
	return nil
}

func soleOwnerConflict(owned []orgdomain.OwnedOrganization) *domain.SoleOwnerConflictError {
	var conflicts []domain.ConflictOrg
	for _, org := range owned {
		if org.OwnerCount <= 1 {
			conflicts = append(conflicts, domain.ConflictOrg{
				ID:   org.ID.String(),
				Name: org.Name,
				Slug: org.Slug,
			})
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return &domain.SoleOwnerConflictError{Organizations: conflicts}
}

func profileResponse(user *authdomain.User) *domain.ProfileResponse {
	return &domain.ProfileResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Locale:      user.Locale,
	}
}
