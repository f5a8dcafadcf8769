package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/providers/payment"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	emailer  email.Provider
	payments payment.Provider
	metrics  *obsmetrics.Metrics
	plans    *config.PlanCatalogHolder
	baseURL  string
}

func NewService(
	db *gorm.DB,
	log *zap.Logger,
	repo domain.Repository,
	genID *snowflake.Node,
	clk clock.Clock,
	emailer email.Provider,
	payments payment.Provider,
	metrics *obsmetrics.Metrics,
	plans *config.PlanCatalogHolder,
	cfg config.Config,
) domain.Service {
	return &service{
		db:       db,
		log:      log.Named("organization.service"),
		repo:     repo,
		genID:    genID,
		clock:    clk,
		emailer:  emailer,
		payments: payments,
		metrics:  metrics,
		plans:    plans,
		baseURL:  cfg.BaseURL,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 {
		return nil, domain.ErrInvalidName
	}

	planCode := s.plans.Get().DefaultPlan
	description := strings.TrimSpace(req.Description)

	var org domain.Organization
	err := s.createWithUniqueSlug(ctx, name, func(ctx context.Context, tx *gorm.DB, slug string) error {
		repo := s.repo.WithTx(tx)
		now := s.clock.Now()
		org = domain.Organization{
			ID:          s.genID.Generate(),
			Name:        name,
			Slug:        slug,
			Description: description,
			PlanCode:    planCode,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     org.ID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return repo.AddMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrgCreated(ctx)
	s.log.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("slug", org.Slug),
	)

	// Billing provisioning never blocks the creation that already committed.
	if err := s.payments.EnsureCustomer(ctx, org.ID, org.Name, org.PlanCode); err != nil {
		s.log.Warn("ensure billing customer failed",
			zap.String("organization_id", org.ID.String()),
			zap.Error(err),
		)
	}

	return orgResponse(&org), nil
}

func (s *service) GetByID(ctx context.Context, userID snowflake.ID, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetMember(ctx, orgID, userID); err != nil {
		return nil, domain.ErrForbidden
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return orgResponse(org), nil
}

func (s *service) Update(ctx context.Context, userID snowflake.ID, id string, req domain.UpdateOrganizationRequest) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(ctx, orgID, userID, domain.RoleOwner, domain.RoleAdmin); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 {
		return nil, domain.ErrInvalidName
	}

	// Slugs are immutable; a rename never reallocates the slug.
	fields := map[string]any{
		"name":       name,
		"updated_at": s.clock.Now(),
	}
	if req.Description != nil {
		fields["description"] = strings.TrimSpace(*req.Description)
	}
	if err := s.repo.UpdateOrganization(ctx, orgID, fields); err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return orgResponse(org), nil
}

// Delete removes the organization together with its memberships and invites
// in a single transaction.
func (s *service) Delete(ctx context.Context, userID snowflake.ID, id string) error {
	orgID, err := parseOrgID(id)
	if err != nil {
		return err
	}

	if err := s.requireRole(ctx, orgID, userID, domain.RoleOwner, domain.RoleAdmin); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.RemoveMembersByOrg(ctx, orgID); err != nil {
			return err
		}
		if err := repo.DeleteInvitesByOrg(ctx, orgID); err != nil {
			return err
		}
		return repo.DeleteOrganization(ctx, orgID)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordOrgDeleted(ctx)
	s.log.Info("organization deleted", zap.String("organization_id", orgID.String()))

	if err := s.payments.ReleaseCustomer(ctx, orgID); err != nil {
		s.log.Warn("release billing customer failed",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

func (s *service) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	member, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

func (s *service) requireRole(ctx context.Context, orgID, userID snowflake.ID, roles ...string) error {
	member, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		return domain.ErrForbidden
	}
	for _, role := range roles {
		if member.Role == role {
			return nil
		}
	}
	return domain.ErrForbidden
}

func parseOrgID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func orgResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:          org.ID.String(),
		Name:        org.Name,
		Slug:        org.Slug,
		Description: org.Description,
		PlanCode:    org.PlanCode,
	}
}
