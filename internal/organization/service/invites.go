package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const inviteTTL = 7 * 24 * time.Hour

func (s *service) InviteMembers(ctx context.Context, userID snowflake.ID, orgID string, invites []domain.InviteRequest) ([]domain.InviteResponseItem, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if err := s.requireRole(ctx, id, userID, domain.RoleOwner, domain.RoleAdmin); err != nil {
		return nil, err
	}

	if len(invites) == 0 {
		return nil, domain.ErrInvalidEmail
	}

	org, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rows := make([]domain.OrganizationInvite, 0, len(invites))
	for _, invite := range invites {
		email, err := normalizeInviteEmail(invite.Email)
		if err != nil {
			return nil, domain.ErrInvalidEmail
		}

		role := strings.ToUpper(strings.TrimSpace(invite.Role))
		if role == "" {
			role = domain.RoleMember
		}
		// Ownership is granted by promotion, never by invite.
		if role == domain.RoleOwner || !domain.ValidRole(role) {
			return nil, domain.ErrInvalidRole
		}

		rows = append(rows, domain.OrganizationInvite{
			ID:        s.genID.Generate(),
			OrgID:     id,
			Email:     email,
			Role:      role,
			Code:      ulid.Make().String(),
			Status:    domain.InviteStatusPending,
			InvitedBy: userID,
			ExpiresAt: now.Add(inviteTTL),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.repo.CreateInvites(ctx, rows); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrInviteExists
		}
		return nil, err
	}

	resp := make([]domain.InviteResponseItem, 0, len(rows))
	for _, row := range rows {
		s.sendInviteEmail(ctx, org, row)
		s.metrics.RecordInviteSent(ctx, row.Role)
		resp = append(resp, inviteResponse(row))
	}
	return resp, nil
}

func (s *service) ListInvites(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]domain.InviteResponseItem, *pagination.PageInfo, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.requireRole(ctx, id, userID, domain.RoleOwner, domain.RoleAdmin); err != nil {
		return nil, nil, err
	}

	after, err := decodePageCursor(page.PageToken)
	if err != nil {
		return nil, nil, err
	}
	limit := pageLimit(page)

	invites, err := s.repo.ListInvites(ctx, id, after, limit+1)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]*domain.OrganizationInvite, 0, len(invites))
	for i := range invites {
		rows = append(rows, &invites[i])
	}
	info := pagination.BuildCursorPageInfo(rows, int32(limit), func(invite *domain.OrganizationInvite) string {
		return encodePageCursor(invite.ID, invite.CreatedAt)
	})
	if len(invites) > limit {
		invites = invites[:limit]
	}

	resp := make([]domain.InviteResponseItem, 0, len(invites))
	for _, invite := range invites {
		resp = append(resp, inviteResponse(invite))
	}
	return resp, info, nil
}

func (s *service) RevokeInvite(ctx context.Context, userID snowflake.ID, orgID, inviteID string) error {
	id, err := parseOrgID(orgID)
	if err != nil {
		return err
	}
	iid, err := parseInviteID(inviteID)
	if err != nil {
		return err
	}

	if err := s.requireRole(ctx, id, userID, domain.RoleOwner, domain.RoleAdmin); err != nil {
		return err
	}

	invite, err := s.repo.GetInvite(ctx, id, iid)
	if err != nil {
		return err
	}
	if invite.Status != domain.InviteStatusPending {
		return domain.ErrInviteNotFound
	}

	invite.Status = domain.InviteStatusRevoked
	invite.UpdatedAt = s.clock.Now()
	return s.repo.UpdateInvite(ctx, *invite)
}

// AcceptInvite redeems an invite code for the authenticated user. The invite
// must be pending, unexpired and addressed to the user's email.
func (s *service) AcceptInvite(ctx context.Context, userID snowflake.ID, email, code string) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if strings.TrimSpace(code) == "" {
		return nil, domain.ErrInviteNotFound
	}

	invite, err := s.repo.GetInviteByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	switch invite.Status {
	case domain.InviteStatusPending:
	case domain.InviteStatusRevoked:
		return nil, domain.ErrInviteRevoked
	default:
		return nil, domain.ErrInviteNotFound
	}

	now := s.clock.Now()
	if now.After(invite.ExpiresAt) {
		invite.Status = domain.InviteStatusExpired
		invite.UpdatedAt = now
		if err := s.repo.UpdateInvite(ctx, *invite); err != nil {
			s.log.Warn("failed to expire invite", zap.Error(err))
		}
		return nil, domain.ErrInviteExpired
	}

	if !strings.EqualFold(strings.TrimSpace(email), invite.Email) {
		return nil, domain.ErrForbidden
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     invite.OrgID,
			UserID:    userID,
			Role:      invite.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.AddMember(ctx, member); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyMember
			}
			return err
		}

		invite.Status = domain.InviteStatusAccepted
		invite.AcceptedAt = &now
		invite.UpdatedAt = now
		return repo.UpdateInvite(ctx, *invite)
	})
	if err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, invite.OrgID)
	if err != nil {
		return nil, err
	}
	return orgResponse(org), nil
}

func (s *service) sendInviteEmail(ctx context.Context, org *domain.Organization, invite domain.OrganizationInvite) {
	data := map[string]any{
		"org_name":   org.Name,
		"role":       invite.Role,
		"invite_url": s.baseURL + "/invites/" + invite.Code,
		"expires_at": invite.ExpiresAt.Format(time.RFC1123),
	}
	if err := s.emailer.SendTemplate(ctx, []string{invite.Email}, "invite_member", data); err != nil {
		s.log.Warn("failed to send invite email",
			zap.String("organization_id", org.ID.String()),
			zap.Error(err),
		)
	}
}

func normalizeInviteEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func parseInviteID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInviteNotFound
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, domain.ErrInviteNotFound
	}
	return id, nil
}

func inviteResponse(invite domain.OrganizationInvite) domain.InviteResponseItem {
	return domain.InviteResponseItem{
		ID:        invite.ID.String(),
		Email:     invite.Email,
		Role:      invite.Role,
		Status:    invite.Status,
		ExpiresAt: invite.ExpiresAt,
		CreatedAt: invite.CreatedAt,
	}
}
