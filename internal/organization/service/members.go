package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *service) ListMembers(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]domain.MemberResponseItem, *pagination.PageInfo, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.repo.GetMember(ctx, id, userID); err != nil {
		return nil, nil, domain.ErrForbidden
	}

	after, err := decodePageCursor(page.PageToken)
	if err != nil {
		return nil, nil, err
	}
	limit := pageLimit(page)

	// One extra row decides has_more.
	items, err := s.repo.ListMembers(ctx, id, after, limit+1)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]*domain.MemberListItem, 0, len(items))
	for i := range items {
		rows = append(rows, &items[i])
	}
	info := pagination.BuildCursorPageInfo(rows, int32(limit), func(item *domain.MemberListItem) string {
		return encodePageCursor(item.ID, item.CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}

	resp := make([]domain.MemberResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.MemberResponseItem{
			ID:          item.ID.String(),
			UserID:      item.UserID.String(),
			Email:       item.Email,
			DisplayName: item.DisplayName,
			Role:        item.Role,
			CreatedAt:   item.CreatedAt,
		})
	}
	return resp, info, nil
}

// UpdateMemberRole changes a member's role. Demoting the last remaining owner
// is rejected so the organization always keeps at least one owner.
func (s *service) UpdateMemberRole(ctx context.Context, userID snowflake.ID, orgID, memberID string, role string) error {
	id, err := parseOrgID(orgID)
	if err != nil {
		return err
	}
	mid, err := parseMemberID(memberID)
	if err != nil {
		return err
	}

	role = strings.ToUpper(strings.TrimSpace(role))
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}

	if err := s.requireRole(ctx, id, userID, domain.RoleOwner); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		member, err := repo.GetMemberByID(ctx, id, mid)
		if err != nil {
			return err
		}
		if member.Role == role {
			return nil
		}

		if member.Role == domain.RoleOwner && role != domain.RoleOwner {
			owners, err := repo.CountOwners(ctx, id, true)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrSoleOwner
			}
		}

		return repo.UpdateMemberRole(ctx, mid, role, s.clock.Now())
	})
}

// RemoveMember removes a membership. Owners can remove anyone, admins can
// remove non-owners, and any member can remove themselves. Removing the last
// owner is always rejected.
func (s *service) RemoveMember(ctx context.Context, userID snowflake.ID, orgID, memberID string) error {
	id, err := parseOrgID(orgID)
	if err != nil {
		return err
	}
	mid, err := parseMemberID(memberID)
	if err != nil {
		return err
	}

	actor, err := s.repo.GetMember(ctx, id, userID)
	if err != nil {
		return domain.ErrForbidden
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		target, err := repo.GetMemberByID(ctx, id, mid)
		if err != nil {
			return err
		}

		isSelf := target.UserID == userID
		switch {
		case isSelf:
		case actor.Role == domain.RoleOwner:
		case actor.Role == domain.RoleAdmin && target.Role != domain.RoleOwner:
		default:
			return domain.ErrForbidden
		}

		if target.Role == domain.RoleOwner {
			owners, err := repo.CountOwners(ctx, id, true)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrSoleOwner
			}
		}

		if err := repo.RemoveMember(ctx, mid); err != nil {
			return err
		}

		s.log.Info("member removed",
			zap.String("organization_id", id.String()),
			zap.String("member_id", mid.String()),
		)
		return nil
	})
}

func parseMemberID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrMemberNotFound
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, domain.ErrMemberNotFound
	}
	return id, nil
}
