package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) UpdateOrganization(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	tx := r.db.WithContext(ctx).Model(&domain.Organization{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (r *repository) DeleteOrganization(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Organization{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("slug = ?", strings.TrimSpace(slug)).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) AddMember(ctx context.Context, member domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Create(&member).Error
}

func (r *repository) GetMember(ctx context.Context, orgID, userID snowflake.ID) (*domain.OrganizationMember, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) GetMemberByID(ctx context.Context, orgID, memberID snowflake.ID) (*domain.OrganizationMember, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, memberID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) ListMembers(ctx context.Context, orgID snowflake.ID, after *domain.ListCursor, limit int) ([]domain.MemberListItem, error) {
	tx := r.db.WithContext(ctx).
		Table("organization_members m").
		Select("m.id, m.user_id, u.email, u.display_name, m.role, m.created_at").
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.organization_id = ?", orgID).
		Order("m.id ASC")
	if after != nil {
		tx = tx.Where("m.id > ?", after.ID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var items []domain.MemberListItem
	if err := tx.Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) UpdateMemberRole(ctx context.Context, memberID snowflake.ID, role string, updatedAt time.Time) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.OrganizationMember{}).
		Where("id = ?", memberID).
		Updates(map[string]any{"role": role, "updated_at": updatedAt})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

func (r *repository) RemoveMember(ctx context.Context, memberID snowflake.ID) error {
	tx := r.db.WithContext(ctx).Where("id = ?", memberID).Delete(&domain.OrganizationMember{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

func (r *repository) RemoveMembersByOrg(ctx context.Context, orgID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Delete(&domain.OrganizationMember{}).Error
}

func (r *repository) RemoveMembershipsByUser(ctx context.Context, userID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.OrganizationMember{}).Error
}

// CountOwners counts OWNER memberships for an organization. With lock set the
// owner rows are locked for the duration of the surrounding transaction so a
// concurrent demote or delete cannot slip past the check. Postgres rejects
// FOR UPDATE on aggregate queries, so the locked variant selects the rows
// and counts them in Go.
func (r *repository) CountOwners(ctx context.Context, orgID snowflake.ID, lock bool) (int64, error) {
	if lock && r.supportsRowLocks() {
		var ids []int64
		err := r.db.WithContext(ctx).
			Model(&domain.OrganizationMember{}).
			Where("organization_id = ? AND role = ?", orgID, domain.RoleOwner).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Pluck("id", &ids).Error
		if err != nil {
			return 0, err
		}
		return int64(len(ids)), nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.OrganizationMember{}).
		Where("organization_id = ? AND role = ?", orgID, domain.RoleOwner).
		Count(&count).Error
	return count, err
}

func (r *repository) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, m.role, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.organization_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY o.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListOwnedOrganizations returns every organization where the user holds the
// OWNER role, together with that organization's total owner count.
func (r *repository) ListOwnedOrganizations(ctx context.Context, userID snowflake.ID, lock bool) ([]domain.OwnedOrganization, error) {
	lockClause := ""
	if lock && r.supportsRowLocks() {
		lockClause = " FOR UPDATE OF o"
	}

	var items []domain.OwnedOrganization
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug,
		        (SELECT COUNT(*) FROM organization_members c
		         WHERE c.organization_id = o.id AND c.role = ?) AS owner_count
		 FROM organizations o
		 JOIN organization_members m ON m.organization_id = o.id
		 WHERE m.user_id = ? AND m.role = ?
		 ORDER BY o.created_at ASC`+lockClause,
		domain.RoleOwner,
		userID,
		domain.RoleOwner,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) CreateInvites(ctx context.Context, invites []domain.OrganizationInvite) error {
	if len(invites) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&invites).Error
}

func (r *repository) GetInvite(ctx context.Context, orgID, inviteID snowflake.ID) (*domain.OrganizationInvite, error) {
	var invite domain.OrganizationInvite
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, inviteID).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) GetInviteByCode(ctx context.Context, code string) (*domain.OrganizationInvite, error) {
	var invite domain.OrganizationInvite
	err := r.db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) ListInvites(ctx context.Context, orgID snowflake.ID, after *domain.ListCursor, limit int) ([]domain.OrganizationInvite, error) {
	tx := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id ASC")
	if after != nil {
		tx = tx.Where("id > ?", after.ID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var invites []domain.OrganizationInvite
	if err := tx.Find(&invites).Error; err != nil {
		return nil, err
	}
	return invites, nil
}

func (r *repository) UpdateInvite(ctx context.Context, invite domain.OrganizationInvite) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.OrganizationInvite{}).
		Where("id = ?", invite.ID).
		Select("status", "accepted_at", "updated_at").
		Updates(&invite)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrInviteNotFound
	}
	return nil
}

func (r *repository) DeleteInvitesByOrg(ctx context.Context, orgID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Delete(&domain.OrganizationInvite{}).Error
}

// sqlite has no SELECT ... FOR UPDATE; writes are serialized there anyway.
func (r *repository) supportsRowLocks() bool {
	return r.db.Dialector.Name() != "sqlite"
}
