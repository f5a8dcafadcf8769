package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Role      string
	CreatedAt time.Time
}

type MemberListItem struct {
	ID          snowflake.ID
	UserID      snowflake.ID
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type OwnedOrganization struct {
	ID         snowflake.ID
	Name       string
	Slug       string
	OwnerCount int64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	UpdateOrganization(ctx context.Context, id snowflake.ID, fields map[string]any) error
	DeleteOrganization(ctx context.Context, id snowflake.ID) error
	SlugExists(ctx context.Context, slug string) (bool, error)

	AddMember(ctx context.Context, member OrganizationMember) error
	GetMember(ctx context.Context, orgID, userID snowflake.ID) (*OrganizationMember, error)
	GetMemberByID(ctx context.Context, orgID, memberID snowflake.ID) (*OrganizationMember, error)
	ListMembers(ctx context.Context, orgID snowflake.ID, after *ListCursor, limit int) ([]MemberListItem, error)
	UpdateMemberRole(ctx context.Context, memberID snowflake.ID, role string, updatedAt time.Time) error
	RemoveMember(ctx context.Context, memberID snowflake.ID) error
	RemoveMembersByOrg(ctx context.Context, orgID snowflake.ID) error
	RemoveMembershipsByUser(ctx context.Context, userID snowflake.ID) error
	CountOwners(ctx context.Context, orgID snowflake.ID, lock bool) (int64, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)
	ListOwnedOrganizations(ctx context.Context, userID snowflake.ID, lock bool) ([]OwnedOrganization, error)

	CreateInvites(ctx context.Context, invites []OrganizationInvite) error
	GetInvite(ctx context.Context, orgID, inviteID snowflake.ID) (*OrganizationInvite, error)
	GetInviteByCode(ctx context.Context, code string) (*OrganizationInvite, error)
	ListInvites(ctx context.Context, orgID snowflake.ID, after *ListCursor, limit int) ([]OrganizationInvite, error)
	UpdateInvite(ctx context.Context, invite OrganizationInvite) error
	DeleteInvitesByOrg(ctx context.Context, orgID snowflake.ID) error
}
