package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER" // Read-only / Limited
)

const (
	InviteStatusPending  = "PENDING"
	InviteStatusAccepted = "ACCEPTED"
	InviteStatusRevoked  = "REVOKED"
	InviteStatusExpired  = "EXPIRED"
)

// ValidRole reports whether role is one of the assignable membership roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, userID snowflake.ID, id string) (*OrganizationResponse, error)
	Update(ctx context.Context, userID snowflake.ID, id string, req UpdateOrganizationRequest) (*OrganizationResponse, error)
	Delete(ctx context.Context, userID snowflake.ID, id string) error
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error)

	ListMembers(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]MemberResponseItem, *pagination.PageInfo, error)
	UpdateMemberRole(ctx context.Context, userID snowflake.ID, orgID, memberID string, role string) error
	RemoveMember(ctx context.Context, userID snowflake.ID, orgID, memberID string) error

	InviteMembers(ctx context.Context, userID snowflake.ID, orgID string, invites []InviteRequest) ([]InviteResponseItem, error)
	ListInvites(ctx context.Context, userID snowflake.ID, orgID string, page pagination.Pagination) ([]InviteResponseItem, *pagination.PageInfo, error)
	RevokeInvite(ctx context.Context, userID snowflake.ID, orgID, inviteID string) error
	AcceptInvite(ctx context.Context, userID snowflake.ID, email, code string) (*OrganizationResponse, error)
}

type CreateOrganizationRequest struct {
	Name        string
	Description string
}

type UpdateOrganizationRequest struct {
	Name        string
	Description *string
}

// ListCursor is the decoded keyset position for member and invite listings.
// Snowflake IDs are time-ordered, so the id alone gives a stable creation
// order on every dialect.
type ListCursor struct {
	ID snowflake.ID
}

type InviteRequest struct {
	Email string
	Role  string
}

type OrganizationResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	PlanCode    string `json:"plan_code"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberResponseItem struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type InviteResponseItem struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrForbidden            = errors.New("forbidden")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrMemberNotFound       = errors.New("member_not_found")
	ErrAlreadyMember        = errors.New("already_member")
	ErrSoleOwner            = errors.New("sole_owner_conflict")
	ErrSlugUnavailable      = errors.New("slug_unavailable")
	ErrInviteNotFound       = errors.New("invite_not_found")
	ErrInviteExpired        = errors.New("invite_expired")
	ErrInviteRevoked        = errors.New("invite_revoked")
	ErrInviteExists         = errors.New("invite_exists")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)
