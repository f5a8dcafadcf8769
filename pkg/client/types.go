package client

import (
	"fmt"
	"time"
)

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	OrgName     string `json:"org_name,omitempty"`
}

type SignupResponse struct {
	UserID    string `json:"user_id"`
	CSRFToken string `json:"csrf_token"`
	OrgID     string `json:"org_id,omitempty"`
	OrgSlug   string `json:"org_slug,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session mirrors the server's session view. Everything the server knows
// about the caller lands in Metadata.
type Session struct {
	Metadata map[string]any `json:"metadata"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Locale      string `json:"locale"`
}

type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Locale      *string `json:"locale,omitempty"`
}

type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	PlanCode    string `json:"plan_code"`
}

type UserOrganization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Member struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type Invite struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type OnboardingProgress struct {
	CurrentStep    string     `json:"current_step"`
	CompletedSteps []string   `json:"completed_steps"`
	Done           bool       `json:"done"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Plan struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	SeatLimit   int    `json:"seat_limit"`
	Description string `json:"description"`
}

type PlanCatalog struct {
	DefaultPlan string `json:"default_plan"`
	Plans       []Plan `json:"plans"`
}

// ConflictOrg identifies an organization blocking account deletion.
type ConflictOrg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is the decoded error envelope returned by the server, annotated
// with the HTTP status code.
type APIError struct {
	StatusCode    int
	Type          string        `json:"type"`
	Message       string        `json:"message"`
	Errors        []FieldError  `json:"errors,omitempty"`
	Organizations []ConflictOrg `json:"organizations,omitempty"`
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: %s (status %d)", e.Type, e.StatusCode)
}

// IsSoleOwnerConflict reports whether err is the account-deletion conflict
// and returns the blocking organizations when it is.
func IsSoleOwnerConflict(err error) ([]ConflictOrg, bool) {
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Type != "sole_owner_conflict" {
		return nil, false
	}
	return apiErr.Organizations, true
}
