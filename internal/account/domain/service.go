// Package domain contains core types for the account lifecycle service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetProfile(ctx context.Context, userID snowflake.ID) (*ProfileResponse, error)
	UpdateProfile(ctx context.Context, userID snowflake.ID, req UpdateProfileRequest) (*ProfileResponse, error)
	DeleteAccount(ctx context.Context, userID snowflake.ID) error
}

type UpdateProfileRequest struct {
	DisplayName *string
	AvatarURL   *string
	Locale      *string
}

type ProfileResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Locale      string `json:"locale"`
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidDisplayName = errors.New("invalid_display_name")
	ErrInvalidLocale      = errors.New("invalid_locale")
)

// ConflictOrg identifies an organization blocking account deletion.
type ConflictOrg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// SoleOwnerConflictError reports every organization where the user is the
// only owner. Deletion is rejected as a whole; the caller must transfer
// ownership or delete those organizations first.
type SoleOwnerConflictError struct {
	Organizations []ConflictOrg
}

func (e *SoleOwnerConflictError) Error() string {
	names := make([]string, 0, len(e.Organizations))
	for _, org := range e.Organizations {
		names = append(names, org.Slug)
	}
	return fmt.Sprintf("sole_owner_conflict: %s", strings.Join(names, ", "))
}

// IsSoleOwnerConflict reports whether err is a sole-owner conflict and
// returns the typed error when it is.
func IsSoleOwnerConflict(err error) (*SoleOwnerConflictError, bool) {
	var conflict *SoleOwnerConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
