// Package domain contains types for the signup orchestration flow.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Request carries everything needed to register a new account. OrgName is
// optional; when set the signup also creates an organization owned by the
// new user.
type Request struct {
	Email       string
	Password    string
	DisplayName string
	OrgName     string
	UserAgent   string
	IPAddress   string
}

// Result is returned on a successful signup. The session fields let the
// HTTP layer log the user in without a second round trip.
type Result struct {
	UserID    snowflake.ID
	OrgID     string
	OrgSlug   string
	RawToken  string
	CSRFToken string
	ExpiresAt time.Time
}

type Service interface {
	Signup(ctx context.Context, req Request) (*Result, error)
}

// Provisioner runs post-signup side effects such as the welcome email and
// the initial onboarding record. Failures are logged, never surfaced.
type Provisioner interface {
	Provision(ctx context.Context, userID snowflake.ID, email, displayName string) error
}

var ErrInvalidRequest = errors.New("invalid_request")
