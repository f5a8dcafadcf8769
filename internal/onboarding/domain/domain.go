// Package domain contains types for onboarding-step progress tracking.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Onboarding steps, in order. A step can only be completed once its
// predecessors are done.
const (
	StepProfile      = "profile"
	StepOrganization = "organization"
	StepInviteTeam   = "invite_team"
	StepDone         = "done"
)

// Steps lists the completable steps in order, excluding the terminal marker.
var Steps = []string{StepProfile, StepOrganization, StepInviteTeam}

// Progress tracks a user's position in the onboarding flow.
type Progress struct {
	UserID         snowflake.ID   `gorm:"primaryKey;column:user_id" json:"user_id"`
	CurrentStep    string         `gorm:"type:text;not null;default:'profile'" json:"current_step"`
	CompletedSteps datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"completed_steps"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Progress) TableName() string { return "onboarding_progress" }

type ProgressResponse struct {
	CurrentStep    string     `json:"current_step"`
	CompletedSteps []string   `json:"completed_steps"`
	Done           bool       `json:"done"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Service interface {
	Get(ctx context.Context, userID snowflake.ID) (*ProgressResponse, error)
	CompleteStep(ctx context.Context, userID snowflake.ID, step string) (*ProgressResponse, error)
	SkipStep(ctx context.Context, userID snowflake.ID, step string) (*ProgressResponse, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidStep  = errors.New("invalid_step")
	ErrStepOutOfSeq = errors.New("step_out_of_sequence")
)
