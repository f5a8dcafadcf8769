package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/onboarding/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(db *gorm.DB, log *zap.Logger, clk clock.Clock) domain.Service {
	return &service{
		db:    db,
		log:   log.Named("onboarding.service"),
		clock: clk,
	}
}

// Get returns the user's progress, creating the initial record on first read.
func (s *service) Get(ctx context.Context, userID snowflake.ID) (*domain.ProgressResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	progress, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return response(progress)
}

// CompleteStep marks a step as done and advances the current step. Steps
// complete in order; completing an already-done step is a no-op.
func (s *service) CompleteStep(ctx context.Context, userID snowflake.ID, step string) (*domain.ProgressResponse, error) {
	return s.advance(ctx, userID, step, false)
}

// SkipStep behaves like CompleteStep without recording the step as completed.
func (s *service) SkipStep(ctx context.Context, userID snowflake.ID, step string) (*domain.ProgressResponse, error) {
	return s.advance(ctx, userID, step, true)
}

func (s *service) advance(ctx context.Context, userID snowflake.ID, step string, skip bool) (*domain.ProgressResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	step = strings.ToLower(strings.TrimSpace(step))
	if stepIndex(step) < 0 {
		return nil, domain.ErrInvalidStep
	}

	var progress *domain.Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		progress, err = s.loadTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		completed, err := completedSteps(progress)
		if err != nil {
			return err
		}
		if contains(completed, step) {
			return nil
		}
		if progress.CurrentStep != step {
			return domain.ErrStepOutOfSeq
		}

		if !skip {
			completed = append(completed, step)
		}

		now := s.clock.Now()
		next := nextStep(step)
		progress.CurrentStep = next
		progress.UpdatedAt = now
		if next == domain.StepDone {
			progress.CompletedAt = &now
		}

		raw, err := json.Marshal(completed)
		if err != nil {
			return err
		}
		progress.CompletedSteps = datatypes.JSON(raw)

		return tx.WithContext(ctx).
			Model(&domain.Progress{}).
			Where("user_id = ?", userID).
			Select("current_step", "completed_steps", "completed_at", "updated_at").
			Updates(progress).Error
	})
	if err != nil {
		return nil, err
	}

	return response(progress)
}

func (s *service) load(ctx context.Context, userID snowflake.ID) (*domain.Progress, error) {
	return s.loadTx(ctx, s.db, userID)
}

func (s *service) loadTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*domain.Progress, error) {
	var progress domain.Progress
	err := tx.WithContext(ctx).First(&progress, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.clock.Now()
		progress = domain.Progress{
			UserID:         userID,
			CurrentStep:    domain.StepProfile,
			CompletedSteps: datatypes.JSON("[]"),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&progress).Error; err != nil {
			return nil, err
		}
		return &progress, nil
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func stepIndex(step string) int {
	for i, s := range domain.Steps {
		if s == step {
			return i
		}
	}
	return -1
}

func nextStep(step string) string {
	idx := stepIndex(step)
	if idx < 0 || idx+1 >= len(domain.Steps) {
		return domain.StepDone
	}
	return domain.Steps[idx+1]
}

func completedSteps(progress *domain.Progress) ([]string, error) {
	var steps []string
	if len(progress.CompletedSteps) == 0 {
		return steps, nil
	}
	if err := json.Unmarshal(progress.CompletedSteps, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func contains(steps []string, step string) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}

func response(progress *domain.Progress) (*domain.ProgressResponse, error) {
	completed, err := completedSteps(progress)
	if err != nil {
		return nil, err
	}
	if completed == nil {
		completed = []string{}
	}
	return &domain.ProgressResponse{
		CurrentStep:    progress.CurrentStep,
		CompletedSteps: completed,
		Done:           progress.CurrentStep == domain.StepDone,
		CompletedAt:    progress.CompletedAt,
	}, nil
}
