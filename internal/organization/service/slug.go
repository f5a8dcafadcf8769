package service

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// fallbackSlug is used when the name normalizes to nothing.
	fallbackSlug = "org"

	maxSlugProbes     = 50
	maxCreateAttempts = 5
)

// nextSlug returns the first candidate at or after offset that is not taken.
// Candidates are base, base-1, base-2 and so on.
func (s *service) nextSlug(ctx context.Context, repo domain.Repository, base string, offset int) (string, int, error) {
	for i := offset; i < maxSlugProbes; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		exists, err := repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", 0, err
		}
		if !exists {
			return candidate, i, nil
		}
	}
	return "", 0, domain.ErrSlugUnavailable
}

// createWithUniqueSlug allocates a slug for name and runs create inside a
// transaction. The unique index on organizations.slug is the arbiter under
// concurrency: when two allocations race for the same candidate, the loser
// retries with the next free suffix.
func (s *service) createWithUniqueSlug(ctx context.Context, name string, create func(ctx context.Context, tx *gorm.DB, slug string) error) error {
	base := slug.Make(name)
	if base == "" {
		base = fallbackSlug
	}

	offset := 0
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		candidate, probed, err := s.nextSlug(ctx, s.repo, base, offset)
		if err != nil {
			return err
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return create(ctx, tx, candidate)
		})
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}

		s.log.Debug("slug taken concurrently, retrying",
			zap.String("slug", candidate),
		)
		offset = probed + 1
	}

	return domain.ErrSlugUnavailable
}
