package service

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/organization/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

func pageLimit(page pagination.Pagination) int {
	switch {
	case page.PageSize < 1:
		return defaultPageSize
	case page.PageSize > maxPageSize:
		return maxPageSize
	default:
		return page.PageSize
	}
}

func decodePageCursor(token string) (*domain.ListCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	raw, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(raw.ID)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}

	return &domain.ListCursor{ID: id}, nil
}

func encodePageCursor(id snowflake.ID, createdAt time.Time) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        id.String(),
		CreatedAt: createdAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}
