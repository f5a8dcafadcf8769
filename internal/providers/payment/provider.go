// Package payment is the billing-side hook for organizations. The starter
// ships a noop implementation; a real processor integration implements the
// same interface and registers itself through fx.
package payment

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

type Provider interface {
	// EnsureCustomer makes sure a billing customer exists for the
	// organization on the configured processor.
	EnsureCustomer(ctx context.Context, orgID snowflake.ID, name, planCode string) error
	// ReleaseCustomer tears the billing customer down after the
	// organization is deleted.
	ReleaseCustomer(ctx context.Context, orgID snowflake.ID) error
}

type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOpProvider {
	return &NoOpProvider{log: log.Named("providers.payment")}
}

func (p *NoOpProvider) EnsureCustomer(ctx context.Context, orgID snowflake.ID, name, planCode string) error {
	_ = ctx
	p.log.Debug("ensure customer (noop)",
		zap.String("org_id", orgID.String()),
		zap.String("plan_code", planCode),
	)
	_ = name
	return nil
}

func (p *NoOpProvider) ReleaseCustomer(ctx context.Context, orgID snowflake.ID) error {
	_ = ctx
	p.log.Debug("release customer (noop)", zap.String("org_id", orgID.String()))
	return nil
}
