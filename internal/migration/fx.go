package migration

import (
	"context"
	"time"

	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	bootLockKey = "migrations:boot"
	bootLockTTL = 2 * time.Minute
)

type bootParams struct {
	fx.In

	Conn   *gorm.DB
	Cfg    config.Config
	Log    *zap.Logger
	Locker *ratelimit.Locker `optional:"true"`
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p bootParams) error {
		ctx := context.Background()

		token, acquired, err := p.Locker.TryLock(ctx, bootLockKey, bootLockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			// Another instance is migrating. Schema and seeds are idempotent,
			// so this one skips.
			p.Log.Info("boot migration lock held elsewhere, skipping")
			return nil
		}
		defer func() {
			_ = p.Locker.Release(ctx, bootLockKey, token)
		}()

		if p.Cfg.DBType == "postgres" {
			sqlDB, err := p.Conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}
		// Non-postgres deployments manage schema out of band; seeds still run.
		return seedDefaults(p.Conn, p.Cfg)
	}),
)

func seedDefaults(conn *gorm.DB, cfg config.Config) error {
	if cfg.DefaultOrgID != 0 {
		if err := seed.EnsureDefaultOrgWithID(conn, cfg.DefaultOrgID); err != nil {
			return err
		}
	} else {
		if err := seed.EnsureDefaultOrg(conn); err != nil {
			return err
		}
	}
	if cfg.Bootstrap.EnsureDefaultOrgAndUser {
		return seed.EnsureDefaultOrgAndAdmin(conn, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
	}
	return nil
}
