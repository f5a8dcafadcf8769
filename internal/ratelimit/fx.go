package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atrium/internal/config"
	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(newRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(newLoginLimiter),
)

// newRedisClient returns nil when REDIS_URL is unset. Downstream
// constructors treat a nil client as "run without redis".
func newRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid redis url, running without redis", zap.Error(err))
		return nil
	}
	return redis.NewClient(opts)
}

func newLoginLimiter(cfg config.Config, client *redis.Client, metrics *obsmetrics.Metrics) *LoginLimiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	var bucket Bucket
	if client != nil {
		bucket = NewRedisBucket(client)
	} else {
		bucket = NewMemoryBucket()
	}

	return NewLoginLimiter(bucket, metrics, LoginLimiterConfig{
		IPRate:     cfg.RateLimit.LoginIPRate,
		IPBurst:    cfg.RateLimit.LoginIPBurst,
		EmailRate:  cfg.RateLimit.LoginEmailRate,
		EmailBurst: cfg.RateLimit.LoginEmailBurst,
	})
}
