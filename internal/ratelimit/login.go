package ratelimit

import (
	"context"
	"fmt"
	"strings"

	obsmetrics "github.com/smallbiznis/atrium/internal/observability/metrics"
)

const (
	keyLoginIP    = "auth:login:ip:%s"
	keyLoginEmail = "auth:login:email:%s"

	endpointLogin = "login"
)

// LoginLimiter throttles credential attempts per source IP and per target
// account. Both checks must pass for the attempt to proceed.
type LoginLimiter struct {
	bucket  Bucket
	metrics *obsmetrics.Metrics

	ipRate     float64
	ipBurst    int
	emailRate  float64
	emailBurst int
}

type LoginLimiterConfig struct {
	IPRate     float64
	IPBurst    int
	EmailRate  float64
	EmailBurst int
}

func NewLoginLimiter(bucket Bucket, metrics *obsmetrics.Metrics, cfg LoginLimiterConfig) *LoginLimiter {
	if bucket == nil {
		return nil
	}
	return &LoginLimiter{
		bucket:     bucket,
		metrics:    metrics,
		ipRate:     cfg.IPRate,
		ipBurst:    cfg.IPBurst,
		emailRate:  cfg.EmailRate,
		emailBurst: cfg.EmailBurst,
	}
}

func (l *LoginLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether a login attempt from ip against email may proceed.
// Limiter errors fail open; an unavailable redis must not lock users out.
func (l *LoginLimiter) Allow(ctx context.Context, ip, email string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}

	if ip = strings.TrimSpace(ip); ip != "" {
		ok, err := l.bucket.Allow(ctx, fmt.Sprintf(keyLoginIP, ip), l.ipRate, l.ipBurst)
		if err != nil {
			return true, err
		}
		if !ok {
			l.metrics.RecordRateLimitDenied(ctx, endpointLogin, "ip")
			return false, nil
		}
	}

	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		ok, err := l.bucket.Allow(ctx, fmt.Sprintf(keyLoginEmail, email), l.emailRate, l.emailBurst)
		if err != nil {
			return true, err
		}
		if !ok {
			l.metrics.RecordRateLimitDenied(ctx, endpointLogin, "account")
			return false, nil
		}
	}

	l.metrics.RecordRateLimitAllowed(ctx, endpointLogin)
	return true, nil
}
