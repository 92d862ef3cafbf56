package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 控制请求速率，避免触发交易所限流。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewRateLimiter 基于 x/time/rate 的令牌桶；rps<=0 时返回不限速的实现。
func NewRateLimiter(rps float64, burst int) RateLimiter {
	if rps <= 0 {
		return noLimit{}
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type noLimit struct{}

func (noLimit) Wait(ctx context.Context) error { return ctx.Err() }
