package auth

import (
	"context"
	"strings"
	"time"

	"github.com/coder/quartz"
)

const (
	SessionModeMemory = "memory"
	SessionModeRedis  = "redis"
)

// NewService keeps sessions in Redis when an address is configured, in process otherwise.
func NewService(ctx context.Context, redisAddr string, ttl time.Duration, clock quartz.Clock) (Service, string, error) {
	redisAddr = strings.TrimSpace(redisAddr)
	if redisAddr == "" {
		return NewManager(clock, ttl), SessionModeMemory, nil
	}
	sessions, err := NewRedisSessions(ctx, redisAddr, ttl)
	if err != nil {
		return nil, SessionModeRedis, err
	}
	return sessions, SessionModeRedis, nil
}
