package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "homegame:session:"

// RedisSessions stores each session as a hash whose key expiry is the session TTL.
// Resolving a token pushes the expiry out again.
type RedisSessions struct {
	client     *redis.Client
	sessionTTL time.Duration
}

func NewRedisSessions(ctx context.Context, addr string, ttl time.Duration) (*RedisSessions, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisSessions{client: client, sessionTTL: ttl}, nil
}

func (s *RedisSessions) Issue(ctx context.Context, p Principal) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	key := sessionKeyPrefix + token
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "game_id", p.GameID, "player_id", p.PlayerID, "role", string(p.Role))
	pipe.Expire(ctx, key, s.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisSessions) Resolve(ctx context.Context, token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	key := sessionKeyPrefix + token
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return Principal{}, false
	}
	p := Principal{
		GameID:   fields["game_id"],
		PlayerID: fields["player_id"],
		Role:     Role(fields["role"]),
	}
	if p.validate() != nil {
		return Principal{}, false
	}
	_ = s.client.Expire(ctx, key, s.sessionTTL).Err()
	return p, true
}

func (s *RedisSessions) Revoke(ctx context.Context, token string) {
	if token == "" {
		return
	}
	_ = s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

func (s *RedisSessions) Close() error {
	return s.client.Close()
}
