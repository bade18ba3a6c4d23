package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	redisKeyPrefix = "homegame:notify:"
	redisTTL       = 48 * time.Hour
)

// RedisFeed keeps one list per game. Entries are structpb.Struct messages in proto wire
// form; the list index plus one is the sequence number.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(ctx context.Context, addr string) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisFeed{client: client}, nil
}

func redisKey(gameID string) string { return redisKeyPrefix + gameID }

func (f *RedisFeed) Notify(ctx context.Context, n Notification) error {
	raw, err := encodeNotification(n)
	if err != nil {
		return err
	}
	key := redisKey(n.GameID)
	pipe := f.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, redisTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (f *RedisFeed) List(ctx context.Context, gameID, playerID string, afterSeq int64) ([]Notification, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	raws, err := f.client.LRange(ctx, redisKey(gameID), afterSeq, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raws))
	for i, raw := range raws {
		n, err := decodeNotification([]byte(raw))
		if err != nil {
			return nil, err
		}
		n.Seq = afterSeq + int64(i) + 1
		if !n.visibleTo(playerID) {
			continue
		}
		out = append(out, n)
		if len(out) >= defaultListLimit {
			break
		}
	}
	return out, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func encodeNotification(n Notification) ([]byte, error) {
	fields := map[string]any{
		"game_id":    n.GameID,
		"player_id":  n.PlayerID,
		"type":       string(n.Type),
		"message":    n.Message,
		"created_ms": float64(n.CreatedAt.UTC().UnixMilli()),
	}
	if len(n.Data) > 0 {
		fields["data"] = n.Data
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", n.Type, err)
	}
	return proto.Marshal(msg)
}

func decodeNotification(raw []byte) (Notification, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(raw, &msg); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	fields := msg.AsMap()
	n := Notification{
		GameID:   stringField(fields, "game_id"),
		PlayerID: stringField(fields, "player_id"),
		Type:     Type(stringField(fields, "type")),
		Message:  stringField(fields, "message"),
	}
	if ms, ok := fields["created_ms"].(float64); ok && ms > 0 {
		n.CreatedAt = time.UnixMilli(int64(ms)).UTC()
	}
	if data, ok := fields["data"].(map[string]any); ok {
		n.Data = data
	}
	return n, nil
}

func stringField(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}
