package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseFeed(t *testing.T, feed Feed) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	require.NoError(t, feed.Notify(ctx, Notification{GameID: "g1", Type: SettlementStarted, Message: "settling", CreatedAt: at}))
	require.NoError(t, feed.Notify(ctx, Notification{GameID: "g1", PlayerID: "amy", Type: CheckoutRejected, Message: "recount", CreatedAt: at,
		Data: map[string]any{"chips": int64(120)}}))
	require.NoError(t, feed.Notify(ctx, Notification{GameID: "g1", PlayerID: "bob", Type: CheckoutComplete, Message: "done", CreatedAt: at}))
	require.NoError(t, feed.Notify(ctx, Notification{GameID: "g2", Type: GameClosed, Message: "other game", CreatedAt: at}))

	amy, err := feed.List(ctx, "g1", "amy", 0)
	require.NoError(t, err)
	require.Len(t, amy, 2)
	assert.Equal(t, SettlementStarted, amy[0].Type)
	assert.Equal(t, int64(1), amy[0].Seq)
	assert.Equal(t, CheckoutRejected, amy[1].Type)
	assert.Equal(t, int64(2), amy[1].Seq)
	assert.True(t, amy[1].CreatedAt.Equal(at))
	assert.EqualValues(t, 120, amy[1].Data["chips"])

	all, err := feed.List(ctx, "g1", "", 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(3), all[1].Seq)
	assert.Equal(t, "bob", all[1].PlayerID)

	none, err := feed.List(ctx, "g3", "amy", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryFeed(t *testing.T) {
	exerciseFeed(t, NewMemoryFeed())
}

func TestRedisFeed(t *testing.T) {
	srv := miniredis.RunT(t)
	feed, mode, err := NewFeed(context.Background(), srv.Addr())
	require.NoError(t, err)
	assert.Equal(t, ModeRedis, mode)
	t.Cleanup(func() { _ = feed.Close() })

	exerciseFeed(t, feed)
	assert.True(t, srv.Exists(redisKey("g1")))
	assert.Positive(t, srv.TTL(redisKey("g1")))
}

func TestNewFeedFallsBackToMemory(t *testing.T) {
	feed, mode, err := NewFeed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, ModeMemory, mode)
	assert.IsType(t, &MemoryFeed{}, feed)
}

type failingSink struct{}

func (failingSink) Notify(context.Context, Notification) error { return errors.New("down") }

func TestDeliverLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})

	Deliver(context.Background(), failingSink{}, logger, Notification{GameID: "g1", Type: GameClosed})
	assert.Contains(t, buf.String(), "notification dropped")
	assert.Contains(t, buf.String(), "game_closed")

	Deliver(context.Background(), nil, logger, Notification{GameID: "g1"})
}
