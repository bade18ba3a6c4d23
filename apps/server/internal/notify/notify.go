package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type Type string

const (
	SettlementStarted Type = "settlement_started"
	CheckoutStarted   Type = "checkout_started"
	CheckoutRejected  Type = "checkout_rejected"
	CheckoutComplete  Type = "checkout_complete"
	DistributionReady Type = "distribution_ready"
	GameClosed        Type = "game_closed"
	CreditAssigned    Type = "credit_assigned"
)

const defaultListLimit = 200

// Notification is addressed to one player, or to the whole game when PlayerID is empty.
type Notification struct {
	Seq       int64          `json:"seq"`
	GameID    string         `json:"game_id"`
	PlayerID  string         `json:"player_id,omitempty"`
	Type      Type           `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (n Notification) visibleTo(playerID string) bool {
	return n.PlayerID == "" || playerID == "" || n.PlayerID == playerID
}

type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Feed is a Sink that can be polled.
type Feed interface {
	Sink
	// List returns notifications of a game with Seq > afterSeq visible to playerID, oldest first.
	// An empty playerID sees everything.
	List(ctx context.Context, gameID, playerID string, afterSeq int64) ([]Notification, error)
	Close() error
}

// Deliver sends n and logs a failure instead of returning it; state changes never roll
// back because a notification was lost.
func Deliver(ctx context.Context, sink Sink, logger *log.Logger, n Notification) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, n); err != nil && logger != nil {
		logger.Warn("notification dropped", "type", n.Type, "game", n.GameID, "player", n.PlayerID, "err", err)
	}
}

type MemoryFeed struct {
	mu     sync.Mutex
	nextID map[string]int64
	items  map[string][]Notification
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		nextID: make(map[string]int64),
		items:  make(map[string][]Notification),
	}
}

func (f *MemoryFeed) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID[n.GameID]++
	n.Seq = f.nextID[n.GameID]
	f.items[n.GameID] = append(f.items[n.GameID], n)
	return nil
}

func (f *MemoryFeed) List(_ context.Context, gameID, playerID string, afterSeq int64) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, 0)
	for _, n := range f.items[gameID] {
		if n.Seq <= afterSeq || !n.visibleTo(playerID) {
			continue
		}
		out = append(out, n)
		if len(out) >= defaultListLimit {
			break
		}
	}
	return out, nil
}

func (f *MemoryFeed) Close() error { return nil }

const (
	ModeMemory = "memory"
	ModeRedis  = "redis"
)

// NewFeed returns a Redis-backed feed when addr is set, otherwise an in-process one.
func NewFeed(ctx context.Context, addr string) (Feed, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return NewMemoryFeed(), ModeMemory, nil
	}
	feed, err := NewRedisFeed(ctx, addr)
	if err != nil {
		return nil, ModeRedis, err
	}
	return feed, ModeRedis, nil
}
