package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homegame/settle"
)

type memData struct {
	games       map[string]settle.Game
	players     map[string]*settle.Player // gameID/playerID -> player
	playerOrder map[string][]string       // gameID -> playerIDs in join order
	buyins      map[string]settle.BuyInRequest
	buyinOrder  map[string][]string
}

func newMemData() *memData {
	return &memData{
		games:       make(map[string]settle.Game),
		players:     make(map[string]*settle.Player),
		playerOrder: make(map[string][]string),
		buyins:      make(map[string]settle.BuyInRequest),
		buyinOrder:  make(map[string][]string),
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for k, g := range d.games {
		g.ManagerPINHash = append([]byte(nil), g.ManagerPINHash...)
		out.games[k] = g
	}
	for k, p := range d.players {
		out.players[k] = p.Clone()
	}
	for k, ids := range d.playerOrder {
		out.playerOrder[k] = append([]string(nil), ids...)
	}
	for k, r := range d.buyins {
		out.buyins[k] = r
	}
	for k, ids := range d.buyinOrder {
		out.buyinOrder[k] = append([]string(nil), ids...)
	}
	return out
}

// MemoryStore keeps everything in process. One mutex serializes all writes, which makes
// each conditional update trivially atomic.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.data.clone()
	if err := fn(&memTx{d: s.data}); err != nil {
		s.data = backup
		return err
	}
	return nil
}

func (s *MemoryStore) tx() *memTx { return &memTx{d: s.data} }

func (s *MemoryStore) CreateGame(ctx context.Context, g *settle.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateGame(ctx, g)
}

func (s *MemoryStore) GetGame(ctx context.Context, gameID string) (*settle.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetGame(ctx, gameID)
}

func (s *MemoryStore) UpdateGameIf(ctx context.Context, g *settle.Game, expect settle.GameStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdateGameIf(ctx, g, expect)
}

func (s *MemoryStore) ListExpiredOpenGames(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListExpiredOpenGames(ctx, now)
}

func (s *MemoryStore) CreatePlayer(ctx context.Context, p *settle.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreatePlayer(ctx, p)
}

func (s *MemoryStore) GetPlayer(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetPlayer(ctx, gameID, playerID)
}

func (s *MemoryStore) ListPlayers(ctx context.Context, gameID string) ([]*settle.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListPlayers(ctx, gameID)
}

func (s *MemoryStore) UpdatePlayerIf(ctx context.Context, p *settle.Player, expect settle.CheckoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdatePlayerIf(ctx, p, expect)
}

func (s *MemoryStore) CreateBuyIn(ctx context.Context, r *settle.BuyInRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateBuyIn(ctx, r)
}

func (s *MemoryStore) GetBuyIn(ctx context.Context, gameID, requestID string) (*settle.BuyInRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetBuyIn(ctx, gameID, requestID)
}

func (s *MemoryStore) ListBuyIns(ctx context.Context, gameID string) ([]settle.BuyInRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListBuyIns(ctx, gameID)
}

func (s *MemoryStore) ResolveBuyIn(ctx context.Context, r *settle.BuyInRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ResolveBuyIn(ctx, r)
}

func (s *MemoryStore) ListResolvedRequests(ctx context.Context, gameID, playerID string) ([]settle.BuyInRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListResolvedRequests(ctx, gameID, playerID)
}

func (s *MemoryStore) DeclineAllPending(ctx context.Context, gameID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().DeclineAllPending(ctx, gameID, now)
}

func (s *MemoryStore) AdjustPool(ctx context.Context, gameID string, field PoolField, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().AdjustPool(ctx, gameID, field, delta)
}

func (s *MemoryStore) SetPools(ctx context.Context, gameID string, cashPool, creditPool int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().SetPools(ctx, gameID, cashPool, creditPool)
}

// memTx operates on data the caller already holds the lock for.
type memTx struct {
	d *memData
}

func playerKey(gameID, playerID string) string { return gameID + "/" + playerID }

func (t *memTx) CreateGame(_ context.Context, g *settle.Game) error {
	if _, exists := t.d.games[g.ID]; exists {
		return fmt.Errorf("create game %s: %w", g.ID, settle.ErrConflict)
	}
	t.d.games[g.ID] = *g
	return nil
}

func (t *memTx) GetGame(_ context.Context, gameID string) (*settle.Game, error) {
	g, ok := t.d.games[gameID]
	if !ok {
		return nil, settle.ErrNotFound
	}
	return &g, nil
}

func (t *memTx) UpdateGameIf(_ context.Context, g *settle.Game, expect settle.GameStatus) error {
	cur, ok := t.d.games[g.ID]
	if !ok {
		return settle.ErrNotFound
	}
	if cur.Status != expect {
		return settle.ErrConflict
	}
	cur.Status = g.Status
	cur.SettlementState = g.SettlementState
	cur.HostPlayerID = g.HostPlayerID
	cur.FrozenAt = g.FrozenAt
	cur.ClosedAt = g.ClosedAt
	t.d.games[g.ID] = cur
	return nil
}

func (t *memTx) ListExpiredOpenGames(_ context.Context, now time.Time) ([]string, error) {
	ids := make([]string, 0)
	for id, g := range t.d.games {
		if g.Status == settle.GameOpen && !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *memTx) CreatePlayer(_ context.Context, p *settle.Player) error {
	if _, ok := t.d.games[p.GameID]; !ok {
		return settle.ErrNotFound
	}
	key := playerKey(p.GameID, p.ID)
	if _, exists := t.d.players[key]; exists {
		return fmt.Errorf("create player %s: %w", p.ID, settle.ErrConflict)
	}
	for _, id := range t.d.playerOrder[p.GameID] {
		if t.d.players[playerKey(p.GameID, id)].Name == p.Name {
			return fmt.Errorf("player name %q taken: %w", p.Name, settle.ErrConflict)
		}
	}
	t.d.players[key] = p.Clone()
	t.d.playerOrder[p.GameID] = append(t.d.playerOrder[p.GameID], p.ID)
	return nil
}

func (t *memTx) GetPlayer(_ context.Context, gameID, playerID string) (*settle.Player, error) {
	p, ok := t.d.players[playerKey(gameID, playerID)]
	if !ok {
		return nil, settle.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) ListPlayers(_ context.Context, gameID string) ([]*settle.Player, error) {
	ids := t.d.playerOrder[gameID]
	out := make([]*settle.Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.d.players[playerKey(gameID, id)].Clone())
	}
	return out, nil
}

func (t *memTx) UpdatePlayerIf(_ context.Context, p *settle.Player, expect settle.CheckoutStatus) error {
	key := playerKey(p.GameID, p.ID)
	cur, ok := t.d.players[key]
	if !ok {
		return settle.ErrNotFound
	}
	if cur.CheckoutStatus != expect {
		return settle.ErrConflict
	}
	t.d.players[key] = p.Clone()
	return nil
}

func (t *memTx) CreateBuyIn(_ context.Context, r *settle.BuyInRequest) error {
	if _, ok := t.d.players[playerKey(r.GameID, r.PlayerID)]; !ok {
		return settle.ErrNotFound
	}
	if _, exists := t.d.buyins[r.ID]; exists {
		return fmt.Errorf("create buy-in %s: %w", r.ID, settle.ErrConflict)
	}
	t.d.buyins[r.ID] = *r
	t.d.buyinOrder[r.GameID] = append(t.d.buyinOrder[r.GameID], r.ID)
	return nil
}

func (t *memTx) GetBuyIn(_ context.Context, gameID, requestID string) (*settle.BuyInRequest, error) {
	r, ok := t.d.buyins[requestID]
	if !ok || r.GameID != gameID {
		return nil, settle.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) ListBuyIns(_ context.Context, gameID string) ([]settle.BuyInRequest, error) {
	ids := t.d.buyinOrder[gameID]
	out := make([]settle.BuyInRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.d.buyins[id])
	}
	return out, nil
}

func (t *memTx) ResolveBuyIn(_ context.Context, r *settle.BuyInRequest) error {
	cur, ok := t.d.buyins[r.ID]
	if !ok || cur.GameID != r.GameID {
		return settle.ErrNotFound
	}
	if cur.Status != settle.BuyInPending {
		return settle.ErrConflict
	}
	cur.Status = r.Status
	cur.EditedAmount = r.EditedAmount
	cur.ResolvedAt = r.ResolvedAt
	t.d.buyins[r.ID] = cur
	return nil
}

func (t *memTx) ListResolvedRequests(_ context.Context, gameID, playerID string) ([]settle.BuyInRequest, error) {
	out := make([]settle.BuyInRequest, 0)
	for _, id := range t.d.buyinOrder[gameID] {
		r := t.d.buyins[id]
		if r.PlayerID != playerID {
			continue
		}
		if r.Status == settle.BuyInApproved || r.Status == settle.BuyInEdited {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) DeclineAllPending(_ context.Context, gameID string, now time.Time) (int, error) {
	n := 0
	for _, id := range t.d.buyinOrder[gameID] {
		r := t.d.buyins[id]
		if r.Status != settle.BuyInPending {
			continue
		}
		r.Status = settle.BuyInDeclined
		r.ResolvedAt = now
		t.d.buyins[id] = r
		n++
	}
	return n, nil
}

func (t *memTx) AdjustPool(_ context.Context, gameID string, field PoolField, delta int64) error {
	g, ok := t.d.games[gameID]
	if !ok {
		return settle.ErrNotFound
	}
	switch field {
	case PoolCash:
		g.CashPool += delta
	case PoolCredit:
		g.CreditPool += delta
	case BankCashIn:
		g.Bank.TotalCashIn += delta
	case BankCreditsIssued:
		g.Bank.TotalCreditsIssued += delta
	case BankCashOut:
		g.Bank.TotalCashOut += delta
	case BankCreditOut:
		g.Bank.TotalCreditOut += delta
	case BankChipsInPlay:
		g.Bank.ChipsInPlay += delta
	default:
		return fmt.Errorf("unknown pool field %d", field)
	}
	t.d.games[gameID] = g
	return nil
}

func (t *memTx) SetPools(_ context.Context, gameID string, cashPool, creditPool int64) error {
	g, ok := t.d.games[gameID]
	if !ok {
		return settle.ErrNotFound
	}
	g.CashPool = cashPool
	g.CreditPool = creditPool
	t.d.games[gameID] = g
	return nil
}
