package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"homegame/settle"
)

type dialect byte

const (
	dialectSQLite   dialect = 1
	dialectPostgres dialect = 2
)

// rebind rewrites ? placeholders into $n for postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore backs both the SQLite and the Postgres store; the schema is shared and only
// placeholders differ.
type sqlStore struct {
	*sqlTx
	db *sql.DB
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{
		sqlTx: &sqlTx{q: db, dialect: d},
		db:    db,
	}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&sqlTx{q: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	q       querier
	dialect dialect
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// casResult turns a zero-row conditional update into ErrConflict or ErrNotFound.
func (t *sqlTx) casResult(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := t.queryRow(ctx, `SELECT EXISTS (`+existsQuery+`)`, args...).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return settle.ErrNotFound
	}
	return settle.ErrConflict
}

const gameColumns = `id, name, status, settlement_state, host_player_id, manager_pin_hash, auto_validate,
    created_at_ms, expires_at_ms, frozen_at_ms, closed_at_ms, cash_pool, credit_pool,
    total_cash_in, total_credits_issued, total_cash_out, total_credit_out, chips_in_play`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*settle.Game, error) {
	var (
		g                                        settle.Game
		status                                   string
		pinHash                                  string
		autoValidate                             int
		createdMs, expiresMs, frozenMs, closedMs int64
	)
	if err := row.Scan(
		&g.ID, &g.Name, &status, &g.SettlementState, &g.HostPlayerID, &pinHash, &autoValidate,
		&createdMs, &expiresMs, &frozenMs, &closedMs, &g.CashPool, &g.CreditPool,
		&g.Bank.TotalCashIn, &g.Bank.TotalCreditsIssued, &g.Bank.TotalCashOut, &g.Bank.TotalCreditOut, &g.Bank.ChipsInPlay,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, settle.ErrNotFound
		}
		return nil, err
	}
	parsed, err := settle.ParseGameStatus(status)
	if err != nil {
		return nil, err
	}
	g.Status = parsed
	if pinHash != "" {
		g.ManagerPINHash = []byte(pinHash)
	}
	g.AutoValidate = autoValidate != 0
	g.CreatedAt = timeOf(createdMs)
	g.ExpiresAt = timeOf(expiresMs)
	g.FrozenAt = timeOf(frozenMs)
	g.ClosedAt = timeOf(closedMs)
	return &g, nil
}

func (t *sqlTx) CreateGame(ctx context.Context, g *settle.Game) error {
	_, err := t.exec(ctx, `
INSERT INTO games (`+gameColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, g.ID, g.Name, g.Status.String(), g.SettlementState, g.HostPlayerID, string(g.ManagerPINHash), boolInt(g.AutoValidate),
		msOf(g.CreatedAt), msOf(g.ExpiresAt), msOf(g.FrozenAt), msOf(g.ClosedAt), g.CashPool, g.CreditPool,
		g.Bank.TotalCashIn, g.Bank.TotalCreditsIssued, g.Bank.TotalCashOut, g.Bank.TotalCreditOut, g.Bank.ChipsInPlay)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("create game %s: %w", g.ID, settle.ErrConflict)
	}
	return err
}

func (t *sqlTx) GetGame(ctx context.Context, gameID string) (*settle.Game, error) {
	return scanGame(t.queryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, gameID))
}

func (t *sqlTx) UpdateGameIf(ctx context.Context, g *settle.Game, expect settle.GameStatus) error {
	res, err := t.exec(ctx, `
UPDATE games
SET status = ?,
    settlement_state = ?,
    host_player_id = ?,
    frozen_at_ms = ?,
    closed_at_ms = ?
WHERE id = ?
  AND status = ?
`, g.Status.String(), g.SettlementState, g.HostPlayerID, msOf(g.FrozenAt), msOf(g.ClosedAt), g.ID, expect.String())
	if err != nil {
		return err
	}
	return t.casResult(ctx, res, `SELECT 1 FROM games WHERE id = ?`, g.ID)
}

func (t *sqlTx) ListExpiredOpenGames(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := t.query(ctx, `
SELECT id
FROM games
WHERE status = ?
  AND expires_at_ms > 0
  AND expires_at_ms <= ?
ORDER BY expires_at_ms ASC
`, settle.GameOpen.String(), msOf(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const playerColumns = `id, game_id, name, is_host, active, joined_at_ms, checkout_status,
    has_frozen, frozen_cash_in, frozen_credit_in, frozen_total,
    submitted_chip_count, preferred_cash, preferred_credit,
    validated_chip_count, credit_repaid, chips_after_credit, credits_owed,
    distribution_json, fallback_credit_json, input_locked, checked_out, checked_out_at_ms,
    final_chip_count, profit_loss`

func scanPlayer(row rowScanner) (*settle.Player, error) {
	var (
		p                                 settle.Player
		isHost, active                    int
		joinedMs, checkedOutMs            int64
		status                            string
		hasFrozen                         int
		frozenCash, frozenCredit, frozenT int64
		distJSON, fallbackJSON            string
		inputLocked, checkedOut           int
	)
	if err := row.Scan(
		&p.ID, &p.GameID, &p.Name, &isHost, &active, &joinedMs, &status,
		&hasFrozen, &frozenCash, &frozenCredit, &frozenT,
		&p.SubmittedChipCount, &p.PreferredCash, &p.PreferredCredit,
		&p.ValidatedChipCount, &p.CreditRepaid, &p.ChipsAfterCredit, &p.CreditsOwed,
		&distJSON, &fallbackJSON, &inputLocked, &checkedOut, &checkedOutMs, &p.FinalChipCount, &p.ProfitLoss,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, settle.ErrNotFound
		}
		return nil, err
	}
	parsed, err := settle.ParseCheckoutStatus(status)
	if err != nil {
		return nil, err
	}
	p.CheckoutStatus = parsed
	p.IsHost = isHost != 0
	p.Active = active != 0
	p.JoinedAt = timeOf(joinedMs)
	if hasFrozen != 0 {
		p.FrozenBuyIn = &settle.FrozenBuyIn{TotalCashIn: frozenCash, TotalCreditIn: frozenCredit, TotalBuyIn: frozenT}
	}
	if distJSON != "" {
		var d settle.Distribution
		if err := json.Unmarshal([]byte(distJSON), &d); err != nil {
			return nil, fmt.Errorf("decode distribution of player %s: %w", p.ID, err)
		}
		p.Distribution = &d
	}
	if fallbackJSON != "" {
		if err := json.Unmarshal([]byte(fallbackJSON), &p.FallbackCredit); err != nil {
			return nil, fmt.Errorf("decode fallback credit of player %s: %w", p.ID, err)
		}
	}
	p.InputLocked = inputLocked != 0
	p.CheckedOut = checkedOut != 0
	p.CheckedOutAt = timeOf(checkedOutMs)
	return &p, nil
}

// playerArgs returns the mutable columns in playerColumns order, after id and game_id.
func playerArgs(p *settle.Player) ([]any, error) {
	var frozen settle.FrozenBuyIn
	hasFrozen := p.FrozenBuyIn != nil
	if hasFrozen {
		frozen = *p.FrozenBuyIn
	}
	distJSON := ""
	if p.Distribution != nil {
		raw, err := json.Marshal(p.Distribution)
		if err != nil {
			return nil, err
		}
		distJSON = string(raw)
	}
	fallbackJSON := ""
	if len(p.FallbackCredit) > 0 {
		raw, err := json.Marshal(p.FallbackCredit)
		if err != nil {
			return nil, err
		}
		fallbackJSON = string(raw)
	}
	return []any{
		p.Name, boolInt(p.IsHost), boolInt(p.Active), msOf(p.JoinedAt), p.CheckoutStatus.String(),
		boolInt(hasFrozen), frozen.TotalCashIn, frozen.TotalCreditIn, frozen.TotalBuyIn,
		p.SubmittedChipCount, p.PreferredCash, p.PreferredCredit,
		p.ValidatedChipCount, p.CreditRepaid, p.ChipsAfterCredit, p.CreditsOwed,
		distJSON, fallbackJSON, boolInt(p.InputLocked), boolInt(p.CheckedOut), msOf(p.CheckedOutAt), p.FinalChipCount, p.ProfitLoss,
	}, nil
}

func (t *sqlTx) CreatePlayer(ctx context.Context, p *settle.Player) error {
	args, err := playerArgs(p)
	if err != nil {
		return err
	}
	var gameExists bool
	if err := t.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = ?)`, p.GameID).Scan(&gameExists); err != nil {
		return err
	}
	if !gameExists {
		return settle.ErrNotFound
	}
	all := append([]any{p.ID, p.GameID}, args...)
	all = append(all, p.GameID)
	_, err = t.exec(ctx, `
INSERT INTO players (`+playerColumns+`, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
    (SELECT COALESCE(MAX(seq), 0) + 1 FROM players WHERE game_id = ?))
`, all...)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("create player %q: %w", p.Name, settle.ErrConflict)
	}
	return err
}

func (t *sqlTx) GetPlayer(ctx context.Context, gameID, playerID string) (*settle.Player, error) {
	return scanPlayer(t.queryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE game_id = ? AND id = ?`, gameID, playerID))
}

func (t *sqlTx) ListPlayers(ctx context.Context, gameID string) ([]*settle.Player, error) {
	rows, err := t.query(ctx, `SELECT `+playerColumns+` FROM players WHERE game_id = ? ORDER BY seq ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*settle.Player, 0, 16)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *sqlTx) UpdatePlayerIf(ctx context.Context, p *settle.Player, expect settle.CheckoutStatus) error {
	args, err := playerArgs(p)
	if err != nil {
		return err
	}
	args = append(args, p.GameID, p.ID, expect.String())
	res, err := t.exec(ctx, `
UPDATE players
SET name = ?, is_host = ?, active = ?, joined_at_ms = ?, checkout_status = ?,
    has_frozen = ?, frozen_cash_in = ?, frozen_credit_in = ?, frozen_total = ?,
    submitted_chip_count = ?, preferred_cash = ?, preferred_credit = ?,
    validated_chip_count = ?, credit_repaid = ?, chips_after_credit = ?, credits_owed = ?,
    distribution_json = ?, fallback_credit_json = ?, input_locked = ?, checked_out = ?, checked_out_at_ms = ?,
    final_chip_count = ?, profit_loss = ?
WHERE game_id = ?
  AND id = ?
  AND checkout_status = ?
`, args...)
	if err != nil {
		return err
	}
	return t.casResult(ctx, res, `SELECT 1 FROM players WHERE game_id = ? AND id = ?`, p.GameID, p.ID)
}

const buyInColumns = `id, game_id, player_id, type, amount, edited_amount, status, created_at_ms, resolved_at_ms`

func scanBuyIn(row rowScanner) (settle.BuyInRequest, error) {
	var (
		r                     settle.BuyInRequest
		typ, status           string
		createdMs, resolvedMs int64
	)
	if err := row.Scan(&r.ID, &r.GameID, &r.PlayerID, &typ, &r.Amount, &r.EditedAmount, &status, &createdMs, &resolvedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, settle.ErrNotFound
		}
		return r, err
	}
	var err error
	if r.Type, err = settle.ParseBuyInType(typ); err != nil {
		return r, err
	}
	if r.Status, err = settle.ParseBuyInStatus(status); err != nil {
		return r, err
	}
	r.CreatedAt = timeOf(createdMs)
	r.ResolvedAt = timeOf(resolvedMs)
	return r, nil
}

func (t *sqlTx) scanBuyIns(ctx context.Context, query string, args ...any) ([]settle.BuyInRequest, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]settle.BuyInRequest, 0)
	for rows.Next() {
		r, err := scanBuyIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) CreateBuyIn(ctx context.Context, r *settle.BuyInRequest) error {
	var playerExists bool
	if err := t.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE game_id = ? AND id = ?)`, r.GameID, r.PlayerID).Scan(&playerExists); err != nil {
		return err
	}
	if !playerExists {
		return settle.ErrNotFound
	}
	_, err := t.exec(ctx, `
INSERT INTO buyin_requests (`+buyInColumns+`, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM buyin_requests WHERE game_id = ?))
`, r.ID, r.GameID, r.PlayerID, r.Type.String(), r.Amount, r.EditedAmount, r.Status.String(), msOf(r.CreatedAt), msOf(r.ResolvedAt), r.GameID)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("create buy-in %s: %w", r.ID, settle.ErrConflict)
	}
	return err
}

func (t *sqlTx) GetBuyIn(ctx context.Context, gameID, requestID string) (*settle.BuyInRequest, error) {
	r, err := scanBuyIn(t.queryRow(ctx, `SELECT `+buyInColumns+` FROM buyin_requests WHERE game_id = ? AND id = ?`, gameID, requestID))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *sqlTx) ListBuyIns(ctx context.Context, gameID string) ([]settle.BuyInRequest, error) {
	return t.scanBuyIns(ctx, `SELECT `+buyInColumns+` FROM buyin_requests WHERE game_id = ? ORDER BY seq ASC`, gameID)
}

func (t *sqlTx) ResolveBuyIn(ctx context.Context, r *settle.BuyInRequest) error {
	res, err := t.exec(ctx, `
UPDATE buyin_requests
SET status = ?,
    edited_amount = ?,
    resolved_at_ms = ?
WHERE game_id = ?
  AND id = ?
  AND status = ?
`, r.Status.String(), r.EditedAmount, msOf(r.ResolvedAt), r.GameID, r.ID, settle.BuyInPending.String())
	if err != nil {
		return err
	}
	return t.casResult(ctx, res, `SELECT 1 FROM buyin_requests WHERE game_id = ? AND id = ?`, r.GameID, r.ID)
}

func (t *sqlTx) ListResolvedRequests(ctx context.Context, gameID, playerID string) ([]settle.BuyInRequest, error) {
	return t.scanBuyIns(ctx, `
SELECT `+buyInColumns+`
FROM buyin_requests
WHERE game_id = ?
  AND player_id = ?
  AND status IN (?, ?)
ORDER BY seq ASC
`, gameID, playerID, settle.BuyInApproved.String(), settle.BuyInEdited.String())
}

func (t *sqlTx) DeclineAllPending(ctx context.Context, gameID string, now time.Time) (int, error) {
	res, err := t.exec(ctx, `
UPDATE buyin_requests
SET status = ?,
    resolved_at_ms = ?
WHERE game_id = ?
  AND status = ?
`, settle.BuyInDeclined.String(), msOf(now), gameID, settle.BuyInPending.String())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *sqlTx) AdjustPool(ctx context.Context, gameID string, field PoolField, delta int64) error {
	col, err := field.column()
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE games SET `+col+` = `+col+` + ? WHERE id = ?`, delta, gameID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settle.ErrNotFound
	}
	return nil
}

func (t *sqlTx) SetPools(ctx context.Context, gameID string, cashPool, creditPool int64) error {
	res, err := t.exec(ctx, `UPDATE games SET cash_pool = ?, credit_pool = ? WHERE id = ?`, cashPool, creditPool, gameID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return settle.ErrNotFound
	}
	return nil
}

var schemaStatements = []string{
	`
CREATE TABLE IF NOT EXISTS games (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    settlement_state TEXT NOT NULL DEFAULT '',
    host_player_id TEXT NOT NULL DEFAULT '',
    manager_pin_hash TEXT NOT NULL DEFAULT '',
    auto_validate INTEGER NOT NULL DEFAULT 1,
    created_at_ms BIGINT NOT NULL,
    expires_at_ms BIGINT NOT NULL DEFAULT 0,
    frozen_at_ms BIGINT NOT NULL DEFAULT 0,
    closed_at_ms BIGINT NOT NULL DEFAULT 0,
    cash_pool BIGINT NOT NULL DEFAULT 0,
    credit_pool BIGINT NOT NULL DEFAULT 0,
    total_cash_in BIGINT NOT NULL DEFAULT 0,
    total_credits_issued BIGINT NOT NULL DEFAULT 0,
    total_cash_out BIGINT NOT NULL DEFAULT 0,
    total_credit_out BIGINT NOT NULL DEFAULT 0,
    chips_in_play BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_games_status_expires ON games(status, expires_at_ms)`,
	`
CREATE TABLE IF NOT EXISTS players (
    id TEXT PRIMARY KEY,
    game_id TEXT NOT NULL REFERENCES games(id),
    seq BIGINT NOT NULL,
    name TEXT NOT NULL,
    is_host INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    joined_at_ms BIGINT NOT NULL,
    checkout_status TEXT NOT NULL DEFAULT '',
    has_frozen INTEGER NOT NULL DEFAULT 0,
    frozen_cash_in BIGINT NOT NULL DEFAULT 0,
    frozen_credit_in BIGINT NOT NULL DEFAULT 0,
    frozen_total BIGINT NOT NULL DEFAULT 0,
    submitted_chip_count BIGINT NOT NULL DEFAULT 0,
    preferred_cash BIGINT NOT NULL DEFAULT 0,
    preferred_credit BIGINT NOT NULL DEFAULT 0,
    validated_chip_count BIGINT NOT NULL DEFAULT 0,
    credit_repaid BIGINT NOT NULL DEFAULT 0,
    chips_after_credit BIGINT NOT NULL DEFAULT 0,
    credits_owed BIGINT NOT NULL DEFAULT 0,
    distribution_json TEXT NOT NULL DEFAULT '',
    fallback_credit_json TEXT NOT NULL DEFAULT '',
    input_locked INTEGER NOT NULL DEFAULT 0,
    checked_out INTEGER NOT NULL DEFAULT 0,
    checked_out_at_ms BIGINT NOT NULL DEFAULT 0,
    final_chip_count BIGINT NOT NULL DEFAULT 0,
    profit_loss BIGINT NOT NULL DEFAULT 0,
    UNIQUE (game_id, name)
)`,
	`CREATE INDEX IF NOT EXISTS idx_players_game_seq ON players(game_id, seq)`,
	`
CREATE TABLE IF NOT EXISTS buyin_requests (
    id TEXT PRIMARY KEY,
    game_id TEXT NOT NULL REFERENCES games(id),
    player_id TEXT NOT NULL REFERENCES players(id),
    seq BIGINT NOT NULL,
    type TEXT NOT NULL,
    amount BIGINT NOT NULL,
    edited_amount BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    resolved_at_ms BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_buyin_requests_player ON buyin_requests(game_id, player_id, status)`,
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
