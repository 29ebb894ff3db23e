package storage

// sqlite.go: histórico de pools, snapshots y trades.
//
// Estrategia:
//   - `pools`: UNA fila por pool (UPSERT en cada transición de estado).
//   - `pool_snapshots`: append-only, una fila por lectura exitosa.
//   - `trades`: una fila por posición cerrada.
//   - Los tiempos se guardan como unix ms: comparables y sin ambigüedad de zona.
//   - Prune automático al arrancar: snapshots > 7d.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
    pool_id         TEXT PRIMARY KEY,
    base_mint       TEXT    NOT NULL,
    quote_mint      TEXT    NOT NULL,
    base_vault      TEXT    NOT NULL,
    quote_vault     TEXT    NOT NULL,
    base_decimals   INTEGER NOT NULL DEFAULT 0,
    quote_decimals  INTEGER NOT NULL DEFAULT 0,
    state           TEXT    NOT NULL,
    reason          TEXT    NOT NULL DEFAULT '',
    discovered_at   INTEGER NOT NULL,
    exists_since    INTEGER,
    ready_since     INTEGER,
    terminated_at   INTEGER,
    baseline_price  REAL,
    baseline_tvl    REAL,
    priority_tier   TEXT    NOT NULL DEFAULT '',
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pool_snapshots (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    pool_id          TEXT    NOT NULL,
    ts               INTEGER NOT NULL,
    base_reserve     REAL    NOT NULL,
    quote_reserve    REAL    NOT NULL,
    base_raw         INTEGER NOT NULL,
    quote_raw        INTEGER NOT NULL,
    price            REAL    NOT NULL,
    tvl              REAL    NOT NULL,
    price_change_pct REAL    NOT NULL DEFAULT 0,
    tvl_change_pct   REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
    position_id  TEXT PRIMARY KEY,
    pool_id      TEXT    NOT NULL,
    entry_price  REAL    NOT NULL,
    exit_price   REAL    NOT NULL,
    entry_time   INTEGER NOT NULL,
    exit_time    INTEGER NOT NULL,
    invested     REAL    NOT NULL,
    returned     REAL    NOT NULL,
    pnl_pct      REAL    NOT NULL,
    reason       TEXT    NOT NULL,
    is_re_entry  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pools_state     ON pools(state);
CREATE INDEX IF NOT EXISTS idx_snapshots_pool  ON pool_snapshots(pool_id, ts);
CREATE INDEX IF NOT EXISTS idx_trades_exit     ON trades(exit_time DESC);
`

const retentionSnapshots = 7 * 24 * time.Hour

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia snapshots antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// UpsertPool guarda el estado actual del pool.
func (s *SQLiteStorage) UpsertPool(ctx context.Context, p domain.PoolRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools
			(pool_id, base_mint, quote_mint, base_vault, quote_vault,
			 base_decimals, quote_decimals, state, reason, discovered_at,
			 exists_since, ready_since, terminated_at, baseline_price, baseline_tvl,
			 priority_tier, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			state          = excluded.state,
			reason         = excluded.reason,
			exists_since   = excluded.exists_since,
			ready_since    = excluded.ready_since,
			terminated_at  = excluded.terminated_at,
			baseline_price = excluded.baseline_price,
			baseline_tvl   = excluded.baseline_tvl,
			priority_tier  = excluded.priority_tier,
			updated_at     = excluded.updated_at
	`,
		p.PoolID, p.BaseMint, p.QuoteMint, p.BaseVaultAddr, p.QuoteVaultAddr,
		int(p.BaseDecimals), int(p.QuoteDecimals), string(p.State), p.FailureReason,
		toMillis(p.DiscoveredAt),
		nullMillis(p.ExistsSince), nullMillis(p.ReadySince), nullMillis(p.TerminatedAt),
		nullFloat(p.BaselinePrice), nullFloat(p.BaselineTVL),
		string(p.PriorityTier), toMillis(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPool %s: %w", p.PoolID, err)
	}
	return nil
}

// GetPool devuelve la última proyección persistida de un pool.
func (s *SQLiteStorage) GetPool(ctx context.Context, poolID string) (domain.PoolRecord, error) {
	var (
		p                          domain.PoolRecord
		baseDec, quoteDec          int
		state, tier                string
		discovered                 int64
		exists, ready, terminated  sql.NullInt64
		baselinePrice, baselineTVL sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT pool_id, base_mint, quote_mint, base_vault, quote_vault,
		       base_decimals, quote_decimals, state, reason, discovered_at,
		       exists_since, ready_since, terminated_at, baseline_price, baseline_tvl,
		       priority_tier
		FROM pools WHERE pool_id = ?
	`, poolID).Scan(
		&p.PoolID, &p.BaseMint, &p.QuoteMint, &p.BaseVaultAddr, &p.QuoteVaultAddr,
		&baseDec, &quoteDec, &state, &p.FailureReason, &discovered,
		&exists, &ready, &terminated, &baselinePrice, &baselineTVL,
		&tier,
	)
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("storage.GetPool %s: %w", poolID, err)
	}

	p.BaseDecimals = uint8(baseDec)
	p.QuoteDecimals = uint8(quoteDec)
	p.State = domain.PoolState(state)
	p.PriorityTier = domain.PriorityTier(tier)
	p.DiscoveredAt = fromMillis(discovered)
	p.ExistsSince = ptrMillis(exists)
	p.ReadySince = ptrMillis(ready)
	p.TerminatedAt = ptrMillis(terminated)
	p.BaselinePrice = ptrFloat(baselinePrice)
	p.BaselineTVL = ptrFloat(baselineTVL)
	return p, nil
}

// AppendSnapshot agrega un snapshot al histórico.
func (s *SQLiteStorage) AppendSnapshot(ctx context.Context, snap domain.MetricsSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_snapshots
			(pool_id, ts, base_reserve, quote_reserve, base_raw, quote_raw,
			 price, tvl, price_change_pct, tvl_change_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.PoolID, toMillis(snap.Timestamp), snap.BaseReserve, snap.QuoteReserve,
		int64(snap.BaseReserveRaw), int64(snap.QuoteReserveRaw),
		snap.Price, snap.TVL, snap.PriceChangePct, snap.TVLChangePct,
	)
	if err != nil {
		return fmt.Errorf("storage.AppendSnapshot %s: %w", snap.PoolID, err)
	}
	return nil
}

// GetSnapshots devuelve los snapshots del pool en [from, to], en orden temporal.
func (s *SQLiteStorage) GetSnapshots(ctx context.Context, poolID string, from, to time.Time) ([]domain.MetricsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, base_reserve, quote_reserve, base_raw, quote_raw,
		       price, tvl, price_change_pct, tvl_change_pct
		FROM pool_snapshots
		WHERE pool_id = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC, id ASC
	`, poolID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("storage.GetSnapshots: query: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricsSnapshot
	for rows.Next() {
		snap := domain.MetricsSnapshot{PoolID: poolID}
		var ts, baseRaw, quoteRaw int64
		if err := rows.Scan(
			&ts, &snap.BaseReserve, &snap.QuoteReserve, &baseRaw, &quoteRaw,
			&snap.Price, &snap.TVL, &snap.PriceChangePct, &snap.TVLChangePct,
		); err != nil {
			return nil, fmt.Errorf("storage.GetSnapshots: scan row: %w", err)
		}
		snap.Timestamp = fromMillis(ts)
		snap.BaseReserveRaw = uint64(baseRaw)
		snap.QuoteReserveRaw = uint64(quoteRaw)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// AppendTrade agrega una posición cerrada. Reinsertar la misma posición no duplica.
func (s *SQLiteStorage) AppendTrade(ctx context.Context, t domain.PositionExitRecord) error {
	reEntry := 0
	if t.IsReEntry {
		reEntry = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(position_id, pool_id, entry_price, exit_price, entry_time, exit_time,
			 invested, returned, pnl_pct, reason, is_re_entry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.PositionID, t.PoolID, t.EntryPrice, t.ExitPrice,
		toMillis(t.EntryTime), toMillis(t.ExitTime),
		t.InvestedAmount, t.ReturnedAmount, t.PnLPct, string(t.Reason), reEntry,
	)
	if err != nil {
		return fmt.Errorf("storage.AppendTrade %s: %w", t.PositionID, err)
	}
	return nil
}

// GetTrades devuelve todos los trades, más recientes primero.
func (s *SQLiteStorage) GetTrades(ctx context.Context) ([]domain.PositionExitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, pool_id, entry_price, exit_price, entry_time, exit_time,
		       invested, returned, pnl_pct, reason, is_re_entry
		FROM trades
		ORDER BY exit_time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PositionExitRecord
	for rows.Next() {
		var (
			t           domain.PositionExitRecord
			entry, exit int64
			reason      string
			reEntry     int
		)
		if err := rows.Scan(
			&t.PositionID, &t.PoolID, &t.EntryPrice, &t.ExitPrice, &entry, &exit,
			&t.InvestedAmount, &t.ReturnedAmount, &t.PnLPct, &reason, &reEntry,
		); err != nil {
			return nil, fmt.Errorf("storage.GetTrades: scan row: %w", err)
		}
		t.EntryTime = fromMillis(entry)
		t.ExitTime = fromMillis(exit)
		t.Reason = domain.ExitReason(reason)
		t.IsReEntry = reEntry == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTradeStats agrega todos los trades. Un cierre por rug nunca cuenta como win.
func (s *SQLiteStorage) GetTradeStats(ctx context.Context) (domain.TradeStats, error) {
	stats := domain.TradeStats{ByReason: make(map[domain.ExitReason]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl_pct > 0 AND reason != 'rug' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(pnl_pct), 0),
		       COALESCE(MAX(pnl_pct), 0),
		       COALESCE(MIN(pnl_pct), 0)
		FROM trades
	`).Scan(&stats.Trades, &stats.Wins, &stats.AvgPnLPct, &stats.BestPct, &stats.WorstPct)
	if err != nil {
		return stats, fmt.Errorf("storage.GetTradeStats: totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM trades GROUP BY reason`)
	if err != nil {
		return stats, fmt.Errorf("storage.GetTradeStats: by reason: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return stats, fmt.Errorf("storage.GetTradeStats: scan row: %w", err)
		}
		stats.ByReason[domain.ExitReason(reason)] = n
	}
	return stats, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina snapshots antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := toMillis(time.Now().UTC().Add(-retentionSnapshots))
	s.db.ExecContext(ctx, `DELETE FROM pool_snapshots WHERE ts < ?`, cutoff)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func ptrMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptrFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
