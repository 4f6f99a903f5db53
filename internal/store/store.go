// Package store persists stocks and their OHLCV candles in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/finsight-ai/finsight/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

//go:embed migrations/002_financials.sql
var migrationV2 string

// Store is a SQLite-backed stock/candle store. One write connection
// (SQLite allows a single writer) and a pooled read-only connection.
type Store struct {
	dbPath string
	db     *sql.DB // write connection
	readDB *sql.DB // read-only connection
}

// New opens (and migrates) the store at dbPath.
func New(dbPath string) (*Store, error) {
	s := &Store{dbPath: dbPath}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1, migrationV2}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}

// Close closes both connections.
func (s *Store) Close() error {
	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.readDB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UpsertStock inserts or updates a stock by code and fills in its ID.
func (s *Store) UpsertStock(ctx context.Context, stock *core.Stock) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stocks (code, name, exchange, industry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			industry = excluded.industry,
			updated_at = excluded.updated_at`,
		stock.Code, stock.Name, stock.Exchange, stock.Industry, now, now)
	if err != nil {
		return fmt.Errorf("upserting stock %s: %w", stock.Code, err)
	}
	return s.readDB.QueryRowContext(ctx,
		"SELECT id FROM stocks WHERE code = ?", stock.Code).Scan(&stock.ID)
}

// GetStock returns a stock by code.
func (s *Store) GetStock(ctx context.Context, code string) (*core.Stock, error) {
	var stock core.Stock
	err := s.readDB.QueryRowContext(ctx,
		"SELECT id, code, name, exchange, industry FROM stocks WHERE code = ?", code).
		Scan(&stock.ID, &stock.Code, &stock.Name, &stock.Exchange, &stock.Industry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("stock", code)
	}
	if err != nil {
		return nil, fmt.Errorf("querying stock %s: %w", code, err)
	}
	return &stock, nil
}

// ListStocks returns a page of stocks, optionally filtered by a
// keyword matched against code and name, plus the total match count.
func (s *Store) ListStocks(ctx context.Context, keyword string, limit, offset int) ([]core.Stock, int, error) {
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []any{}
	if keyword != "" {
		where = "WHERE code LIKE ? OR name LIKE ?"
		pattern := "%" + keyword + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stocks "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting stocks: %w", err)
	}

	query := "SELECT id, code, name, exchange, industry FROM stocks " + where +
		" ORDER BY code LIMIT ? OFFSET ?"
	rows, err := s.readDB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing stocks: %w", err)
	}
	defer rows.Close()

	stocks := make([]core.Stock, 0, limit)
	for rows.Next() {
		var st core.Stock
		if err := rows.Scan(&st.ID, &st.Code, &st.Name, &st.Exchange, &st.Industry); err != nil {
			return nil, 0, fmt.Errorf("scanning stock: %w", err)
		}
		stocks = append(stocks, st)
	}
	return stocks, total, rows.Err()
}

// DeleteStock removes a stock and (via cascade) its candles.
func (s *Store) DeleteStock(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stocks WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("deleting stock %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("stock", code)
	}
	return nil
}

// UpsertCandles writes a batch of candles for one stock in a single
// transaction, replacing rows with the same (date, resolution).
func (s *Store) UpsertCandles(ctx context.Context, stockID int64, candles []core.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning candle transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (stock_id, date, resolution, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_id, date, resolution) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			turnover = excluded.turnover`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		resolution := c.Resolution
		if resolution == "" {
			resolution = "1d"
		}
		if _, err := stmt.ExecContext(ctx, stockID, c.Date, resolution,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upserting candle %s: %w", c.Date, err)
		}
	}
	return tx.Commit()
}

// UpsertFinancial replaces the stock's fundamentals snapshot.
func (s *Store) UpsertFinancial(ctx context.Context, stockID int64, fin core.Financial) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO financials (stock_id, date, pe, pb, market_cap, roe)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_id) DO UPDATE SET
			date = excluded.date,
			pe = excluded.pe,
			pb = excluded.pb,
			market_cap = excluded.market_cap,
			roe = excluded.roe`,
		stockID, fin.Date, fin.PE, fin.PB, fin.MarketCap, fin.ROE)
	if err != nil {
		return fmt.Errorf("upserting financials for stock %d: %w", stockID, err)
	}
	return nil
}

// GetFinancial returns the stock's fundamentals snapshot.
func (s *Store) GetFinancial(ctx context.Context, stockID int64) (*core.Financial, error) {
	var fin core.Financial
	err := s.readDB.QueryRowContext(ctx, `
		SELECT stock_id, date, pe, pb, market_cap, roe
		FROM financials WHERE stock_id = ?`, stockID).
		Scan(&fin.StockID, &fin.Date, &fin.PE, &fin.PB, &fin.MarketCap, &fin.ROE)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("financials", fmt.Sprintf("stock %d", stockID))
	}
	if err != nil {
		return nil, fmt.Errorf("querying financials for stock %d: %w", stockID, err)
	}
	return &fin, nil
}

// RecentCandles returns up to limit candles for a stock at a
// resolution, newest first.
func (s *Store) RecentCandles(ctx context.Context, stockID int64, resolution string, limit int) ([]core.Candle, error) {
	if resolution == "" {
		resolution = "1d"
	}
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT stock_id, date, resolution, open, high, low, close, volume, turnover
		FROM candles
		WHERE stock_id = ? AND resolution = ?
		ORDER BY date DESC
		LIMIT ?`, stockID, resolution, limit)
	if err != nil {
		return nil, fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// CandleRange returns candles for a stock between from and to
// (inclusive, YYYY-MM-DD), oldest first.
func (s *Store) CandleRange(ctx context.Context, stockID int64, resolution, from, to string) ([]core.Candle, error) {
	if resolution == "" {
		resolution = "1d"
	}
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT stock_id, date, resolution, open, high, low, close, volume, turnover
		FROM candles
		WHERE stock_id = ? AND resolution = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, stockID, resolution, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying candle range: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]core.Candle, error) {
	var candles []core.Candle
	for rows.Next() {
		var c core.Candle
		if err := rows.Scan(&c.StockID, &c.Date, &c.Resolution,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover); err != nil {
			return nil, fmt.Errorf("scanning candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
