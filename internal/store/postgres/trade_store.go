package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// TradeStore implements domain.TradeLedger using PostgreSQL. Rows are only
// ever inserted; there is no update or delete path.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, entry_time, quantity, leverage,
	side_a, side_b, entry_price_a, entry_price_b, status`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.EntryTime, &r.Quantity, &r.Leverage,
			&r.SideA, &r.SideB, &r.EntryPriceA, &r.EntryPriceB, &r.Status,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Append inserts one trade record and returns its id.
func (s *TradeStore) Append(ctx context.Context, rec domain.TradeRecord) (string, error) {
	const query = `
		INSERT INTO trades (
			id, symbol, entry_time, quantity, leverage,
			side_a, side_b, entry_price_a, entry_price_b, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.EntryTime, rec.Quantity, rec.Leverage,
		rec.SideA, rec.SideB, rec.EntryPriceA, rec.EntryPriceB, rec.Status,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: append trade: %w", err)
	}
	return rec.ID, nil
}

// ListRecent returns up to limit records, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY entry_time DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return recs, nil
}

// ListBefore returns records entered strictly before the given time, oldest
// first. Used by the archiver.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE entry_time < $1 ORDER BY entry_time ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return recs, nil
}

var _ domain.TradeLedger = (*TradeStore)(nil)
