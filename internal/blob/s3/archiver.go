package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// tradeRow is the JSONL export shape, one object per line.
type tradeRow struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	EntryTime   time.Time `json:"entry_time"`
	Quantity    float64   `json:"quantity"`
	Leverage    int       `json:"leverage"`
	SideA       string    `json:"side_a"`
	SideB       string    `json:"side_b"`
	EntryPriceA *float64  `json:"entry_price_a"`
	EntryPriceB *float64  `json:"entry_price_b"`
	Status      string    `json:"status"`
}

// Archiver exports old trade ledger rows to the object store as JSONL. The
// ledger is append-only and is never pruned; the archive is an off-site copy
// for long-term audit.
type Archiver struct {
	client   *Client
	ledger   domain.TradeLedger
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver that exports records older than maxAge
// every interval.
func NewArchiver(client *Client, ledger domain.TradeLedger, maxAge, interval time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		client:   client,
		ledger:   ledger,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger.With(slog.String("component", "trade_archiver")),
		now:      time.Now,
	}
}

// Run archives on a ticker until the context is cancelled. One failed cycle
// is logged and the next tick tries again.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("trade archiver started",
		slog.Duration("interval", a.interval),
		slog.Duration("max_age", a.maxAge),
	)
	defer a.logger.Info("trade archiver stopped")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveOnce exports all records older than maxAge to a timestamped JSONL
// object. A cycle with nothing to export writes nothing.
func (a *Archiver) ArchiveOnce(ctx context.Context) error {
	cutoff := a.now().Add(-a.maxAge).UTC()

	recs, err := a.ledger.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: list trades for archive: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		row := tradeRow{
			ID:          rec.ID,
			Symbol:      rec.Symbol,
			EntryTime:   rec.EntryTime,
			Quantity:    rec.Quantity,
			Leverage:    rec.Leverage,
			SideA:       string(rec.SideA),
			SideB:       string(rec.SideB),
			EntryPriceA: rec.EntryPriceA,
			EntryPriceB: rec.EntryPriceB,
			Status:      string(rec.Status),
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("s3blob: encode trade %s: %w", rec.ID, err)
		}
	}

	key := fmt.Sprintf("trades/%s.jsonl", a.now().UTC().Format("2006-01-02T15-04-05Z"))
	_, err = a.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put archive %s: %w", key, err)
	}

	a.logger.Info("trades archived",
		slog.String("key", key),
		slog.Int("records", len(recs)),
	)
	return nil
}
