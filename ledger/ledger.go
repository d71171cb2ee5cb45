// Package ledger stores the outcome of every resolution attempt.
//
// The ledger is append-only: entries are never altered once written and are
// removed only by retention pruning.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/pinpoint/models"
)

// Ledger is an append-only store of performance records.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Append adds one record.
	Append(ctx context.Context, rec models.PerformanceRecord) error
	// Query returns a selector's records with from <= Timestamp <= to,
	// ordered by timestamp and then by append order.
	Query(ctx context.Context, selectorID string, from, to time.Time) ([]models.PerformanceRecord, error)
	// Prune removes records older than cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// FilterStrategy keeps the records belonging to one strategy.
func FilterStrategy(recs []models.PerformanceRecord, strategyID string) []models.PerformanceRecord {
	var out []models.PerformanceRecord
	for _, r := range recs {
		if r.StrategyID == strategyID {
			out = append(out, r)
		}
	}
	return out
}

// RunRetention prunes records older than maxAge every interval until ctx
// is done. Errors are logged; the loop keeps running.
func RunRetention(ctx context.Context, l Ledger, maxAge, interval time.Duration) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Prune(ctx, time.Now().Add(-maxAge))
			if err != nil {
				slog.Warn("ledger retention prune failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("ledger retention pruned records", "removed", n, "maxAge", maxAge)
			}
		}
	}
}
