package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/use-agent/pinpoint/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS performance_records (
  seq            INTEGER PRIMARY KEY AUTOINCREMENT,
  selector_id    TEXT    NOT NULL,
  strategy_id    TEXT    NOT NULL,
  ts             INTEGER NOT NULL,
  success        INTEGER NOT NULL,
  confidence     REAL    NOT NULL,
  duration_us    INTEGER NOT NULL,
  fallback       INTEGER NOT NULL,
  outcome        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_performance_records_selector_ts
  ON performance_records (selector_id, ts);
`

// SQLite persists records in a single table. Timestamps are stored as
// UTC unix milliseconds.
type SQLite struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// one writer at a time; appends from concurrent resolutions queue here
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, rec models.PerformanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_records
		   (selector_id, strategy_id, ts, success, confidence, duration_us, fallback, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SelectorID,
		rec.StrategyID,
		toMillis(rec.Timestamp),
		boolInt(rec.Success),
		rec.Confidence,
		rec.Duration.Microseconds(),
		boolInt(rec.Fallback),
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("append performance record: %w", err)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, selectorID string, from, to time.Time) ([]models.PerformanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT selector_id, strategy_id, ts, success, confidence, duration_us, fallback, outcome
		   FROM performance_records
		  WHERE selector_id = ? AND ts >= ? AND ts <= ?
		  ORDER BY ts, seq`,
		selectorID, toMillis(from), toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query performance records: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceRecord
	for rows.Next() {
		var (
			rec        models.PerformanceRecord
			ts, dur    int64
			ok, fallbk int
		)
		if err := rows.Scan(&rec.SelectorID, &rec.StrategyID, &ts, &ok, &rec.Confidence, &dur, &fallbk, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan performance record: %w", err)
		}
		rec.Timestamp = fromMillis(ts)
		rec.Success = ok != 0
		rec.Fallback = fallbk != 0
		rec.Duration = time.Duration(dur) * time.Microsecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance records: %w", err)
	}
	return out, nil
}

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM performance_records WHERE ts < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune performance records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(n), nil
}
