package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(selector, strategy string, at time.Duration, ok bool) models.PerformanceRecord {
	outcome := models.OutcomeMatched
	if !ok {
		outcome = models.OutcomeNoMatch
	}
	return models.PerformanceRecord{
		SelectorID: selector,
		StrategyID: strategy,
		Timestamp:  base.Add(at),
		Success:    ok,
		Confidence: 0.8,
		Duration:   12 * time.Millisecond,
		Outcome:    outcome,
	}
}

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Ledger{"memory": NewMemory(), "sqlite": sq}
}

func TestQuery_OrderAndRange(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			// appended out of order; two share a timestamp
			require.NoError(t, l.Append(ctx, rec("price", "b", 2*time.Second, true)))
			require.NoError(t, l.Append(ctx, rec("price", "a", time.Second, false)))
			require.NoError(t, l.Append(ctx, rec("price", "c", 2*time.Second, true)))
			require.NoError(t, l.Append(ctx, rec("title", "a", time.Second, true)))
			require.NoError(t, l.Append(ctx, rec("price", "d", time.Hour, true)))

			got, err := l.Query(ctx, "price", base, base.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].StrategyID, got[1].StrategyID, got[2].StrategyID})
			assert.False(t, got[0].Success)
			assert.Equal(t, models.OutcomeNoMatch, got[0].Outcome)
			assert.Equal(t, 12*time.Millisecond, got[1].Duration)
			assert.True(t, got[1].Timestamp.Equal(base.Add(2*time.Second)))
		})
	}
}

func TestQuery_NeverShrinksWithoutPrune(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			prev := 0
			for i := 0; i < 20; i++ {
				require.NoError(t, l.Append(ctx, rec("price", "a", time.Duration(i)*time.Second, i%2 == 0)))
				got, err := l.Query(ctx, "price", base, base.Add(time.Hour))
				require.NoError(t, err)
				assert.Equal(t, prev+1, len(got))
				prev = len(got)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				require.NoError(t, l.Append(ctx, rec("price", "a", time.Duration(i)*time.Minute, true)))
			}
			n, err := l.Prune(ctx, base.Add(4*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			got, err := l.Query(ctx, "price", base, base.Add(time.Hour))
			require.NoError(t, err)
			assert.Len(t, got, 6)
			assert.True(t, got[0].Timestamp.Equal(base.Add(4*time.Minute)))
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				failed []error
			)
			for w := 0; w < 16; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						if err := l.Append(ctx, rec("price", "a", time.Duration(i)*time.Millisecond, true)); err != nil {
							mu.Lock()
							failed = append(failed, err)
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()
			require.Empty(t, failed)

			recs, err := l.Query(ctx, "price", time.Time{}, base.Add(time.Hour))
			require.NoError(t, err)
			assert.Len(t, recs, 1600)
		})
	}
}

func TestSQLite_Pragmas(t *testing.T) {
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer sq.Close()

	var mode string
	require.NoError(t, sq.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	var timeout int
	require.NoError(t, sq.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestFilterStrategy(t *testing.T) {
	recs := []models.PerformanceRecord{rec("p", "a", 0, true), rec("p", "b", 0, true), rec("p", "a", 0, false)}
	assert.Len(t, FilterStrategy(recs, "a"), 2)
	assert.Empty(t, FilterStrategy(recs, "z"))
}

func TestRunRetention_StopsOnCancel(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Append(context.Background(), models.PerformanceRecord{
		SelectorID: "price", StrategyID: "a", Timestamp: time.Now().Add(-time.Hour),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRetention(ctx, m, time.Minute, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}
