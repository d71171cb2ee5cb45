package drift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
)

var start = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func series(strategy string, outcomes []bool) []models.PerformanceRecord {
	recs := make([]models.PerformanceRecord, len(outcomes))
	for i, ok := range outcomes {
		recs[i] = models.PerformanceRecord{
			SelectorID: "price",
			StrategyID: strategy,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
			Success:    ok,
		}
	}
	return recs
}

// degrading returns 25 records at 0.96 followed by 25 at 0.40.
func degrading() []bool {
	out := make([]bool, 50)
	for i := 0; i < 25; i++ {
		out[i] = i != 12
	}
	for j := 0; j < 25; j++ {
		out[25+j] = j%5 < 2
	}
	return out
}

var cfg = config.DriftConfig{MinSamples: 30, SubWindows: 5, DeadBand: 0.02}

func TestCompute_Degrading(t *testing.T) {
	r := Compute(series("a", degrading()), cfg)
	assert.Equal(t, models.TrendDegrading, r.Trend)
	assert.Equal(t, 50, r.Samples)
	require.Len(t, r.SubWindowRates, 5)
	assert.InDeltaSlice(t, []float64{1.0, 0.9, 0.7, 0.4, 0.4}, r.SubWindowRates, 1e-9)
	assert.InDelta(t, -0.6, r.Delta, 1e-9)
	assert.Less(t, r.Slope, 0.0)
	assert.Greater(t, r.Volatility, 0.0)
}

func TestCompute_Improving(t *testing.T) {
	out := degrading()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	r := Compute(series("a", out), cfg)
	assert.Equal(t, models.TrendImproving, r.Trend)
	assert.Greater(t, r.Delta, 0.0)
}

func TestCompute_Stable(t *testing.T) {
	out := make([]bool, 40)
	for i := range out {
		out[i] = i%2 == 0
	}
	r := Compute(series("a", out), cfg)
	assert.Equal(t, models.TrendStable, r.Trend)
	assert.InDelta(t, 0.0, r.Volatility, 1e-12)
	assert.InDelta(t, 0.0, r.Delta, 1e-12)
}

func TestCompute_InsufficientData(t *testing.T) {
	r := Compute(series("a", make([]bool, 29)), cfg)
	assert.Equal(t, models.TrendInsufficientData, r.Trend)
	assert.Equal(t, 29, r.Samples)
	assert.Nil(t, r.SubWindowRates)
}

func TestCompute_MinSamplesFloor(t *testing.T) {
	low := config.DriftConfig{MinSamples: 5, SubWindows: 5}
	r := Compute(series("a", make([]bool, 10)), low)
	assert.Equal(t, models.TrendInsufficientData, r.Trend)
	assert.Equal(t, 30, Normalize(low).MinSamples)
}

func TestCompute_Deterministic(t *testing.T) {
	recs := series("a", degrading())
	assert.Equal(t, Compute(recs, cfg), Compute(recs, cfg))
}

func TestDetector_AnalyzeStrategy(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	for _, r := range series("a", degrading()) {
		require.NoError(t, l.Append(ctx, r))
	}
	// a second healthy strategy
	healthy := make([]bool, 40)
	for i := range healthy {
		healthy[i] = true
	}
	for _, r := range series("b", healthy) {
		require.NoError(t, l.Append(ctx, r))
	}

	d := NewDetector(l, cfg)
	d.now = func() time.Time { return start.Add(2 * time.Hour) }

	ra, err := d.AnalyzeStrategy(ctx, "price", "a", 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, models.TrendDegrading, ra.Trend)
	assert.Equal(t, "a", ra.StrategyID)
	assert.Equal(t, start.Add(-time.Hour), ra.From)

	rb, err := d.AnalyzeStrategy(ctx, "price", "b", 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, models.TrendStable, rb.Trend)

	all, err := d.Analyze(ctx, "price", 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90, all.Samples)

	// window excludes everything
	none, err := d.Analyze(ctx, "price", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.TrendInsufficientData, none.Trend)
}
