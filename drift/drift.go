// Package drift detects changes in strategy success rates over time.
package drift

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
)

// Floor for MinSamples. Fewer records are never enough to call a trend.
const minSamplesFloor = 30

// Detector reads ledger windows and reports trends.
type Detector struct {
	ledger ledger.Ledger
	cfg    config.DriftConfig
	now    func() time.Time
}

// NewDetector creates a Detector, normalizing cfg.
func NewDetector(l ledger.Ledger, cfg config.DriftConfig) *Detector {
	return &Detector{ledger: l, cfg: Normalize(cfg), now: time.Now}
}

// Normalize applies floors and defaults to cfg.
func Normalize(cfg config.DriftConfig) config.DriftConfig {
	if cfg.MinSamples < minSamplesFloor {
		cfg.MinSamples = minSamplesFloor
	}
	if cfg.SubWindows < 2 {
		cfg.SubWindows = 5
	}
	if cfg.DeadBand < 0 {
		cfg.DeadBand = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return cfg
}

// Config returns the normalized configuration.
func (d *Detector) Config() config.DriftConfig { return d.cfg }

// Analyze reports the trend of a selector across all of its strategies.
// A non-positive window uses the configured default.
func (d *Detector) Analyze(ctx context.Context, selectorID string, window time.Duration) (models.DriftReport, error) {
	return d.analyze(ctx, selectorID, "", window)
}

// AnalyzeStrategy reports the trend of one strategy of a selector.
func (d *Detector) AnalyzeStrategy(ctx context.Context, selectorID, strategyID string, window time.Duration) (models.DriftReport, error) {
	return d.analyze(ctx, selectorID, strategyID, window)
}

func (d *Detector) analyze(ctx context.Context, selectorID, strategyID string, window time.Duration) (models.DriftReport, error) {
	if window <= 0 {
		window = d.cfg.Window
	}
	to := d.now()
	from := to.Add(-window)
	recs, err := d.ledger.Query(ctx, selectorID, from, to)
	if err != nil {
		return models.DriftReport{}, fmt.Errorf("drift: query ledger: %w", err)
	}
	if strategyID != "" {
		recs = ledger.FilterStrategy(recs, strategyID)
	}
	report := Compute(recs, d.cfg)
	report.SelectorID = selectorID
	report.StrategyID = strategyID
	report.From = from
	report.To = to
	return report, nil
}

// Compute derives a report from time-ordered records. It is pure: the
// same records and configuration always give the same report.
func Compute(recs []models.PerformanceRecord, cfg config.DriftConfig) models.DriftReport {
	cfg = Normalize(cfg)
	report := models.DriftReport{Samples: len(recs)}
	if len(recs) < cfg.MinSamples {
		report.Trend = models.TrendInsufficientData
		return report
	}

	k := cfg.SubWindows
	if k > len(recs) {
		k = len(recs)
	}
	rates := make([]float64, k)
	n := len(recs)
	for i := 0; i < k; i++ {
		lo, hi := i*n/k, (i+1)*n/k
		ok := 0
		for _, r := range recs[lo:hi] {
			if r.Success {
				ok++
			}
		}
		rates[i] = float64(ok) / float64(hi-lo)
	}

	report.SubWindowRates = rates
	report.Slope = slope(rates)
	report.Volatility = variance(rates)
	report.Delta = rates[k-1] - rates[0]

	switch {
	case report.Slope > cfg.DeadBand:
		report.Trend = models.TrendImproving
	case report.Slope < -cfg.DeadBand:
		report.Trend = models.TrendDegrading
	default:
		report.Trend = models.TrendStable
	}
	return report
}

// slope is the least-squares slope of ys over their indexes.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	xMean := (n - 1) / 2
	yMean := mean(ys)
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	return num / den
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance of xs.
func variance(xs []float64) float64 {
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs))
}
