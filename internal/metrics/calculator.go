// Package metrics holds the derived-metric calculator: spread, registered
// ratio, physical stress index and z-score anomaly detection. Everything in
// this package is a pure function of already-validated inputs; no I/O.
package metrics

import (
	"math"

	"silverpulse/pkg/contracts/domain"
)

// Defaults for anomaly detection.
const (
	DefaultExtremeZScore = 2.5
	DefaultZScoreWindow  = 90 // trailing days
	MinZScorePoints      = 10
)

// Spread returns benchmark minus spot and the spread as a percentage of spot.
func Spread(benchmarkUsdPerOz, spotUsdPerOz float64) (spread, spreadPercent float64) {
	spread = benchmarkUsdPerOz - spotUsdPerOz
	spreadPercent = spread / spotUsdPerOz * 100
	return spread, spreadPercent
}

// RegisteredPercent returns 100*registered/combined, defined as 0 when
// combined is 0.
func RegisteredPercent(registered, combined float64) float64 {
	if combined == 0 {
		return 0
	}
	return registered / combined * 100
}

// PhysicalStressIndex combines the price spread with deliverable-inventory
// scarcity: PSI = spread / (registeredPercent / 100). Undefined (nil) when
// registeredPercent is 0. The sign of the spread is kept: a benchmark
// discount yields a negative PSI, which classifies as low stress.
func PhysicalStressIndex(spreadUsdPerOz, registeredPercent float64) *float64 {
	if registeredPercent == 0 {
		return nil
	}
	psi := spreadUsdPerOz / (registeredPercent / 100)
	return &psi
}

// ClassifyStress maps a PSI value to its stress level. Thresholds are
// strict: a PSI of exactly 10 is HIGH, not EXTREME.
func ClassifyStress(psi *float64) domain.StressLevel {
	switch {
	case psi == nil:
		return domain.StressUnknown
	case *psi > 10:
		return domain.StressExtreme
	case *psi > 5:
		return domain.StressHigh
	case *psi > 2:
		return domain.StressModerate
	default:
		return domain.StressLow
	}
}

// ZScore computes (value-mean)/stddev over the historical points using the
// population standard deviation. Returns nil with fewer than MinZScorePoints
// points or when the series has no variance: insufficient data is not zero.
func ZScore(value float64, history []float64) *float64 {
	if len(history) < MinZScorePoints {
		return nil
	}

	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, v := range history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(history))

	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return nil
	}

	z := (value - mean) / stdDev
	return &z
}

// IsExtreme reports whether |z| exceeds the threshold. A nil z-score is
// never extreme.
func IsExtreme(z *float64, threshold float64) bool {
	if z == nil {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultExtremeZScore
	}
	return math.Abs(*z) > threshold
}

// Reconcile assembles the full derived record from the three upstream inputs
// plus the trailing spread history used for anomaly detection.
func Reconcile(benchmark domain.BenchmarkPrice, spot domain.SpotPrice, stock domain.StockSnapshot, spreadHistory []float64, extremeThreshold float64) domain.DailySpread {
	spread, spreadPercent := Spread(benchmark.PriceUsdPerOz, spot.PriceUsdPerOz)
	registeredPercent := RegisteredPercent(stock.Registered, stock.Combined)
	psi := PhysicalStressIndex(spread, registeredPercent)
	z := ZScore(spread, spreadHistory)

	return domain.DailySpread{
		Date:              benchmark.Date,
		BenchmarkUsdPerOz: benchmark.PriceUsdPerOz,
		SpotUsdPerOz:      spot.PriceUsdPerOz,
		SpreadUsdPerOz:    spread,
		SpreadPercent:     spreadPercent,
		Registered:        stock.Registered,
		Eligible:          stock.Eligible,
		Combined:          stock.Combined,
		RegisteredPercent: registeredPercent,
		PSI:               psi,
		StressLevel:       ClassifyStress(psi),
		ZScore:            z,
		IsExtreme:         IsExtreme(z, extremeThreshold),
	}
}
